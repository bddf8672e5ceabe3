package controller

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/deployment-orchestrator/pkg/scanners"
	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

// collectScanFindings queries every enabled scan tool about the record's
// commit, concurrently, and folds the findings into one normalized result.
// A tool whose fetch fails stays absent from the result; the security gate
// treats absent tools as blocking, so scan outages fail closed instead of
// letting unscanned code through.
func (c *Controller) collectScanFindings(ctx context.Context, record schemas.DeploymentRecord) schemas.NormalizedScanResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:collectScanFindings")
	defer span.End()
	span.SetAttributes(attribute.String("record_id", record.ID.String()))

	target := scanners.Target{
		ProjectName: record.Request.ProjectName,
		Ref:         record.Request.Ref,
		CommitSha:   record.CommitSha,
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		findings []schemas.ScanFinding
	)

	enabled := make([]schemas.ScanTool, 0, len(c.Scanners))

	for _, scanner := range c.Scanners {
		enabled = append(enabled, scanner.Tool())

		wg.Add(1)

		go func(scanner scanners.Scanner) {
			defer wg.Done()

			toolFindings, err := scanner.Fetch(ctx, target)
			if err != nil {
				log.WithContext(ctx).
					WithFields(log.Fields{
						"record-id": record.ID.String(),
						"scan-tool": scanner.Tool(),
					}).
					WithError(err).
					Warn("scan result unavailable")

				return
			}

			mu.Lock()
			findings = append(findings, toolFindings...)
			mu.Unlock()
		}(scanner)
	}

	wg.Wait()

	scan := schemas.AggregateScanFindings(findings, enabled)

	log.WithFields(log.Fields{
		"record-id":     record.ID.String(),
		"tools-count":   len(enabled),
		"unknown-tools": scan.Unknown,
	}).Debug("aggregated scan findings")

	c.emitScanMetrics(ctx, record, scan)

	return scan
}
