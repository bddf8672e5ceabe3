package scanners

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/deployment-orchestrator/pkg/config"
	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

// SecurityScanner queries a security scan tool's summary API for its
// vulnerability counts by severity. The same client serves SAST, SCA and
// IaC, which share the summary wire format.
type SecurityScanner struct {
	client

	tool schemas.ScanTool
}

// securitySummary is the wire format of the security scan result APIs.
type securitySummary struct {
	Critical    float64   `json:"critical"`
	High        float64   `json:"high"`
	Medium      float64   `json:"medium"`
	CollectedAt time.Time `json:"collected_at"`
}

// NewSecurityScanner returns a scanner for one of the security scan tools.
func NewSecurityScanner(tool schemas.ScanTool, cfg config.ScanTool, timeout time.Duration, requestsPerSecond int) *SecurityScanner {
	return &SecurityScanner{
		client: newClient(cfg, timeout, requestsPerSecond),
		tool:   tool,
	}
}

// Tool returns the tool identity of the scanner.
func (s *SecurityScanner) Tool() schemas.ScanTool {
	return s.tool
}

// Fetch retrieves the severity summary of the target and maps it onto
// normalized scan findings.
func (s *SecurityScanner) Fetch(ctx context.Context, target Target) ([]schemas.ScanFinding, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "scanners:SecurityScanner.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("project_name", target.ProjectName))
	span.SetAttributes(attribute.String("ref", target.Ref))
	span.SetAttributes(attribute.String("scan_tool", string(s.tool)))

	log.WithFields(log.Fields{
		"project-name": target.ProjectName,
		"ref":          target.Ref,
		"scan-tool":    string(s.tool),
	}).Debug("fetching scan report")

	var summary securitySummary
	if err := s.getJSON(ctx, target, &summary); err != nil {
		return nil, errors.Wrapf(err, "fetching %s summary", s.tool)
	}

	collectedAt := collectedAtOrNow(summary.CollectedAt)

	return []schemas.ScanFinding{
		{Tool: s.tool, Metric: schemas.ScanMetricCriticalCount, Value: summary.Critical, CollectedAt: collectedAt},
		{Tool: s.tool, Metric: schemas.ScanMetricHighCount, Value: summary.High, CollectedAt: collectedAt},
		{Tool: s.tool, Metric: schemas.ScanMetricMediumCount, Value: summary.Medium, CollectedAt: collectedAt},
	}, nil
}
