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

// CodeQualityScanner queries the code quality tool's report API for coverage,
// test/lint outcomes, the quality gate status and issue counts.
type CodeQualityScanner struct {
	client
}

// codeQualityReport is the wire format of the code quality result API.
type codeQualityReport struct {
	Coverage          float64   `json:"coverage"`
	TestsPassed       bool      `json:"tests_passed"`
	LintPassed        bool      `json:"lint_passed"`
	QualityGatePassed bool      `json:"quality_gate_passed"`
	BlockerIssues     float64   `json:"blocker_issues"`
	CriticalIssues    float64   `json:"critical_issues"`
	CollectedAt       time.Time `json:"collected_at"`
}

// NewCodeQualityScanner returns a scanner for the code quality tool.
func NewCodeQualityScanner(cfg config.ScanTool, timeout time.Duration, requestsPerSecond int) *CodeQualityScanner {
	return &CodeQualityScanner{client: newClient(cfg, timeout, requestsPerSecond)}
}

// Tool returns the tool identity of the scanner.
func (s *CodeQualityScanner) Tool() schemas.ScanTool {
	return schemas.ScanToolCodeQuality
}

// Fetch retrieves the code quality report of the target and maps it onto
// normalized scan findings.
func (s *CodeQualityScanner) Fetch(ctx context.Context, target Target) ([]schemas.ScanFinding, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "scanners:CodeQualityScanner.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("project_name", target.ProjectName))
	span.SetAttributes(attribute.String("ref", target.Ref))

	log.WithFields(log.Fields{
		"project-name": target.ProjectName,
		"ref":          target.Ref,
		"scan-tool":    string(s.Tool()),
	}).Debug("fetching scan report")

	var report codeQualityReport
	if err := s.getJSON(ctx, target, &report); err != nil {
		return nil, errors.Wrap(err, "fetching code quality report")
	}

	collectedAt := collectedAtOrNow(report.CollectedAt)

	return []schemas.ScanFinding{
		{Tool: s.Tool(), Metric: schemas.ScanMetricCoverage, Value: report.Coverage, CollectedAt: collectedAt},
		{Tool: s.Tool(), Metric: schemas.ScanMetricTestsPassed, Value: boolValue(report.TestsPassed), CollectedAt: collectedAt},
		{Tool: s.Tool(), Metric: schemas.ScanMetricLintPassed, Value: boolValue(report.LintPassed), CollectedAt: collectedAt},
		{Tool: s.Tool(), Metric: schemas.ScanMetricQualityGateStatus, Value: boolValue(report.QualityGatePassed), CollectedAt: collectedAt},
		{Tool: s.Tool(), Metric: schemas.ScanMetricBlockerCount, Value: report.BlockerIssues, CollectedAt: collectedAt},
		{Tool: s.Tool(), Metric: schemas.ScanMetricCriticalCount, Value: report.CriticalIssues, CollectedAt: collectedAt},
	}, nil
}
