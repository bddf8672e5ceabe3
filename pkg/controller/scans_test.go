package controller

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/deployment-orchestrator/pkg/scanners"
	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

func TestCollectScanFindings(t *testing.T) {
	c, _ := newTestController(t)

	c.Scanners = []scanners.Scanner{
		fakeScanner{tool: schemas.ScanToolCodeQuality, findings: []schemas.ScanFinding{
			scanFinding(schemas.ScanToolCodeQuality, schemas.ScanMetricCoverage, 92),
			scanFinding(schemas.ScanToolCodeQuality, schemas.ScanMetricTestsPassed, 1),
		}},
		fakeScanner{tool: schemas.ScanToolSAST, findings: []schemas.ScanFinding{
			scanFinding(schemas.ScanToolSAST, schemas.ScanMetricHighCount, 1),
		}},
		fakeScanner{tool: schemas.ScanToolSCA, findings: []schemas.ScanFinding{
			scanFinding(schemas.ScanToolSCA, schemas.ScanMetricHighCount, 2),
		}},
		fakeScanner{tool: schemas.ScanToolIaC, err: fmt.Errorf("scan backend unreachable")},
	}

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "main",
		RefKind:     schemas.RefKindBranch,
		Trigger:     schemas.TriggerKindWebhook,
	})
	record.CommitSha = testSha

	scan := c.collectScanFindings(testCtx, record)

	// The failing tool stays absent, the healthy ones keep reporting
	assert.Equal(t, []schemas.ScanTool{schemas.ScanToolIaC}, scan.Unknown)

	coverage, ok := scan.Coverage()
	require.True(t, ok)
	assert.Equal(t, 92, coverage)
	assert.Equal(t, 3, scan.SecurityCount(schemas.ScanMetricHighCount))

	_, ok = scan.Value(schemas.ScanToolIaC, schemas.ScanMetricCriticalCount)
	assert.False(t, ok)

	// Every normalized measurement lands in the store
	metric := schemas.Metric{
		Kind: schemas.MetricKindScanFindings,
		Labels: map[string]string{
			"project": "foo",
			"ref":     "main",
			"kind":    "branch",
			"tool":    "code-quality",
			"metric":  "coverage",
		},
	}
	require.NoError(t, c.Store.GetMetric(testCtx, &metric))
	assert.Equal(t, float64(92), metric.Value)
}

func TestCollectScanFindingsNoScanners(t *testing.T) {
	c, _ := newTestController(t)
	c.Scanners = nil

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "main",
		RefKind:     schemas.RefKindBranch,
		Trigger:     schemas.TriggerKindWebhook,
	})

	scan := c.collectScanFindings(testCtx, record)
	assert.Empty(t, scan.Unknown)
	assert.Empty(t, scan.Values)
}
