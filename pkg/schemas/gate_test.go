package schemas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testGateThresholds() GateThresholds {
	return GateThresholds{
		MinCoverage:       80,
		MaxCritical:       0,
		MaxHigh:           5,
		MaxMedium:         20,
		MaxBlocker:        0,
		MaxCriticalIssues: 5,
		PassThreshold:     50,
	}
}

func cleanScanResult() NormalizedScanResult {
	now := time.Now()

	return AggregateScanFindings([]ScanFinding{
		{Tool: ScanToolCodeQuality, Metric: ScanMetricCoverage, Value: 92, CollectedAt: now},
		{Tool: ScanToolCodeQuality, Metric: ScanMetricTestsPassed, Value: 1, CollectedAt: now},
		{Tool: ScanToolCodeQuality, Metric: ScanMetricLintPassed, Value: 1, CollectedAt: now},
		{Tool: ScanToolCodeQuality, Metric: ScanMetricQualityGateStatus, Value: 1, CollectedAt: now},
		{Tool: ScanToolSAST, Metric: ScanMetricCriticalCount, Value: 0, CollectedAt: now},
		{Tool: ScanToolSCA, Metric: ScanMetricHighCount, Value: 1, CollectedAt: now},
		{Tool: ScanToolIaC, Metric: ScanMetricMediumCount, Value: 2, CollectedAt: now},
	}, []ScanTool{ScanToolCodeQuality, ScanToolSAST, ScanToolSCA, ScanToolIaC})
}

func TestEvaluateGateCleanScanPasses(t *testing.T) {
	result := EvaluateGate(cleanScanResult(), testGateThresholds(), GateScopeProduction)

	assert.Equal(t, 100, result.Score)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Violations)
	assert.Empty(t, result.BlockReason)
}

func TestEvaluateGateUnknownToolBlocksWithoutDeduction(t *testing.T) {
	scan := cleanScanResult()
	scan.Unknown = []ScanTool{ScanToolSAST}

	result := EvaluateGate(scan, testGateThresholds(), GateScopeNonProduction)

	// Fail closed: a full score does not rescue a run with a missing scan.
	assert.Equal(t, 100, result.Score)
	assert.False(t, result.Passed)
	assert.Equal(t, GateRuleScanUnavailable, result.BlockReason)
	assert.Len(t, result.Violations, 1)
	assert.Equal(t, 0, result.Violations[0].Deduction)
	assert.True(t, result.Violations[0].Blocking)
}

func TestEvaluateGateDeductions(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name          string
		findings      []ScanFinding
		scope         GateScope
		expectedScore int
		expectedRule  GateRule
		blocking      bool
	}{
		{
			"failed tests",
			[]ScanFinding{{Tool: ScanToolCodeQuality, Metric: ScanMetricTestsPassed, Value: 0, CollectedAt: now}},
			GateScopeNonProduction,
			80,
			GateRuleTestsFailed,
			true,
		},
		{
			"low coverage in production scope",
			[]ScanFinding{{Tool: ScanToolCodeQuality, Metric: ScanMetricCoverage, Value: 60, CollectedAt: now}},
			GateScopeProduction,
			85,
			GateRuleCoverageBelowMinimum,
			true,
		},
		{
			"low coverage outside production is a warning",
			[]ScanFinding{{Tool: ScanToolCodeQuality, Metric: ScanMetricCoverage, Value: 60, CollectedAt: now}},
			GateScopeNonProduction,
			85,
			GateRuleCoverageBelowMinimum,
			false,
		},
		{
			"failed lint",
			[]ScanFinding{{Tool: ScanToolCodeQuality, Metric: ScanMetricLintPassed, Value: 0, CollectedAt: now}},
			GateScopeNonProduction,
			90,
			GateRuleLintFailed,
			true,
		},
		{
			"failed quality gate in production scope",
			[]ScanFinding{{Tool: ScanToolCodeQuality, Metric: ScanMetricQualityGateStatus, Value: 0, CollectedAt: now}},
			GateScopeProduction,
			75,
			GateRuleQualityGateFailed,
			true,
		},
		{
			"blocker issues count as a failed quality gate",
			[]ScanFinding{{Tool: ScanToolCodeQuality, Metric: ScanMetricBlockerCount, Value: 2, CollectedAt: now}},
			GateScopeProduction,
			75,
			GateRuleQualityGateFailed,
			true,
		},
		{
			"critical vulnerabilities deduct per finding over the limit",
			[]ScanFinding{{Tool: ScanToolSAST, Metric: ScanMetricCriticalCount, Value: 2, CollectedAt: now}},
			GateScopeNonProduction,
			40,
			GateRuleCriticalVulnerabilities,
			true,
		},
		{
			"high vulnerabilities block production scope only",
			[]ScanFinding{{Tool: ScanToolSCA, Metric: ScanMetricHighCount, Value: 7, CollectedAt: now}},
			GateScopeProduction,
			60,
			GateRuleHighVulnerabilities,
			true,
		},
		{
			"high vulnerabilities outside production",
			[]ScanFinding{{Tool: ScanToolSCA, Metric: ScanMetricHighCount, Value: 7, CollectedAt: now}},
			GateScopeNonProduction,
			60,
			GateRuleHighVulnerabilities,
			false,
		},
		{
			"medium vulnerabilities never block",
			[]ScanFinding{{Tool: ScanToolIaC, Metric: ScanMetricMediumCount, Value: 23, CollectedAt: now}},
			GateScopeProduction,
			70,
			GateRuleMediumVulnerabilities,
			false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := EvaluateGate(AggregateScanFindings(tc.findings, nil), testGateThresholds(), tc.scope)

			assert.Equal(t, tc.expectedScore, result.Score)
			assert.Len(t, result.Violations, 1)
			assert.Equal(t, tc.expectedRule, result.Violations[0].Rule)
			assert.Equal(t, tc.blocking, result.Violations[0].Blocking)

			if tc.blocking {
				assert.Equal(t, tc.expectedRule, result.BlockReason)
				assert.False(t, result.Passed)
			} else {
				assert.Empty(t, result.BlockReason)
			}
		})
	}
}

func TestEvaluateGateBlockReasonFollowsTableOrder(t *testing.T) {
	now := time.Now()

	scan := AggregateScanFindings([]ScanFinding{
		{Tool: ScanToolCodeQuality, Metric: ScanMetricTestsPassed, Value: 0, CollectedAt: now},
		{Tool: ScanToolSAST, Metric: ScanMetricCriticalCount, Value: 3, CollectedAt: now},
	}, nil)

	result := EvaluateGate(scan, testGateThresholds(), GateScopeProduction)

	assert.Equal(t, GateRuleTestsFailed, result.BlockReason)
	assert.Len(t, result.Violations, 2)
}

func TestEvaluateGateScoreFloorsAtZero(t *testing.T) {
	now := time.Now()

	scan := AggregateScanFindings([]ScanFinding{
		{Tool: ScanToolSAST, Metric: ScanMetricCriticalCount, Value: 10, CollectedAt: now},
	}, nil)

	result := EvaluateGate(scan, testGateThresholds(), GateScopeProduction)

	assert.Equal(t, 0, result.Score)
	assert.False(t, result.Passed)
}

func TestEvaluateGateFailsBelowPassThresholdWithoutBlocking(t *testing.T) {
	now := time.Now()

	// Medium vulnerabilities never block, yet enough of them sink the score
	// under the pass threshold.
	scan := AggregateScanFindings([]ScanFinding{
		{Tool: ScanToolIaC, Metric: ScanMetricMediumCount, Value: 26, CollectedAt: now},
	}, nil)

	result := EvaluateGate(scan, testGateThresholds(), GateScopeNonProduction)

	assert.Equal(t, 40, result.Score)
	assert.Empty(t, result.BlockReason)
	assert.False(t, result.Passed)
}

func TestEvaluateGateCriticalVulnerabilityInProduction(t *testing.T) {
	now := time.Now()

	scan := AggregateScanFindings([]ScanFinding{
		{Tool: ScanToolSAST, Metric: ScanMetricCriticalCount, Value: 1, CollectedAt: now},
	}, nil)

	result := EvaluateGate(scan, testGateThresholds(), GateScopeProduction)

	assert.False(t, result.Passed)
	assert.Equal(t, GateRuleCriticalVulnerabilities, result.BlockReason)
	assert.Equal(t, 70, result.Score)
}
