package schemas

import (
	"fmt"
)

const (
	// GateScopeProduction applies the strict rule set guarding production
	// deployments.
	GateScopeProduction GateScope = "production"

	// GateScopeNonProduction applies the relaxed rule set used for all other
	// environments.
	GateScopeNonProduction GateScope = "nonproduction"
)

const (
	// GateRuleScanUnavailable flags an enabled scan tool whose result could
	// not be obtained. Always blocking, in both scopes.
	GateRuleScanUnavailable GateRule = "scan-unavailable"

	// GateRuleTestsFailed flags failed unit/integration tests.
	GateRuleTestsFailed GateRule = "tests-failed"

	// GateRuleCoverageBelowMinimum flags test coverage under the configured
	// minimum.
	GateRuleCoverageBelowMinimum GateRule = "coverage-below-minimum"

	// GateRuleLintFailed flags failed lint/static analysis.
	GateRuleLintFailed GateRule = "lint-failed"

	// GateRuleQualityGateFailed flags a failed code quality gate, including
	// blocker or critical issue counts over their limits.
	GateRuleQualityGateFailed GateRule = "quality-gate-failed"

	// GateRuleCriticalVulnerabilities flags critical vulnerabilities over the
	// configured limit.
	GateRuleCriticalVulnerabilities GateRule = "critical-vulnerabilities"

	// GateRuleHighVulnerabilities flags high vulnerabilities over the
	// configured limit.
	GateRuleHighVulnerabilities GateRule = "high-vulnerabilities"

	// GateRuleMediumVulnerabilities flags medium vulnerabilities over the
	// configured limit. Never blocking.
	GateRuleMediumVulnerabilities GateRule = "medium-vulnerabilities"
)

// GateScope selects which strictness the gate rules apply with.
type GateScope string

// GateRule names one rule of the security gate deduction table.
type GateRule string

// GateThresholds carries the configured gate limits. It is copied once at
// run start and never mutated for the lifetime of a run.
type GateThresholds struct {
	MinCoverage       int
	MaxCritical       int
	MaxHigh           int
	MaxMedium         int
	MaxBlocker        int
	MaxCriticalIssues int
	PassThreshold     int
}

// GateViolation is one violated rule, with the deduction it contributed and
// whether it blocks the evaluated scope.
type GateViolation struct {
	Rule      GateRule
	Deduction int
	Blocking  bool
	Detail    string
}

// GateResult is the outcome of one security gate evaluation.
type GateResult struct {
	Score       int
	Passed      bool
	Violations  []GateViolation
	BlockReason GateRule
}

// gateRuleSpec is one row of the deduction table. Deductions accumulate for
// every violated rule; the first blocking violation in table order becomes
// the primary block reason.
type gateRuleSpec struct {
	rule                GateRule
	blocksProduction    bool
	blocksNonProduction bool
	evaluate            func(scan NormalizedScanResult, t GateThresholds) (violated bool, deduction int, detail string)
}

var gateRuleTable = []gateRuleSpec{
	{
		rule:                GateRuleTestsFailed,
		blocksProduction:    true,
		blocksNonProduction: true,
		evaluate: func(scan NormalizedScanResult, _ GateThresholds) (bool, int, string) {
			if scan.FlagFailed(ScanMetricTestsPassed) {
				return true, 20, "unit/integration tests failed"
			}

			return false, 0, ""
		},
	},
	{
		rule:                GateRuleCoverageBelowMinimum,
		blocksProduction:    true,
		blocksNonProduction: false,
		evaluate: func(scan NormalizedScanResult, t GateThresholds) (bool, int, string) {
			if coverage, ok := scan.Coverage(); ok && coverage < t.MinCoverage {
				return true, 15, fmt.Sprintf("coverage %d%% below minimum %d%%", coverage, t.MinCoverage)
			}

			return false, 0, ""
		},
	},
	{
		rule:                GateRuleLintFailed,
		blocksProduction:    true,
		blocksNonProduction: true,
		evaluate: func(scan NormalizedScanResult, _ GateThresholds) (bool, int, string) {
			if scan.FlagFailed(ScanMetricLintPassed) {
				return true, 10, "lint/static-analysis failed"
			}

			return false, 0, ""
		},
	},
	{
		rule:                GateRuleQualityGateFailed,
		blocksProduction:    true,
		blocksNonProduction: false,
		evaluate: func(scan NormalizedScanResult, t GateThresholds) (bool, int, string) {
			switch {
			case scan.FlagFailed(ScanMetricQualityGateStatus):
				return true, 25, "code quality gate failed"
			case scan.QualityCount(ScanMetricBlockerCount) > t.MaxBlocker:
				return true, 25, fmt.Sprintf("blocker issues %d over limit %d", scan.QualityCount(ScanMetricBlockerCount), t.MaxBlocker)
			case scan.QualityCount(ScanMetricCriticalCount) > t.MaxCriticalIssues:
				return true, 25, fmt.Sprintf("critical issues %d over limit %d", scan.QualityCount(ScanMetricCriticalCount), t.MaxCriticalIssues)
			}

			return false, 0, ""
		},
	},
	{
		rule:                GateRuleCriticalVulnerabilities,
		blocksProduction:    true,
		blocksNonProduction: true,
		evaluate: func(scan NormalizedScanResult, t GateThresholds) (bool, int, string) {
			count := scan.SecurityCount(ScanMetricCriticalCount)
			if over := count - t.MaxCritical; over > 0 {
				return true, 30 * over, fmt.Sprintf("critical vulnerabilities %d over limit %d", count, t.MaxCritical)
			}

			return false, 0, ""
		},
	},
	{
		rule:                GateRuleHighVulnerabilities,
		blocksProduction:    true,
		blocksNonProduction: false,
		evaluate: func(scan NormalizedScanResult, t GateThresholds) (bool, int, string) {
			count := scan.SecurityCount(ScanMetricHighCount)
			if over := count - t.MaxHigh; over > 0 {
				return true, 20 * over, fmt.Sprintf("high vulnerabilities %d over limit %d", count, t.MaxHigh)
			}

			return false, 0, ""
		},
	},
	{
		rule:                GateRuleMediumVulnerabilities,
		blocksProduction:    false,
		blocksNonProduction: false,
		evaluate: func(scan NormalizedScanResult, t GateThresholds) (bool, int, string) {
			count := scan.SecurityCount(ScanMetricMediumCount)
			if over := count - t.MaxMedium; over > 0 {
				return true, 10 * over, fmt.Sprintf("medium vulnerabilities %d over limit %d", count, t.MaxMedium)
			}

			return false, 0, ""
		},
	},
}

// blocks returns whether the rule blocks the given scope.
func (r gateRuleSpec) blocks(scope GateScope) bool {
	if scope == GateScopeProduction {
		return r.blocksProduction
	}

	return r.blocksNonProduction
}

// EvaluateGate scores a normalized scan result against the thresholds for
// the given scope. The score starts at 100, every violated rule subtracts
// its deduction and the result floors at 0. Unknown tool results are folded
// in first as blocking violations without deduction (fail-closed). The run
// passes when the score reaches the configured threshold and no blocking
// violation is present.
func EvaluateGate(scan NormalizedScanResult, thresholds GateThresholds, scope GateScope) (result GateResult) {
	score := 100

	for _, tool := range scan.Unknown {
		v := GateViolation{
			Rule:     GateRuleScanUnavailable,
			Blocking: true,
			Detail:   fmt.Sprintf("no result obtained from the %s scan", tool),
		}

		result.Violations = append(result.Violations, v)

		if result.BlockReason == "" {
			result.BlockReason = v.Rule
		}
	}

	for _, spec := range gateRuleTable {
		violated, deduction, detail := spec.evaluate(scan, thresholds)
		if !violated {
			continue
		}

		score -= deduction

		v := GateViolation{
			Rule:      spec.rule,
			Deduction: deduction,
			Blocking:  spec.blocks(scope),
			Detail:    detail,
		}

		result.Violations = append(result.Violations, v)

		if v.Blocking && result.BlockReason == "" {
			result.BlockReason = v.Rule
		}
	}

	if score < 0 {
		score = 0
	}

	result.Score = score
	result.Passed = score >= thresholds.PassThreshold && result.BlockReason == ""

	return result
}
