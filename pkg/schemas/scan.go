package schemas

import (
	"math"
	"sort"
	"time"
)

const (
	// ScanToolCodeQuality covers code quality analysis (coverage, lint,
	// quality gate, blocker/critical issue counts).
	ScanToolCodeQuality ScanTool = "code-quality"

	// ScanToolSAST covers static application security testing.
	ScanToolSAST ScanTool = "sast"

	// ScanToolSCA covers software composition analysis.
	ScanToolSCA ScanTool = "sca"

	// ScanToolIaC covers infrastructure-as-code scanning.
	ScanToolIaC ScanTool = "iac"
)

const (
	// ScanMetricCoverage is the test coverage percentage, 0-100.
	ScanMetricCoverage ScanMetric = "coverage"

	// ScanMetricCriticalCount is the number of critical severity findings.
	ScanMetricCriticalCount ScanMetric = "critical-count"

	// ScanMetricHighCount is the number of high severity findings.
	ScanMetricHighCount ScanMetric = "high-count"

	// ScanMetricMediumCount is the number of medium severity findings.
	ScanMetricMediumCount ScanMetric = "medium-count"

	// ScanMetricBlockerCount is the number of blocker issues reported by the
	// code quality tool.
	ScanMetricBlockerCount ScanMetric = "blocker-count"

	// ScanMetricQualityGateStatus is the code quality gate outcome,
	// 1 passed / 0 failed.
	ScanMetricQualityGateStatus ScanMetric = "quality-gate-status"

	// ScanMetricTestsPassed is the unit/integration test outcome,
	// 1 passed / 0 failed.
	ScanMetricTestsPassed ScanMetric = "tests-passed"

	// ScanMetricLintPassed is the lint/static-analysis outcome,
	// 1 passed / 0 failed.
	ScanMetricLintPassed ScanMetric = "lint-passed"
)

// ScanTool identifies one of the scan collaborators feeding the gate.
type ScanTool string

// ScanMetric identifies one normalized measurement reported by a scan tool.
type ScanMetric string

// Valid returns whether the ScanTool is a known tool.
func (t ScanTool) Valid() bool {
	switch t {
	case ScanToolCodeQuality, ScanToolSAST, ScanToolSCA, ScanToolIaC:
		return true
	}

	return false
}

// securityScanTools are the tools whose severity counts feed the
// vulnerability rules of the gate.
var securityScanTools = []ScanTool{ScanToolSAST, ScanToolSCA, ScanToolIaC}

// ScanFinding is one normalized measurement collected from a scan tool.
type ScanFinding struct {
	Tool        ScanTool
	Metric      ScanMetric
	Value       float64
	CollectedAt time.Time
}

// NormalizedScanResult is the aggregation of all scan findings of a run.
// Values holds the last reported value per tool and metric; Unknown lists
// the enabled tools which did not report anything, which the gate treats as
// blocking (fail-closed).
type NormalizedScanResult struct {
	Values  map[ScanTool]map[ScanMetric]float64
	Unknown []ScanTool
}

// AggregateScanFindings normalizes raw findings into a NormalizedScanResult.
// Duplicate (tool, metric) pairs resolve last-write-wins by collection
// timestamp. Percentages are rounded to 0-100 integers and counts to
// non-negative integers; no other transformation is applied. Enabled tools
// without a single finding are recorded as unknown.
func AggregateScanFindings(findings []ScanFinding, enabled []ScanTool) NormalizedScanResult {
	type stamped struct {
		value       float64
		collectedAt time.Time
	}

	latest := make(map[ScanTool]map[ScanMetric]stamped)

	for _, f := range findings {
		if !f.Tool.Valid() {
			continue
		}

		if _, ok := latest[f.Tool]; !ok {
			latest[f.Tool] = make(map[ScanMetric]stamped)
		}

		if current, ok := latest[f.Tool][f.Metric]; ok && current.collectedAt.After(f.CollectedAt) {
			continue
		}

		latest[f.Tool][f.Metric] = stamped{value: normalizeScanValue(f.Metric, f.Value), collectedAt: f.CollectedAt}
	}

	result := NormalizedScanResult{
		Values: make(map[ScanTool]map[ScanMetric]float64, len(latest)),
	}

	for tool, metrics := range latest {
		result.Values[tool] = make(map[ScanMetric]float64, len(metrics))
		for metric, s := range metrics {
			result.Values[tool][metric] = s.value
		}
	}

	for _, tool := range enabled {
		if _, ok := result.Values[tool]; !ok {
			result.Unknown = append(result.Unknown, tool)
		}
	}

	sort.Slice(result.Unknown, func(i, j int) bool {
		return result.Unknown[i] < result.Unknown[j]
	})

	return result
}

// normalizeScanValue applies unit normalization: percentages become 0-100
// integers, counts non-negative integers, boolean-valued metrics 0 or 1.
func normalizeScanValue(metric ScanMetric, value float64) float64 {
	switch metric {
	case ScanMetricCoverage:
		return math.Min(100, math.Max(0, math.Round(value)))
	case ScanMetricQualityGateStatus, ScanMetricTestsPassed, ScanMetricLintPassed:
		if value >= 1 {
			return 1
		}

		return 0
	default:
		return math.Max(0, math.Round(value))
	}
}

// Value returns the reported value for a tool and metric.
func (r NormalizedScanResult) Value(tool ScanTool, metric ScanMetric) (float64, bool) {
	metrics, ok := r.Values[tool]
	if !ok {
		return 0, false
	}

	v, ok := metrics[metric]

	return v, ok
}

// Coverage returns the reported test coverage percentage.
func (r NormalizedScanResult) Coverage() (int, bool) {
	v, ok := r.Value(ScanToolCodeQuality, ScanMetricCoverage)

	return int(v), ok
}

// SecurityCount sums a severity count metric across the security scan tools.
func (r NormalizedScanResult) SecurityCount(metric ScanMetric) (total int) {
	for _, tool := range securityScanTools {
		if v, ok := r.Value(tool, metric); ok {
			total += int(v)
		}
	}

	return total
}

// QualityCount returns a count metric reported by the code quality tool.
func (r NormalizedScanResult) QualityCount(metric ScanMetric) int {
	v, _ := r.Value(ScanToolCodeQuality, metric)

	return int(v)
}

// FlagFailed reports whether a boolean-valued metric failed: it returns true
// when at least one tool reported the metric with a zero value.
func (r NormalizedScanResult) FlagFailed(metric ScanMetric) bool {
	for _, metrics := range r.Values {
		if v, ok := metrics[metric]; ok && v == 0 {
			return true
		}
	}

	return false
}
