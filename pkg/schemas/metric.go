package schemas

import (
	"fmt"
	"hash/crc32"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricKind discriminates the metrics exported by the orchestrator.
type MetricKind int32

const (
	// MetricKindRunCount counts terminated orchestration runs, per outcome.
	MetricKindRunCount MetricKind = iota

	// MetricKindRunStatus is the current state of an orchestration run.
	MetricKindRunStatus

	// MetricKindRunDurationSeconds is the total duration of a terminated
	// orchestration run.
	MetricKindRunDurationSeconds

	// MetricKindGateScore is the security gate score of a run.
	MetricKindGateScore

	// MetricKindGateStatus is the pass/fail outcome of the security gate of
	// a run.
	MetricKindGateStatus

	// MetricKindGateViolations counts the violations of one gate rule within
	// a run.
	MetricKindGateViolations

	// MetricKindScanFindings is one normalized scan measurement of a run.
	MetricKindScanFindings

	// MetricKindRiskInformation carries the release type and risk tier of a
	// production bound run.
	MetricKindRiskInformation

	// MetricKindDeploymentCount counts the deployments attempted towards an
	// environment.
	MetricKindDeploymentCount

	// MetricKindDeploymentDurationSeconds is the duration of the latest
	// deployment towards an environment.
	MetricKindDeploymentDurationSeconds

	// MetricKindDeploymentStatus is the status of the latest deployment
	// towards an environment.
	MetricKindDeploymentStatus

	// MetricKindApprovalWaitDurationSeconds is the time a run spent suspended
	// waiting for an approval signal.
	MetricKindApprovalWaitDurationSeconds
)

// Metric is one exported measurement, identified by its kind and labels.
type Metric struct {
	Kind   MetricKind
	Labels prometheus.Labels
	Value  float64
}

// MetricKey indexes metrics in the store.
type MetricKey string

// Metrics indexes metrics by their key.
type Metrics map[MetricKey]Metric

// Key derives the store key of the metric from its kind and the labels
// relevant for that kind.
func (m Metric) Key() MetricKey {
	key := strconv.Itoa(int(m.Kind))

	switch m.Kind {
	case MetricKindRunCount:
		key += fmt.Sprintf("%v", []string{
			m.Labels["project"],
			m.Labels["outcome"],
		})

	case MetricKindRunStatus, MetricKindRunDurationSeconds, MetricKindGateScore, MetricKindGateStatus, MetricKindRiskInformation, MetricKindApprovalWaitDurationSeconds:
		key += fmt.Sprintf("%v", []string{
			m.Labels["project"],
			m.Labels["kind"],
			m.Labels["ref"],
		})

	case MetricKindGateViolations:
		key += fmt.Sprintf("%v", []string{
			m.Labels["project"],
			m.Labels["kind"],
			m.Labels["ref"],
			m.Labels["rule"],
		})

	case MetricKindScanFindings:
		key += fmt.Sprintf("%v", []string{
			m.Labels["project"],
			m.Labels["kind"],
			m.Labels["ref"],
			m.Labels["tool"],
			m.Labels["metric"],
		})

	case MetricKindDeploymentCount, MetricKindDeploymentDurationSeconds, MetricKindDeploymentStatus:
		key += fmt.Sprintf("%v", []string{
			m.Labels["project"],
			m.Labels["environment"],
		})
	}

	// Status metrics are emitted per status value.
	switch m.Kind {
	case MetricKindRunStatus:
		key += m.Labels["state"]
	case MetricKindDeploymentStatus:
		key += m.Labels["status"]
	case MetricKindRiskInformation:
		key += m.Labels["release_type"] + m.Labels["risk_level"]
	}

	return MetricKey(strconv.Itoa(int(crc32.ChecksumIEEE([]byte(key)))))
}
