package controller

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/deployment-orchestrator/pkg/gitlab"
	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
	"github.com/helvethink/deployment-orchestrator/pkg/store"
)

// Registry wraps a prometheus.Registry with the domain collectors (one per
// metric kind) and the internal collectors describing the orchestrator
// itself.
type Registry struct {
	*prometheus.Registry

	InternalCollectors struct {
		CurrentlyQueuedTasksCount  prometheus.Collector
		ExecutedTasksCount         prometheus.Collector
		GitLabAPIRequestsCount     prometheus.Collector
		GitlabAPIRequestsRemaining prometheus.Collector
		GitlabAPIRequestsLimit     prometheus.Collector
		MetricsCount               prometheus.Collector
		RecordsCount               prometheus.Collector
		ReleasesCount              prometheus.Collector
		RefsCount                  prometheus.Collector
	}

	Collectors RegistryCollectors
}

// RegistryCollectors maps each metric kind onto its Prometheus collector.
type RegistryCollectors map[schemas.MetricKind]prometheus.Collector

// NewRegistry returns a registry with every domain and internal collector
// registered.
func NewRegistry(ctx context.Context) *Registry {
	r := &Registry{
		Registry: prometheus.NewRegistry(),

		Collectors: RegistryCollectors{
			schemas.MetricKindRunCount:                    NewCollectorRunCount(),
			schemas.MetricKindRunStatus:                   NewCollectorRunStatus(),
			schemas.MetricKindRunDurationSeconds:          NewCollectorRunDurationSeconds(),
			schemas.MetricKindGateScore:                   NewCollectorGateScore(),
			schemas.MetricKindGateStatus:                  NewCollectorGateStatus(),
			schemas.MetricKindGateViolations:              NewCollectorGateViolations(),
			schemas.MetricKindScanFindings:                NewCollectorScanFindings(),
			schemas.MetricKindRiskInformation:             NewCollectorRiskInformation(),
			schemas.MetricKindDeploymentCount:             NewCollectorEnvironmentDeploymentCount(),
			schemas.MetricKindDeploymentDurationSeconds:   NewCollectorEnvironmentDeploymentDurationSeconds(),
			schemas.MetricKindDeploymentStatus:            NewCollectorEnvironmentDeploymentStatus(),
			schemas.MetricKindApprovalWaitDurationSeconds: NewCollectorApprovalWaitDurationSeconds(),
		},
	}

	r.RegisterInternalCollectors()

	if err := r.RegisterCollectors(); err != nil {
		log.WithContext(ctx).
			Fatal(err)
	}

	return r
}

// RegisterInternalCollectors declares and registers the collectors describing
// the orchestrator process itself.
func (r *Registry) RegisterInternalCollectors() {
	r.InternalCollectors.CurrentlyQueuedTasksCount = NewInternalCollectorCurrentlyQueuedTasksCount()
	r.InternalCollectors.ExecutedTasksCount = NewInternalCollectorExecutedTasksCount()
	r.InternalCollectors.GitLabAPIRequestsCount = NewInternalCollectorGitLabAPIRequestsCount()
	r.InternalCollectors.GitlabAPIRequestsRemaining = NewInternalCollectorGitLabAPIRequestsRemaining()
	r.InternalCollectors.GitlabAPIRequestsLimit = NewInternalCollectorGitLabAPIRequestsLimit()
	r.InternalCollectors.MetricsCount = NewInternalCollectorMetricsCount()
	r.InternalCollectors.RecordsCount = NewInternalCollectorRecordsCount()
	r.InternalCollectors.ReleasesCount = NewInternalCollectorReleasesCount()
	r.InternalCollectors.RefsCount = NewInternalCollectorRefsCount()

	for _, collector := range []prometheus.Collector{
		r.InternalCollectors.CurrentlyQueuedTasksCount,
		r.InternalCollectors.ExecutedTasksCount,
		r.InternalCollectors.GitLabAPIRequestsCount,
		r.InternalCollectors.GitlabAPIRequestsRemaining,
		r.InternalCollectors.GitlabAPIRequestsLimit,
		r.InternalCollectors.MetricsCount,
		r.InternalCollectors.RecordsCount,
		r.InternalCollectors.ReleasesCount,
		r.InternalCollectors.RefsCount,
	} {
		_ = r.Register(collector)
	}
}

func setInternalGauge(c prometheus.Collector, value float64) {
	c.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(value)
}

// ExportInternalMetrics reads the process counters from the store and the
// GitLab client into their collectors.
func (r *Registry) ExportInternalMetrics(ctx context.Context, g *gitlab.Client, s store.Store) error {
	currentlyQueuedTasks, err := s.CurrentlyQueuedTasksCount(ctx)
	if err != nil {
		return err
	}

	executedTasksCount, err := s.ExecutedTasksCount(ctx)
	if err != nil {
		return err
	}

	recordsCount, err := s.RecordsCount(ctx)
	if err != nil {
		return err
	}

	releasesCount, err := s.ReleasesCount(ctx)
	if err != nil {
		return err
	}

	refsCount, err := s.RefsCount(ctx)
	if err != nil {
		return err
	}

	metricsCount, err := s.MetricsCount(ctx)
	if err != nil {
		return err
	}

	setInternalGauge(r.InternalCollectors.CurrentlyQueuedTasksCount, float64(currentlyQueuedTasks))
	setInternalGauge(r.InternalCollectors.ExecutedTasksCount, float64(executedTasksCount))
	setInternalGauge(r.InternalCollectors.GitLabAPIRequestsCount, float64(g.RequestsCounter.Load()))
	setInternalGauge(r.InternalCollectors.GitlabAPIRequestsRemaining, float64(g.RequestsRemaining))
	setInternalGauge(r.InternalCollectors.GitlabAPIRequestsLimit, float64(g.RequestsLimit))
	setInternalGauge(r.InternalCollectors.MetricsCount, float64(metricsCount))
	setInternalGauge(r.InternalCollectors.RecordsCount, float64(recordsCount))
	setInternalGauge(r.InternalCollectors.ReleasesCount, float64(releasesCount))
	setInternalGauge(r.InternalCollectors.RefsCount, float64(refsCount))

	return nil
}

// RegisterCollectors registers every domain collector onto the registry.
func (r *Registry) RegisterCollectors() error {
	for _, c := range r.Collectors {
		if err := r.Register(c); err != nil {
			return fmt.Errorf("could not add provided collector '%v' to the Prometheus registry: %v", c, err)
		}
	}

	return nil
}

// GetCollector returns the collector associated with the given metric kind.
func (r *Registry) GetCollector(kind schemas.MetricKind) prometheus.Collector {
	return r.Collectors[kind]
}

// ExportMetrics feeds stored metrics into their collectors. Gauges take the
// value as-is, counters accumulate it.
func (r *Registry) ExportMetrics(metrics schemas.Metrics) {
	for _, m := range metrics {
		switch c := r.GetCollector(m.Kind).(type) {
		case *prometheus.GaugeVec:
			c.With(m.Labels).Set(m.Value)
		case *prometheus.CounterVec:
			c.With(m.Labels).Add(m.Value)
		default:
			log.Errorf("unsupported collector type : %v", reflect.TypeOf(c))
		}
	}
}

// emitStatusMetric records a dense 0/1 status vector for a given entity.
// It writes a metric for each possible status, setting the value to 1 for
// the current status and 0 for every other one.
func emitStatusMetric(ctx context.Context, s store.Store, metricKind schemas.MetricKind,
	labelValues map[string]string,
	statuses []string,
	status string,
	statusLabelName string,
) {
	for _, currentStatus := range statuses {
		statusLabels := make(map[string]string)
		for k, v := range labelValues {
			statusLabels[k] = v
		}

		statusLabels[statusLabelName] = currentStatus

		statusMetric := schemas.Metric{
			Kind:   metricKind,
			Labels: statusLabels,
			Value:  0,
		}

		if currentStatus == status {
			statusMetric.Value = 1
		}

		storeSetMetric(ctx, s, statusMetric)
	}
}

// emitRunStatusMetrics refreshes the run state vector of the record and, once
// the run terminated, accounts it in the per outcome counter and the run
// duration gauge.
func (c *Controller) emitRunStatusMetrics(ctx context.Context, record schemas.DeploymentRecord) {
	labels := record.DefaultLabelsValues()

	emitStatusMetric(
		ctx,
		c.Store,
		schemas.MetricKindRunStatus,
		labels,
		runStatesList[:],
		string(record.State),
		"state",
	)

	if !record.State.Terminal() {
		return
	}

	runCount := schemas.Metric{
		Kind: schemas.MetricKindRunCount,
		Labels: map[string]string{
			"project": record.Request.ProjectName,
			"outcome": string(record.State),
		},
	}

	storeGetMetric(ctx, c.Store, &runCount)
	runCount.Value++
	storeSetMetric(ctx, c.Store, runCount)

	storeSetMetric(ctx, c.Store, schemas.Metric{
		Kind:   schemas.MetricKindRunDurationSeconds,
		Labels: labels,
		Value:  record.UpdatedAt.Sub(record.CreatedAt).Seconds(),
	})
}

// emitGateMetrics exposes the gate score, the pass/fail status and the per
// rule violation counts of the record's gate result.
func (c *Controller) emitGateMetrics(ctx context.Context, record schemas.DeploymentRecord) {
	if record.Gate == nil {
		return
	}

	labels := record.DefaultLabelsValues()

	storeSetMetric(ctx, c.Store, schemas.Metric{
		Kind:   schemas.MetricKindGateScore,
		Labels: labels,
		Value:  float64(record.Gate.Score),
	})

	gateStatus := float64(0)
	if record.Gate.Passed {
		gateStatus = 1
	}

	storeSetMetric(ctx, c.Store, schemas.Metric{
		Kind:   schemas.MetricKindGateStatus,
		Labels: labels,
		Value:  gateStatus,
	})

	for _, violation := range record.Gate.Violations {
		violationLabels := map[string]string{
			"rule": string(violation.Rule),
		}

		for k, v := range labels {
			violationLabels[k] = v
		}

		storeSetMetric(ctx, c.Store, schemas.Metric{
			Kind:   schemas.MetricKindGateViolations,
			Labels: violationLabels,
			Value:  1,
		})
	}
}

// emitScanMetrics exposes every normalized scan measurement of the run, per
// tool and metric name.
func (c *Controller) emitScanMetrics(ctx context.Context, record schemas.DeploymentRecord, scan schemas.NormalizedScanResult) {
	labels := record.DefaultLabelsValues()

	for tool, values := range scan.Values {
		for metric, value := range values {
			scanMetricLabels := map[string]string{
				"tool":   string(tool),
				"metric": string(metric),
			}

			for k, v := range labels {
				scanMetricLabels[k] = v
			}

			storeSetMetric(ctx, c.Store, schemas.Metric{
				Kind:   schemas.MetricKindScanFindings,
				Labels: scanMetricLabels,
				Value:  value,
			})
		}
	}
}

// emitRiskMetric exposes the release classification of a production bound
// run as an informational metric.
func (c *Controller) emitRiskMetric(ctx context.Context, record schemas.DeploymentRecord) {
	if record.Risk == nil {
		return
	}

	riskLabels := map[string]string{
		"release_type": string(record.Risk.ReleaseType),
		"risk_level":   string(record.Risk.RiskLevel),
	}

	for k, v := range record.DefaultLabelsValues() {
		riskLabels[k] = v
	}

	storeSetMetric(ctx, c.Store, schemas.Metric{
		Kind:   schemas.MetricKindRiskInformation,
		Labels: riskLabels,
		Value:  1,
	})
}

// emitDeploymentMetrics accounts one attempted environment deployment: the
// per environment counter, the duration of the attempt and its status
// vector.
func (c *Controller) emitDeploymentMetrics(ctx context.Context, record schemas.DeploymentRecord, outcome schemas.EnvironmentOutcome) {
	labels := map[string]string{
		"project":     record.Request.ProjectName,
		"environment": string(outcome.Environment),
	}

	deploymentCount := schemas.Metric{
		Kind:   schemas.MetricKindDeploymentCount,
		Labels: labels,
	}

	storeGetMetric(ctx, c.Store, &deploymentCount)
	deploymentCount.Value++
	storeSetMetric(ctx, c.Store, deploymentCount)

	if !outcome.StartedAt.IsZero() && !outcome.FinishedAt.IsZero() {
		storeSetMetric(ctx, c.Store, schemas.Metric{
			Kind:   schemas.MetricKindDeploymentDurationSeconds,
			Labels: labels,
			Value:  outcome.FinishedAt.Sub(outcome.StartedAt).Seconds(),
		})
	}

	emitStatusMetric(
		ctx,
		c.Store,
		schemas.MetricKindDeploymentStatus,
		labels,
		deployStatusesList[:],
		string(outcome.Status),
		"status",
	)
}

// emitApprovalWaitMetric exposes how long the run stayed suspended waiting
// for its approval signal.
func (c *Controller) emitApprovalWaitMetric(ctx context.Context, record schemas.DeploymentRecord, waited time.Duration) {
	storeSetMetric(ctx, c.Store, schemas.Metric{
		Kind:   schemas.MetricKindApprovalWaitDurationSeconds,
		Labels: record.DefaultLabelsValues(),
		Value:  waited.Seconds(),
	})
}
