package controller

import "github.com/prometheus/client_golang/prometheus"

var (
	// defaultLabels identify the run a metric belongs to.
	defaultLabels = []string{"project", "kind", "ref"}

	// ruleLabels extend the default labels with the violated gate rule.
	ruleLabels = []string{"project", "kind", "ref", "rule"}

	// scanLabels extend the default labels with the scan tool and the
	// normalized measurement name.
	scanLabels = []string{"project", "kind", "ref", "tool", "metric"}

	// riskLabels extend the default labels with the release classification.
	riskLabels = []string{"project", "kind", "ref", "release_type", "risk_level"}

	environmentLabels = []string{"project", "environment"}

	outcomeLabels = []string{"project", "outcome"}

	// runStatesList holds every state a deployment record can be in.
	runStatesList = [...]string{
		"pending", "version-resolved", "scanning", "gate-evaluated",
		"risk-assessed", "awaiting-approval", "deploying",
		"succeeded", "failed", "blocked", "rolled-back",
	}

	// deployStatusesList holds every per-environment deployment status.
	deployStatusesList = [...]string{
		"pending", "succeeded", "failed", "skipped",
	}
)

func newGaugeVec(name, help string, labels []string) prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: name,
			Help: help,
		},
		labels,
	)
}

func newCounterVec(name, help string, labels []string) prometheus.Collector {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: name,
			Help: help,
		},
		labels,
	)
}

// NewInternalCollectorCurrentlyQueuedTasksCount counts the tasks sitting in
// the queue.
func NewInternalCollectorCurrentlyQueuedTasksCount() prometheus.Collector {
	return newGaugeVec("gdo_currently_queued_tasks_count", "Number of tasks in the queue", []string{})
}

// NewInternalCollectorExecutedTasksCount counts the tasks executed since the
// process started.
func NewInternalCollectorExecutedTasksCount() prometheus.Collector {
	return newGaugeVec("gdo_executed_tasks_count", "Number of tasks executed", []string{})
}

// NewInternalCollectorGitLabAPIRequestsCount counts the GitLab API requests
// made since the process started.
func NewInternalCollectorGitLabAPIRequestsCount() prometheus.Collector {
	return newGaugeVec("gdo_gitlab_api_requests_count", "GitLab API requests count", []string{})
}

// NewInternalCollectorGitLabAPIRequestsRemaining tracks the requests left in
// the current GitLab rate limit window.
func NewInternalCollectorGitLabAPIRequestsRemaining() prometheus.Collector {
	return newGaugeVec("gdo_gitlab_api_requests_remaining", "GitLab API requests remaining in the api limit", []string{})
}

// NewInternalCollectorGitLabAPIRequestsLimit tracks the size of the GitLab
// rate limit window.
func NewInternalCollectorGitLabAPIRequestsLimit() prometheus.Collector {
	return newGaugeVec("gdo_gitlab_api_requests_limit", "GitLab API requests available in the api limit", []string{})
}

// NewInternalCollectorMetricsCount counts the deployment metrics currently
// exported.
func NewInternalCollectorMetricsCount() prometheus.Collector {
	return newGaugeVec("gdo_metrics_count", "Number of deployment metrics being exported", []string{})
}

// NewInternalCollectorRecordsCount counts the deployment records held in the
// store.
func NewInternalCollectorRecordsCount() prometheus.Collector {
	return newGaugeVec("gdo_records_count", "Number of deployment records in the store", []string{})
}

// NewInternalCollectorReleasesCount counts the production releases held in
// the store.
func NewInternalCollectorReleasesCount() prometheus.Collector {
	return newGaugeVec("gdo_releases_count", "Number of production releases in the store", []string{})
}

// NewInternalCollectorRefsCount counts the refs deployment runs were
// triggered for.
func NewInternalCollectorRefsCount() prometheus.Collector {
	return newGaugeVec("gdo_refs_count", "Number of refs deployment runs were triggered for", []string{})
}

// NewCollectorRunCount counts terminated orchestration runs per outcome.
func NewCollectorRunCount() prometheus.Collector {
	return newCounterVec("deployment_run_count", "Number of terminated deployment runs, per outcome", outcomeLabels)
}

// NewCollectorRunStatus exposes the state of the most recent run as a dense
// 0/1 vector over all run states.
func NewCollectorRunStatus() prometheus.Collector {
	return newGaugeVec("deployment_run_status", "State of the most recent deployment run", append(defaultLabels, "state"))
}

// NewCollectorRunDurationSeconds measures the duration of the most recent
// terminated run, approvals wait included.
func NewCollectorRunDurationSeconds() prometheus.Collector {
	return newGaugeVec("deployment_run_duration_seconds", "Duration in seconds of the most recent terminated deployment run", defaultLabels)
}

// NewCollectorGateScore exposes the security gate score (0-100) of the most
// recent run.
func NewCollectorGateScore() prometheus.Collector {
	return newGaugeVec("deployment_gate_score", "Security gate score of the most recent deployment run", defaultLabels)
}

// NewCollectorGateStatus exposes whether the security gate of the most
// recent run passed (1) or not (0).
func NewCollectorGateStatus() prometheus.Collector {
	return newGaugeVec("deployment_gate_status", "Whether the security gate of the most recent deployment run passed", defaultLabels)
}

// NewCollectorGateViolations counts the gate rule violations of the most
// recent run, per rule.
func NewCollectorGateViolations() prometheus.Collector {
	return newGaugeVec("deployment_gate_violations", "Violations of one security gate rule within the most recent deployment run", ruleLabels)
}

// NewCollectorScanFindings exposes the normalized scan measurements of the
// most recent run, per tool and metric name.
func NewCollectorScanFindings() prometheus.Collector {
	return newGaugeVec("deployment_scan_findings", "Normalized scan measurement of the most recent deployment run", scanLabels)
}

// NewCollectorRiskInformation carries the release type and risk tier of the
// most recent production bound run as labels.
func NewCollectorRiskInformation() prometheus.Collector {
	return newGaugeVec("deployment_risk_information", "Release classification of the most recent production bound deployment run", riskLabels)
}

// NewCollectorEnvironmentDeploymentCount counts the deployments attempted
// towards an environment.
func NewCollectorEnvironmentDeploymentCount() prometheus.Collector {
	return newCounterVec("deployment_environment_count", "Number of deployments attempted towards an environment", environmentLabels)
}

// NewCollectorEnvironmentDeploymentDurationSeconds measures the duration of
// the most recent deployment towards an environment.
func NewCollectorEnvironmentDeploymentDurationSeconds() prometheus.Collector {
	return newGaugeVec("deployment_environment_duration_seconds", "Duration in seconds of the most recent deployment towards an environment", environmentLabels)
}

// NewCollectorEnvironmentDeploymentStatus exposes the status of the most
// recent deployment towards an environment as a dense 0/1 vector.
func NewCollectorEnvironmentDeploymentStatus() prometheus.Collector {
	return newGaugeVec("deployment_environment_status", "Status of the most recent deployment towards an environment", append(environmentLabels, "status"))
}

// NewCollectorApprovalWaitDurationSeconds measures how long the most recent
// risk gated run waited for its approval signal.
func NewCollectorApprovalWaitDurationSeconds() prometheus.Collector {
	return newGaugeVec("deployment_approval_wait_duration_seconds", "Duration in seconds the most recent run waited for an approval signal", defaultLabels)
}
