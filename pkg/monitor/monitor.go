package monitor

import "time"

// TaskSchedulingStatus tracks when a recurring task last ran and when its
// next run is due.
type TaskSchedulingStatus struct {
	Last time.Time
	Next time.Time
}

// Entity carries the amount of objects of a given kind held in the store,
// along with the garbage collection schedule covering them.
type Entity struct {
	Count  int64     `json:"count"`   // Total amount of stored objects of this kind
	LastGC time.Time `json:"last_gc"` // The last time these objects were garbage collected
	NextGC time.Time `json:"next_gc"` // The next time these objects will be garbage collected
}

// Telemetry is the point in time snapshot served to the monitoring CLI over
// the internal monitoring listener.
type Telemetry struct {
	GitlabVersion           string  `json:"gitlab_version"`             // Version of the GitLab instance, empty until the first metadata refresh
	GitlabAPIUsage          float64 `json:"gitlab_api_usage"`           // Observed request rate relative to the configured maximum
	GitlabAPIRequestsCount  uint64  `json:"gitlab_api_requests_count"`  // Total number of GitLab API requests performed
	GitlabAPIRateLimit      float64 `json:"gitlab_api_rate_limit"`      // Remaining share of the GitLab API rate limit
	GitlabAPILimitRemaining int     `json:"gitlab_api_limit_remaining"` // Number of requests left before throttling

	TasksBufferUsage   float64 `json:"tasks_buffer_usage"`   // Fill ratio of the internal task queue
	TasksExecutedCount uint64  `json:"tasks_executed_count"` // Total number of tasks executed so far

	Records  Entity `json:"records"`  // Deployment record figures
	Releases Entity `json:"releases"` // Production release figures
	Refs     Entity `json:"refs"`     // Tracked ref figures
	Metrics  Entity `json:"metrics"`  // Stored metric figures
}
