package config

import (
	"net/url"
)

// Global holds settings passed as process-wide flags rather than through the
// configuration file.
type Global struct {
	// InternalMonitoringListenerAddress is where the orchestrator exposes its
	// telemetry to the monitoring CLI.
	InternalMonitoringListenerAddress *url.URL
}
