package config

// Scans configures the scan tool collaborators queried during the scan stage
// of each deployment run.
type Scans struct {
	CodeQuality ScanTool `yaml:"code_quality"` // CodeQuality configures the code quality analysis tool.
	SAST        ScanTool `yaml:"sast"`         // SAST configures the static application security testing tool.
	SCA         ScanTool `yaml:"sca"`          // SCA configures the software composition analysis tool.
	IaC         ScanTool `yaml:"iac"`          // IaC configures the infrastructure-as-code scanning tool.

	// TimeoutSeconds bounds each individual scan tool request. A tool which
	// does not answer within the timeout is reported as unavailable, which
	// blocks the run. Defaults to 30 seconds.
	TimeoutSeconds int `default:"30" validate:"gte=1" yaml:"timeout_seconds"`

	// MaximumRequestsPerSecond caps the outbound request rate towards each
	// scan tool, runs polling the same tool concurrently share its budget.
	// Defaults to 10.
	MaximumRequestsPerSecond int `default:"10" validate:"gte=1" yaml:"maximum_requests_per_second"`
}

// ScanTool holds the connection settings of one scan tool.
type ScanTool struct {
	// Enabled toggles querying this tool. Disabled tools do not feed the
	// security gate. Defaults to true.
	Enabled bool `default:"true" yaml:"enabled"`

	// URL is the API endpoint of the tool. Required when the tool is enabled.
	URL string `validate:"required_if=Enabled true,omitempty,url" yaml:"url"`

	// Token is the authentication token used to access the tool's API.
	Token string `yaml:"token"`
}
