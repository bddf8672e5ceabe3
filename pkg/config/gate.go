package config

// Gate holds the security gate thresholds. They are read once at the start of
// each deployment run; edits apply to subsequent runs only.
type Gate struct {
	// MinCoverage is the minimum accepted test coverage percentage.
	// Defaults to 80.
	MinCoverage int `default:"80" validate:"gte=0,lte=100" yaml:"min_coverage"`

	// MaxCritical is the maximum accepted number of critical severity
	// vulnerabilities across the security scan tools. Defaults to 0.
	MaxCritical int `default:"0" validate:"gte=0" yaml:"max_critical"`

	// MaxHigh is the maximum accepted number of high severity vulnerabilities
	// across the security scan tools. Defaults to 5.
	MaxHigh int `default:"5" validate:"gte=0" yaml:"max_high"`

	// MaxMedium is the maximum accepted number of medium severity
	// vulnerabilities across the security scan tools. Defaults to 20.
	MaxMedium int `default:"20" validate:"gte=0" yaml:"max_medium"`

	// MaxBlocker is the maximum accepted number of blocker issues reported by
	// the code quality tool. Defaults to 0.
	MaxBlocker int `default:"0" validate:"gte=0" yaml:"max_blocker"`

	// MaxCriticalIssues is the maximum accepted number of critical issues
	// reported by the code quality tool. Defaults to 5.
	MaxCriticalIssues int `default:"5" validate:"gte=0" yaml:"max_critical_issues"`

	// PassThreshold is the minimum gate score of a passing run.
	// Defaults to 50.
	PassThreshold int `default:"50" validate:"gte=0,lte=100" yaml:"pass_threshold"`
}

// Risk tunes the risk assessment of production bound releases.
type Risk struct {
	// EmergencyBypassApproval allows emergency deployments to skip the
	// approval step. Defaults to true.
	EmergencyBypassApproval bool `default:"true" yaml:"emergency_bypass_approval"`

	// ApprovalCheckIntervalSeconds is how often a suspended run polls the
	// store for an approval signal. Runs wait indefinitely; ending the wait
	// is the approver's (or canceller's) call, never a timeout. Defaults to
	// 5 seconds.
	ApprovalCheckIntervalSeconds int `default:"5" validate:"gte=1" yaml:"approval_check_interval_seconds"`

	// LevelOverrides replaces the default release type to risk level mapping
	// (patch: medium, minor: high, major: critical, hotfix: high) for the
	// listed release types.
	LevelOverrides map[string]string `validate:"dive,oneof=low medium high critical" yaml:"level_overrides"`
}
