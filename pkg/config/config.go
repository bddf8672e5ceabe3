package config

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var validate *validator.Validate

// Config holds the whole orchestrator configuration.
type Config struct {
	// Global carries settings shared through the process lifetime, it is
	// populated from CLI flags and never serialized.
	Global Global `yaml:",omitempty"`

	Log            Log            `yaml:"log"`
	OpenTelemetry  OpenTelemetry  `yaml:"opentelemetry"`
	Server         Server         `yaml:"server"`
	Gitlab         Gitlab         `yaml:"gitlab"`
	Redis          Redis          `yaml:"redis"`
	Project        Project        `yaml:"project"`
	Gate           Gate           `yaml:"gate"`
	Risk           Risk           `yaml:"risk"`
	Scans          Scans          `yaml:"scans"`
	Deploy         Deploy         `yaml:"deploy"`
	Notifications  Notifications  `yaml:"notifications"`
	GarbageCollect GarbageCollect `yaml:"garbage_collect"`
}

// Log configures runtime logging.
type Log struct {
	// Level of logging verbosity, trace through panic.
	Level string `default:"info" validate:"required,oneof=trace debug info warning error fatal panic"`

	// Format of the log output, text or json.
	Format string `default:"text" validate:"oneof=text json"`
}

// OpenTelemetry configures the tracing export.
type OpenTelemetry struct {
	// GRPCEndpoint of the OpenTelemetry collector traces are shipped to.
	// Tracing stays disabled when left empty.
	GRPCEndpoint string `yaml:"grpc_endpoint"`
}

// Server configures the HTTP server.
type Server struct {
	ListenAddress string        `default:":8080" yaml:"listen_address"`
	EnablePprof   bool          `default:"false" yaml:"enable_pprof"`
	Metrics       ServerMetrics `yaml:"metrics"`
	Webhook       ServerWebhook `yaml:"webhook"`
	API           ServerAPI     `yaml:"api"`
}

// ServerMetrics configures the /metrics endpoint.
type ServerMetrics struct {
	EnableOpenmetricsEncoding bool `default:"false" yaml:"enable_openmetrics_encoding"`
	Enabled                   bool `default:"true" yaml:"enabled"`
}

// ServerWebhook configures the /webhook endpoint.
type ServerWebhook struct {
	Enabled bool `default:"false" yaml:"enabled"`

	// SecretToken authenticates incoming webhook deliveries, required when
	// the endpoint is enabled.
	SecretToken string `validate:"required_if=Enabled true" yaml:"secret_token"`
}

// ServerAPI configures the /api/deployments endpoints used to dispatch
// manual deployments, approvals and rollbacks.
type ServerAPI struct {
	Enabled bool `default:"true" yaml:"enabled"`

	// Token protects the API with bearer authentication, unauthenticated
	// access is allowed when left empty.
	Token string `yaml:"token"`
}

// Gitlab configures the connection towards the GitLab instance.
type Gitlab struct {
	URL string `default:"https://gitlab.com" validate:"required,url" yaml:"url"`

	// HealthURL is probed by the readiness checks.
	HealthURL string `default:"https://gitlab.com/explore" validate:"required,url" yaml:"health_url"`

	Token                      string `validate:"required" yaml:"token"`
	EnableHealthCheck          bool   `default:"true" yaml:"enable_health_check"`
	EnableTLSVerify            bool   `default:"true" yaml:"enable_tls_verify"`
	MaximumRequestsPerSecond   int    `default:"5" validate:"gte=1" yaml:"maximum_requests_per_second"`
	BurstableRequestsPerSecond int    `default:"5" validate:"gte=1" yaml:"burstable_requests_per_second"`
	MaximumJobsQueueSize       int    `default:"1000" validate:"gte=10" yaml:"maximum_jobs_queue_size"`
}

// Redis configures the optional shared state backend.
type Redis struct {
	// URL such as redis[s]://[:password@]host[:port][/db-number][?option=value]
	URL string `yaml:"url"`
}

// Notifications configures the outbound sink receiving one event per
// deployment outcome.
type Notifications struct {
	Enabled bool `default:"false" yaml:"enabled"`

	// URL deployment outcome events are posted to, required when enabled.
	URL string `validate:"required_if=Enabled true,omitempty,url" yaml:"url"`

	// Token is sent as a bearer token with each notification request.
	Token string `yaml:"token"`
}

// GarbageCollect configures the cleanup of terminated deployment records.
type GarbageCollect struct {
	Records struct {
		OnInit          bool `default:"false" yaml:"on_init"`
		Scheduled       bool `default:"true" yaml:"scheduled"`
		IntervalSeconds int  `default:"3600" validate:"gte=1" yaml:"interval_seconds"`
	} `yaml:"records"`

	// RecordsRetentionHours sets how long terminated deployment records are
	// kept before being collected. Defaults to 30 days.
	RecordsRetentionHours int `default:"720" validate:"gte=1" yaml:"records_retention_hours"`
}

// UnmarshalYAML decodes into a defaulted shadow struct first so that fields
// absent from the input keep their default values.
func (c *Config) UnmarshalYAML(v *yaml.Node) error {
	type localConfig struct {
		Log            Log            `yaml:"log"`
		OpenTelemetry  OpenTelemetry  `yaml:"opentelemetry"`
		Server         Server         `yaml:"server"`
		Gitlab         Gitlab         `yaml:"gitlab"`
		Redis          Redis          `yaml:"redis"`
		Project        Project        `yaml:"project"`
		Gate           Gate           `yaml:"gate"`
		Risk           Risk           `yaml:"risk"`
		Scans          Scans          `yaml:"scans"`
		Deploy         Deploy         `yaml:"deploy"`
		Notifications  Notifications  `yaml:"notifications"`
		GarbageCollect GarbageCollect `yaml:"garbage_collect"`
	}

	local := localConfig{}
	defaults.MustSet(&local)

	if err := v.Decode(&local); err != nil {
		return err
	}

	c.Log = local.Log
	c.OpenTelemetry = local.OpenTelemetry
	c.Server = local.Server
	c.Gitlab = local.Gitlab
	c.Redis = local.Redis
	c.Project = local.Project
	c.Gate = local.Gate
	c.Risk = local.Risk
	c.Scans = local.Scans
	c.Deploy = local.Deploy
	c.Notifications = local.Notifications
	c.GarbageCollect = local.GarbageCollect

	return nil
}

// ToYAML renders the configuration with every secret masked, suitable for
// logging.
func (c Config) ToYAML() string {
	c.Global = Global{}

	c.Server.Webhook.SecretToken = "*******"
	c.Server.API.Token = "*******"
	c.Gitlab.Token = "*******"
	c.Scans.CodeQuality.Token = "*******"
	c.Scans.SAST.Token = "*******"
	c.Scans.SCA.Token = "*******"
	c.Scans.IaC.Token = "*******"
	c.Deploy.Endpoints.Development.Token = "*******"
	c.Deploy.Endpoints.Staging.Token = "*******"
	c.Deploy.Endpoints.PreProduction.Token = "*******"
	c.Deploy.Endpoints.Production.Token = "*******"
	c.Notifications.Token = "*******"

	b, err := yaml.Marshal(c)
	if err != nil {
		panic(err)
	}

	return string(b)
}

// Validate the configuration against its struct tags.
func (c Config) Validate() error {
	if validate == nil {
		validate = validator.New()
		_ = validate.RegisterValidation("at-least-1-deploy-endpoint", ValidateAtLeastOneDeployEndpoint)
	}

	return validate.Struct(c)
}

// SchedulerConfig drives when a background task runs.
type SchedulerConfig struct {
	OnInit          bool
	Scheduled       bool
	IntervalSeconds int
}

// Log renders the scheduling behavior as log fields.
func (sc SchedulerConfig) Log() log.Fields {
	onInit, scheduled := "no", "no"

	if sc.OnInit {
		onInit = "yes"
	}

	if sc.Scheduled {
		scheduled = fmt.Sprintf("every %vs", sc.IntervalSeconds)
	}

	return log.Fields{
		"on-init":   onInit,
		"scheduled": scheduled,
	}
}

// New returns a Config with default values set.
func New() (c Config) {
	defaults.MustSet(&c)

	return
}
