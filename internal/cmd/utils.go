package cmd

import (
	"fmt"
	stdlibLog "log"
	"net/url"
	"os"
	"time"

	"github.com/go-logr/stdr"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otellogrus"
	"github.com/urfave/cli/v2"
	"github.com/vmihailenco/taskq/v4"

	logger "github.com/helvethink/deployment-orchestrator/internal/logging"
	"github.com/helvethink/deployment-orchestrator/pkg/config"
)

var start time.Time

// configure loads the configuration file, applies CLI overrides, validates
// the result and sets up process-wide logging.
func configure(ctx *cli.Context) (config.Config, error) {
	start = ctx.App.Metadata["startTime"].(time.Time)

	assertStringVariableDefined(ctx, "config")

	cfg, err := config.ParseFile(ctx.String("config"))
	if err != nil {
		return cfg, err
	}

	cfg.Global, err = parseGlobalFlags(ctx)
	if err != nil {
		return cfg, err
	}

	configCliOverrides(ctx, &cfg)

	if err = cfg.Validate(); err != nil {
		return cfg, err
	}

	if err = logger.Configure(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}); err != nil {
		return cfg, err
	}

	// Error-ish log entries carry the active trace context.
	log.AddHook(otellogrus.NewHook(otellogrus.WithLevels(
		log.PanicLevel,
		log.FatalLevel,
		log.ErrorLevel,
		log.WarnLevel,
	)))

	// taskq logs through the stdlib logger, reroute it into logrus.
	taskq.SetLogger(stdr.New(stdlibLog.New(log.StandardLogger().WriterLevel(log.WarnLevel), "taskq", 0)))

	log.WithFields(
		log.Fields{
			"project":           cfg.Project.Name,
			"gitlab-endpoint":   cfg.Gitlab.URL,
			"gitlab-rate-limit": fmt.Sprintf("%drps", cfg.Gitlab.MaximumRequestsPerSecond),
		},
	).Info("configured")

	log.WithFields(config.SchedulerConfig(cfg.GarbageCollect.Records).Log()).Info("garbage collect records")

	return cfg, nil
}

// parseGlobalFlags parses the flags shared by every subcommand.
func parseGlobalFlags(ctx *cli.Context) (cfg config.Global, err error) {
	if listenerAddr := ctx.String("internal-monitoring-listener-address"); listenerAddr != "" {
		cfg.InternalMonitoringListenerAddress, err = url.Parse(listenerAddr)
	}

	return
}

// exit logs the execution time and error (if any), then returns a CLI exit code.
func exit(exitCode int, err error) cli.ExitCoder {
	defer log.WithFields(
		log.Fields{
			"execution-time": time.Since(start), // nolint: govet
		},
	).Debug("exited..")

	if err != nil {
		log.WithError(err).Error()
	}

	return cli.Exit("", exitCode)
}

// ExecWrapper adapts our `run` functions into urfave/cli actions with logged,
// clean exits.
func ExecWrapper(f func(ctx *cli.Context) (int, error)) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		return exit(f(ctx))
	}
}

// configCliOverrides lets sensitive values be passed on the command line (or
// via environment) instead of being written into the configuration file.
func configCliOverrides(ctx *cli.Context, cfg *config.Config) {
	if ctx.String("gitlab-token") != "" {
		cfg.Gitlab.Token = ctx.String("gitlab-token")
	}

	if cfg.Server.Webhook.Enabled {
		if ctx.String("webhook-secret-token") != "" {
			cfg.Server.Webhook.SecretToken = ctx.String("webhook-secret-token")
		}
	}

	if cfg.Server.API.Enabled {
		if ctx.String("api-token") != "" {
			cfg.Server.API.Token = ctx.String("api-token")
		}
	}

	if ctx.String("redis-url") != "" {
		cfg.Redis.URL = ctx.String("redis-url")
	}

	if healthURL := ctx.String("gitlab-health-url"); healthURL != "" {
		cfg.Gitlab.HealthURL = healthURL
		cfg.Gitlab.EnableHealthCheck = true
	}
}

// assertStringVariableDefined exits with usage help when a required flag is
// missing.
func assertStringVariableDefined(ctx *cli.Context, k string) {
	if len(ctx.String(k)) == 0 {
		_ = cli.ShowAppHelp(ctx)

		log.Errorf("'--%s' must be set!", k)
		os.Exit(2)
	}
}
