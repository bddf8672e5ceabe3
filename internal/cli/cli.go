package cli

import (
	"fmt"
	"os"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/helvethink/deployment-orchestrator/internal/cmd"
)

// Run handles the instantiation of the CLI application.
func Run(version string, args []string) {
	err := NewApp(version, time.Now()).Run(args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// NewApp configures the CLI application.
func NewApp(version string, start time.Time) (app *cli.App) {
	app = cli.NewApp()
	app.Name = "deployment-orchestrator"
	app.Version = version
	app.Usage = "GitLab driven deployment orchestrator"
	app.EnableBashCompletion = true

	// The monitoring listener address is shared between the `run` and the
	// `monitor` commands, hence defined globally
	app.Flags = cli.FlagsByName{
		&cli.StringFlag{
			Name:    "internal-monitoring-listener-address",
			Aliases: []string{"m"},
			EnvVars: []string{"DO_INTERNAL_MONITORING_LISTENER_ADDRESS"},
			Usage:   "internal monitoring listener `address`",
		},
	}

	app.Commands = cli.CommandsByName{
		{
			Name:   "run",
			Usage:  "start the orchestrator",
			Action: cmd.ExecWrapper(cmd.Run),
			Flags: cli.FlagsByName{
				&cli.StringFlag{
					Name:    "config",
					Aliases: []string{"c"},
					EnvVars: []string{"DO_CONFIG"},
					Usage:   "config `file`",
					Value:   "./deployment-orchestrator.yml",
				},
				&cli.StringFlag{
					Name:    "redis-url",
					EnvVars: []string{"DO_REDIS_URL"},
					Usage:   "redis `url` for an HA setup (format: redis[s]://[:password@]host[:port][/db-number][?option=value])",
				},
				&cli.StringFlag{
					Name:    "gitlab-token",
					EnvVars: []string{"DO_GITLAB_TOKEN"},
					Usage:   "GitLab API access `token`",
				},
				&cli.StringFlag{
					Name:    "gitlab-health-url",
					EnvVars: []string{"DO_GITLAB_HEALTH_URL"},
					Usage:   "GitLab health `url` probed by the readiness checks",
				},
				&cli.StringFlag{
					Name:    "webhook-secret-token",
					EnvVars: []string{"DO_WEBHOOK_SECRET_TOKEN"},
					Usage:   "`token` expected on incoming GitLab webhook requests",
				},
				&cli.StringFlag{
					Name:    "api-token",
					EnvVars: []string{"DO_API_TOKEN"},
					Usage:   "bearer `token` protecting the deployment API endpoints",
				},
			},
		},
		{
			Name:   "validate",
			Usage:  "validate the configuration file",
			Action: cmd.ExecWrapper(cmd.Validate),
			Flags: cli.FlagsByName{
				&cli.StringFlag{
					Name:    "config",
					Aliases: []string{"c"},
					EnvVars: []string{"DO_CONFIG"},
					Usage:   "config `file`",
					Value:   "./deployment-orchestrator.yml",
				},
			},
		},
		{
			Name:   "monitor",
			Usage:  "watch the orchestrator from the terminal",
			Action: cmd.ExecWrapper(cmd.Monitor),
		},
	}

	app.Metadata = map[string]interface{}{
		"startTime": start,
	}

	return
}
