package cmd

import (
	"github.com/urfave/cli/v2"

	monitorUI "github.com/helvethink/deployment-orchestrator/pkg/monitor/ui"
)

// Monitor starts the terminal monitoring UI against a running orchestrator's
// internal listener.
func Monitor(ctx *cli.Context) (int, error) {
	cfg, err := parseGlobalFlags(ctx)
	if err != nil {
		return 1, err
	}

	monitorUI.Start(
		ctx.App.Version,
		cfg.InternalMonitoringListenerAddress,
	)

	return 0, nil
}
