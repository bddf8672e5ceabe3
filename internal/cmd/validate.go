package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Validate loads the configuration and reports whether it passes validation,
// without starting the orchestrator.
func Validate(cliCtx *cli.Context) (int, error) {
	log.Debug("Validating configuration..")

	cfg, err := configure(cliCtx)
	if err != nil {
		log.WithError(err).Error("Failed to configure")

		return 1, err
	}

	log.WithField("project", cfg.Project.Name).Debug("Configuration is valid")

	return 0, nil
}
