package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/deployment-orchestrator/pkg/deployer"
	"github.com/helvethink/deployment-orchestrator/pkg/notifier"
	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

// deployTargets walks the targeted environments in deployment order and
// deploys each one. A blocking condition (a failed gate scope, a cancelled
// context) marks every remaining environment skipped; plain deployment
// failures are recorded and the loop carries on to give the remaining
// environments their chance. Rollback runs pass a nil gate map, their
// artifacts were gated when first released.
func (c *Controller) deployTargets(ctx context.Context, record *schemas.DeploymentRecord, gates map[schemas.GateScope]schemas.GateResult) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:deployTargets")
	defer span.End()
	span.SetAttributes(attribute.String("record_id", record.ID.String()))

	var (
		fatal  error
		failed []string
	)

	for _, env := range schemas.EnvironmentsByDeploymentOrder {
		if !record.Targets.Includes(env) {
			continue
		}

		version, _ := record.Targets.Version(env)

		outcome := schemas.EnvironmentOutcome{
			Environment: env,
			Version:     version,
			Status:      schemas.DeployStatusPending,
		}

		if fatal == nil && ctx.Err() != nil {
			fatal = errors.Wrap(ctx.Err(), "run cancelled")
		}

		if fatal != nil {
			outcome.Status = schemas.DeployStatusSkipped
			outcome.Error = "skipped after a blocking failure"

			record.SetOutcome(outcome)

			continue
		}

		if !record.SkipBuild {
			if gate := gates[env.GateScope()]; !gate.Passed {
				log.WithFields(log.Fields{
					"record-id":   record.ID.String(),
					"environment": env,
					"scope":       env.GateScope(),
				}).Warn("security gate blocked deployment")

				outcome.Status = schemas.DeployStatusSkipped
				outcome.Error = fmt.Sprintf("security gate blocked (%s)", gate.BlockReason)
				fatal = gateBlockError(gate)

				record.SetOutcome(outcome)

				continue
			}
		}

		outcome.StartedAt = time.Now().UTC()

		resp, err := c.Deployer.Deploy(ctx, env, deployer.Request{
			ProjectName: record.Request.ProjectName,
			Version:     version.Raw,
			CommitSha:   record.CommitSha,
			RecordID:    record.ID.String(),
			SkipBuild:   record.SkipBuild,
		})

		outcome.FinishedAt = time.Now().UTC()

		switch {
		case err != nil:
			outcome.Status = schemas.DeployStatusFailed
			outcome.Error = err.Error()
			failed = append(failed, string(env))

			log.WithContext(ctx).
				WithFields(log.Fields{
					"record-id":   record.ID.String(),
					"environment": env,
					"version":     version.Raw,
				}).
				WithError(err).
				Warn("environment deployment failed")
		case !resp.Succeeded():
			outcome.Status = schemas.DeployStatusFailed
			outcome.Error = resp.Error
			failed = append(failed, string(env))

			log.WithFields(log.Fields{
				"record-id":   record.ID.String(),
				"environment": env,
				"version":     version.Raw,
				"status":      resp.Status,
			}).Warn("environment deployment failed")
		default:
			outcome.Status = schemas.DeployStatusSucceeded
			outcome.URL = resp.URL

			log.WithFields(log.Fields{
				"record-id":   record.ID.String(),
				"environment": env,
				"version":     version.Raw,
			}).Info("environment deployment succeeded")

			if env == schemas.EnvironmentProduction {
				c.recordRelease(ctx, *record, version)
			}
		}

		record.SetOutcome(outcome)
		c.emitDeploymentMetrics(ctx, *record, outcome)
		c.notifyOutcome(ctx, *record, outcome)
	}

	if fatal != nil {
		return fatal
	}

	if len(failed) > 0 {
		return errors.Wrapf(schemas.ErrDeployFailed, "environments: %s", strings.Join(failed, ", "))
	}

	return nil
}

// recordRelease persists a successful production deployment as the project's
// current release. Rollback runs go through here as well, moving the live
// release pointer back to the restored version.
func (c *Controller) recordRelease(ctx context.Context, record schemas.DeploymentRecord, version schemas.ResolvedVersion) {
	release := schemas.Release{
		ProjectName: record.Request.ProjectName,
		Version:     version.Raw,
		RecordID:    record.ID.String(),
		DeployedAt:  time.Now().UTC(),
	}

	if err := c.Store.SetRelease(ctx, release); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"project-name": release.ProjectName,
				"version":      release.Version,
			}).
			WithError(err).
			Error("writing release in the store")
	}

	if err := c.Store.SetCurrentRelease(ctx, release); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"project-name": release.ProjectName,
				"version":      release.Version,
			}).
			WithError(err).
			Error("writing current release in the store")
	}

	log.WithFields(log.Fields{
		"project-name": release.ProjectName,
		"version":      release.Version,
		"record-id":    release.RecordID,
	}).Info("recorded production release")
}

// notifyOutcome reports a per environment deployment outcome to the
// notification sink.
func (c *Controller) notifyOutcome(ctx context.Context, record schemas.DeploymentRecord, outcome schemas.EnvironmentOutcome) {
	event := notifier.Event{
		Type:        notifier.EventTypeEnvironmentOutcome,
		ProjectName: record.Request.ProjectName,
		RecordID:    record.ID.String(),
		Ref:         record.Request.Ref,
		Environment: string(outcome.Environment),
		Version:     outcome.Version.Raw,
		Status:      string(outcome.Status),
		Detail:      outcome.Error,
	}

	if err := c.Notifier.Notify(ctx, event); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"record-id":   record.ID.String(),
				"environment": outcome.Environment,
			}).
			WithError(err).
			Warn("delivering environment outcome notification")
	}
}
