package controller

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

// AcceptDeploymentRequest validates a deployment request, persists its
// pending record and schedules the run. The record returns immediately; the
// run itself executes asynchronously on the task queue.
func (c *Controller) AcceptDeploymentRequest(ctx context.Context, req schemas.DeploymentRequest) (schemas.DeploymentRecord, error) {
	if req.ProjectName == "" {
		req.ProjectName = c.Config.Project.Name
	}

	if req.ProjectName != c.Config.Project.Name {
		return schemas.DeploymentRecord{}, fmt.Errorf("project (%s) is not managed by this orchestrator", req.ProjectName)
	}

	if err := req.Validate(); err != nil {
		return schemas.DeploymentRecord{}, err
	}

	record := schemas.NewDeploymentRecord(req)

	if err := c.Store.SetRecord(ctx, record); err != nil {
		return schemas.DeploymentRecord{}, errors.Wrap(err, "writing deployment record in the store")
	}

	log.WithFields(log.Fields{
		"record-id":    record.ID.String(),
		"project-name": req.ProjectName,
		"ref":          req.Ref,
		"trigger":      req.Trigger,
	}).Info("accepted deployment request")

	c.ScheduleTask(ctx, schemas.TaskTypeDeploymentRun, record.ID.String(), record.ID.String())

	return record, nil
}

// NewRollbackRun creates and schedules a rollback of a previous record,
// restoring the exact artifacts its successful environments received. The
// rollback reuses the original run's resolved versions and skips building,
// scanning and gating altogether.
func (c *Controller) NewRollbackRun(ctx context.Context, originalID, actor string, trigger schemas.TriggerKind) (schemas.DeploymentRecord, error) {
	original, err := c.getRecordByID(ctx, originalID)
	if err != nil {
		return schemas.DeploymentRecord{}, err
	}

	targets := make(schemas.DeploymentTargetSet, 0, len(original.Environments))

	for _, outcome := range original.Environments {
		if outcome.Status != schemas.DeployStatusSucceeded {
			continue
		}

		targets = append(targets, schemas.DeploymentTarget{
			Environment: outcome.Environment,
			Version:     outcome.Version,
		})
	}

	if len(targets) == 0 {
		return schemas.DeploymentRecord{}, errors.Wrap(schemas.ErrRollbackTargetInvalid, "record has no successful deployment to restore")
	}

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: original.Request.ProjectName,
		Ref:         original.Request.Ref,
		RefKind:     original.Request.RefKind,
		CommitSha:   original.CommitSha,
		Actor:       actor,
		Trigger:     trigger,
	})

	record.SkipBuild = true
	record.RollbackOf = original.Key()
	record.CommitSha = original.CommitSha
	record.Targets = targets

	if err := c.Store.SetRecord(ctx, record); err != nil {
		return schemas.DeploymentRecord{}, errors.Wrap(err, "writing deployment record in the store")
	}

	log.WithFields(log.Fields{
		"record-id":    record.ID.String(),
		"rollback-of":  originalID,
		"project-name": record.Request.ProjectName,
		"actor":        actor,
	}).Info("accepted rollback request")

	c.ScheduleTask(ctx, schemas.TaskTypeDeploymentRun, record.ID.String(), record.ID.String())

	return record, nil
}
