package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

// awaitApproval suspends the run until an approval signal lands on the
// record, then terminates the record when the signal denies or cancels it.
// The returned boolean reports whether the run may proceed to the deploy
// loop. The wait carries no internal timeout; ending it belongs to an
// approver, a canceller or the process shutting down.
func (c *Controller) awaitApproval(ctx context.Context, record *schemas.DeploymentRecord) bool {
	if err := c.transition(ctx, record, schemas.RunStateAwaitingApproval); err != nil {
		log.WithContext(ctx).
			WithField("record-id", record.ID.String()).
			WithError(err).
			Error("suspending deployment run for approval")

		return false
	}

	log.WithFields(log.Fields{
		"record-id":    record.ID.String(),
		"project-name": record.Request.ProjectName,
		"risk-level":   record.Risk.RiskLevel,
	}).Info("deployment suspended, awaiting approval")

	suspendedAt := time.Now()
	signal, err := c.waitForApprovalSignal(ctx, record)

	c.emitApprovalWaitMetric(ctx, *record, time.Since(suspendedAt))

	if err != nil {
		c.failRun(ctx, record, errors.Wrap(err, "awaiting approval"))

		return false
	}

	record.Approval = &signal

	if signal.Cancelled {
		detail := fmt.Errorf("run cancelled while awaiting approval")
		if signal.Approver != "" {
			detail = fmt.Errorf("run cancelled by %s while awaiting approval", signal.Approver)
		}

		c.failRun(ctx, record, detail)

		return false
	}

	if !signal.Approved {
		c.blockRun(ctx, record, errors.Wrapf(schemas.ErrApprovalDenied, "denied by %s", signal.Approver))

		return false
	}

	log.WithFields(log.Fields{
		"record-id": record.ID.String(),
		"approver":  signal.Approver,
	}).Info("deployment approved")

	return true
}

// waitForApprovalSignal polls the stored record until an approval signal
// appears on it or the context ends.
func (c *Controller) waitForApprovalSignal(ctx context.Context, record *schemas.DeploymentRecord) (schemas.ApprovalSignal, error) {
	interval := time.Duration(c.Config.Risk.ApprovalCheckIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)

	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return schemas.ApprovalSignal{}, ctx.Err()
		case <-ticker.C:
			stored := schemas.DeploymentRecord{ID: record.ID}
			if err := c.Store.GetRecord(ctx, &stored); err != nil {
				log.WithContext(ctx).
					WithField("record-id", record.ID.String()).
					WithError(err).
					Error("reading deployment record from the store")

				continue
			}

			if stored.Approval == nil {
				continue
			}

			return *stored.Approval, nil
		}
	}
}

// errNotAwaitingApproval rejects approval signals towards runs which are
// not suspended.
var errNotAwaitingApproval = errors.New("run is not awaiting approval")

// SetApproval attaches an approval signal to a suspended record. The
// suspended run picks it up on its next poll.
func (c *Controller) SetApproval(ctx context.Context, id string, signal schemas.ApprovalSignal) error {
	record, err := c.getRecordByID(ctx, id)
	if err != nil {
		return err
	}

	if record.State != schemas.RunStateAwaitingApproval {
		return errors.Wrap(errNotAwaitingApproval, id)
	}

	signal.ReceivedAt = time.Now().UTC()
	record.Approval = &signal
	record.UpdatedAt = time.Now().UTC()

	if err := c.Store.SetRecord(ctx, record); err != nil {
		return errors.Wrap(err, "writing deployment record in the store")
	}

	log.WithFields(log.Fields{
		"record-id": id,
		"approved":  signal.Approved,
		"cancelled": signal.Cancelled,
		"approver":  signal.Approver,
	}).Info("received approval signal")

	return nil
}
