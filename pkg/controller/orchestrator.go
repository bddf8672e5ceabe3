package controller

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/deployment-orchestrator/pkg/notifier"
	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

// ExecuteDeploymentRun loads a queued deployment record and drives it through
// the orchestration state machine.
func (c *Controller) ExecuteDeploymentRun(ctx context.Context, id string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:ExecuteDeploymentRun")
	defer span.End()
	span.SetAttributes(attribute.String("record_id", id))

	record, err := c.getRecordByID(ctx, id)
	if err != nil {
		return err
	}

	return c.ExecuteRun(ctx, record)
}

// ExecuteRun drives one deployment record through the orchestration stages:
// version resolution, scan aggregation, security gate evaluation, risk
// assessment and approval for production bound runs, then the ordered deploy
// loop. Run level failures never surface as errors; they terminate the record
// with the matching failure class instead. Only infrastructure errors (an
// impossible state transition, the store going away) are returned.
func (c *Controller) ExecuteRun(ctx context.Context, record schemas.DeploymentRecord) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:ExecuteRun")
	defer span.End()
	span.SetAttributes(attribute.String("record_id", record.ID.String()))
	span.SetAttributes(attribute.String("project_name", record.Request.ProjectName))
	span.SetAttributes(attribute.String("ref", record.Request.Ref))

	logFields := log.Fields{
		"record-id":    record.ID.String(),
		"project-name": record.Request.ProjectName,
		"ref":          record.Request.Ref,
	}

	// Terminated records are immutable; a stale queue entry must not replay
	// them.
	if record.State.Terminal() {
		log.WithFields(logFields).Warn("deployment record already terminated, skipping run")

		return nil
	}

	// Rollback runs skip resolution, scanning and gating entirely.
	if record.SkipBuild {
		return c.executeRollbackRun(ctx, &record)
	}

	log.WithFields(logFields).
		WithField("trigger", record.Request.Trigger).
		Info("starting deployment run")

	// Stage 1: target selection and version resolution, serialized per ref
	// through the store lease.
	if err := c.resolveTargets(ctx, &record); err != nil {
		c.failRun(ctx, &record, err)

		return nil
	}

	if err := c.transition(ctx, &record, schemas.RunStateVersionResolved); err != nil {
		return err
	}

	// Stage 2: scan collection across all enabled tools.
	if err := c.transition(ctx, &record, schemas.RunStateScanning); err != nil {
		return err
	}

	scan := c.collectScanFindings(ctx, record)

	// Stage 3: security gate, evaluated once per targeted scope.
	gates := c.evaluateGates(ctx, &record, scan)

	if err := c.transition(ctx, &record, schemas.RunStateGateEvaluated); err != nil {
		return err
	}

	// The first target carries the least strict scope. When even that one is
	// blocked nothing can be deployed, so the run blocks without entering
	// the deploy loop.
	if gate := gates[record.Targets.Environments()[0].GateScope()]; !gate.Passed {
		c.blockRun(ctx, &record, gateBlockError(gate))

		return nil
	}

	// Stage 4: risk assessment and approval, production bound runs only.
	// Production is only ever targeted alone, so its gate verdict was the
	// one checked above.
	if record.Targets.Includes(schemas.EnvironmentProduction) {
		risk, err := c.assessRisk(ctx, &record)
		if err != nil {
			c.failRun(ctx, &record, err)

			return nil
		}

		record.Risk = &risk

		if err := c.transition(ctx, &record, schemas.RunStateRiskAssessed); err != nil {
			return err
		}

		c.emitRiskMetric(ctx, record)

		if risk.ApprovalRequired && !c.awaitApproval(ctx, &record) {
			// The record was terminated while suspended (denial or
			// cancellation).
			return nil
		}
	}

	// Stage 5: ordered deploy loop.
	if err := c.transition(ctx, &record, schemas.RunStateDeploying); err != nil {
		return err
	}

	if err := c.deployTargets(ctx, &record, gates); err != nil {
		if errors.Is(err, schemas.ErrGateBlocked) || errors.Is(err, schemas.ErrScanUnavailable) {
			c.blockRun(ctx, &record, err)
		} else {
			c.failRun(ctx, &record, err)
		}

		return nil
	}

	return c.completeRun(ctx, &record)
}

// executeRollbackRun redeploys the artifacts a previous record released. The
// targets were copied from the original record when the rollback was
// accepted; they only need their artifacts re-validated, not resolved, and
// the environments are deployed with the skip-build flag set.
func (c *Controller) executeRollbackRun(ctx context.Context, record *schemas.DeploymentRecord) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:executeRollbackRun")
	defer span.End()
	span.SetAttributes(attribute.String("record_id", record.ID.String()))
	span.SetAttributes(attribute.String("rollback_of", string(record.RollbackOf)))

	logFields := log.Fields{
		"record-id":    record.ID.String(),
		"project-name": record.Request.ProjectName,
		"rollback-of":  string(record.RollbackOf),
	}

	log.WithFields(logFields).Info("starting rollback run")

	if len(record.Targets) == 0 {
		c.failRun(ctx, record, errors.Wrap(schemas.ErrRollbackTargetInvalid, "rollback carries no deployment targets"))

		return nil
	}

	if err := c.transition(ctx, record, schemas.RunStateVersionResolved); err != nil {
		return err
	}

	// Every target artifact must still exist before anything is touched; a
	// partially impossible rollback helps nobody.
	for _, target := range record.Targets {
		available, err := c.Deployer.CheckArtifact(ctx, target.Environment, target.Version.Raw)
		if err != nil {
			c.failRun(ctx, record, errors.Wrap(err, "checking rollback artifact availability"))

			return nil
		}

		if !available {
			c.failRun(ctx, record, errors.Wrapf(schemas.ErrRollbackTargetInvalid,
				"version (%s) no longer resolves to a deployable artifact for environment %s", target.Version.Raw, target.Environment))

			return nil
		}
	}

	if err := c.transition(ctx, record, schemas.RunStateDeploying); err != nil {
		return err
	}

	if err := c.deployTargets(ctx, record, nil); err != nil {
		c.failRun(ctx, record, err)

		return nil
	}

	return c.completeRun(ctx, record)
}

// completeRun terminates a record whose deploy loop fully succeeded.
func (c *Controller) completeRun(ctx context.Context, record *schemas.DeploymentRecord) error {
	final := schemas.RunStateSucceeded
	if record.SkipBuild {
		final = schemas.RunStateRolledBack
	}

	if err := c.transition(ctx, record, final); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"record-id":    record.ID.String(),
		"project-name": record.Request.ProjectName,
		"state":        record.State,
	}).Info("deployment run terminated")

	return nil
}

// transition moves the record to the next state and persists it. An error is
// only returned when the state machine refuses the transition, which flags a
// bug in the orchestration flow rather than a run failure.
func (c *Controller) transition(ctx context.Context, record *schemas.DeploymentRecord, next schemas.RunState) error {
	if err := record.Transition(next); err != nil {
		return err
	}

	c.persistRun(ctx, record)

	return nil
}

// failRun terminates the record as failed, classifying the error into the
// failure taxonomy.
func (c *Controller) failRun(ctx context.Context, record *schemas.DeploymentRecord, err error) {
	log.WithContext(ctx).
		WithFields(log.Fields{
			"record-id":    record.ID.String(),
			"project-name": record.Request.ProjectName,
			"ref":          record.Request.Ref,
		}).
		WithError(err).
		Warn("deployment run failed")

	record.Fail(err)
	c.persistRun(ctx, record)
}

// blockRun terminates the record as blocked, either by the security gate or
// by a denied approval.
func (c *Controller) blockRun(ctx context.Context, record *schemas.DeploymentRecord, err error) {
	log.WithContext(ctx).
		WithFields(log.Fields{
			"record-id":    record.ID.String(),
			"project-name": record.Request.ProjectName,
			"ref":          record.Request.Ref,
		}).
		WithError(err).
		Warn("deployment run blocked")

	record.Block(err)
	c.persistRun(ctx, record)
}

// persistRun writes the record back to the store and propagates the state
// change to the metrics and the notification sink. Persistence failures are
// logged but never interrupt a run half way.
func (c *Controller) persistRun(ctx context.Context, record *schemas.DeploymentRecord) {
	if err := c.Store.SetRecord(ctx, *record); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"record-id": record.ID.String(),
				"state":     record.State,
			}).
			WithError(err).
			Error("writing deployment record in the store")
	}

	c.emitRunStatusMetrics(ctx, *record)
	c.notifyRunState(ctx, *record)
}

// notifyRunState reports a run state change to the notification sink.
func (c *Controller) notifyRunState(ctx context.Context, record schemas.DeploymentRecord) {
	event := notifier.Event{
		Type:        notifier.EventTypeRunStateChanged,
		ProjectName: record.Request.ProjectName,
		RecordID:    record.ID.String(),
		Ref:         record.Request.Ref,
		State:       string(record.State),
		ErrorClass:  record.ErrorClass,
		Detail:      record.ErrorDetail,
	}

	if record.Gate != nil {
		score := record.Gate.Score
		event.GateScore = &score
	}

	if record.Risk != nil {
		event.RiskLevel = string(record.Risk.RiskLevel)
	}

	if err := c.Notifier.Notify(ctx, event); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"record-id": record.ID.String(),
				"state":     record.State,
			}).
			WithError(err).
			Warn("delivering run state notification")
	}
}

// gateBlockError wraps the failure class matching the gate's primary block
// reason: an unavailable scan surfaces as ScanUnavailable, anything else as
// GateBlocked.
func gateBlockError(gate schemas.GateResult) error {
	switch gate.BlockReason {
	case schemas.GateRuleScanUnavailable:
		return errors.Wrapf(schemas.ErrScanUnavailable, "security gate blocked (%s)", gate.BlockReason)
	case "":
		// No blocking violation, the accumulated deductions alone pushed the
		// score under the pass threshold.
		return errors.Wrapf(schemas.ErrGateBlocked, "gate score %d below the pass threshold", gate.Score)
	default:
		return errors.Wrapf(schemas.ErrGateBlocked, "security gate blocked (%s)", gate.BlockReason)
	}
}

// errRecordNotFound distinguishes unknown record identifiers from malformed
// ones on the API surface.
var errRecordNotFound = errors.New("deployment record not found")

// getRecordByID parses a record identifier and loads the matching record
// from the store.
func (c *Controller) getRecordByID(ctx context.Context, id string) (schemas.DeploymentRecord, error) {
	recordID, err := uuid.Parse(id)
	if err != nil {
		return schemas.DeploymentRecord{}, fmt.Errorf("invalid deployment record id (%s)", id)
	}

	record := schemas.DeploymentRecord{ID: recordID}

	exists, err := c.Store.RecordExists(ctx, record.Key())
	if err != nil {
		return schemas.DeploymentRecord{}, errors.Wrap(err, "reading deployment record from the store")
	}

	if !exists {
		return schemas.DeploymentRecord{}, errors.Wrap(errRecordNotFound, id)
	}

	if err := c.Store.GetRecord(ctx, &record); err != nil {
		return schemas.DeploymentRecord{}, errors.Wrap(err, "reading deployment record from the store")
	}

	return record, nil
}
