package schemas

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// RunStatePending is the initial state of every orchestration run.
	RunStatePending RunState = "pending"

	// RunStateVersionResolved is reached once every selected environment has
	// its version identifier.
	RunStateVersionResolved RunState = "version-resolved"

	// RunStateScanning covers the scan fan-out.
	RunStateScanning RunState = "scanning"

	// RunStateGateEvaluated is reached once the security gate has scored the
	// aggregated scan results.
	RunStateGateEvaluated RunState = "gate-evaluated"

	// RunStateRiskAssessed is reached for production-bound semantic releases
	// once the risk tier is known.
	RunStateRiskAssessed RunState = "risk-assessed"

	// RunStateAwaitingApproval suspends the run until an external approve or
	// deny signal arrives.
	RunStateAwaitingApproval RunState = "awaiting-approval"

	// RunStateDeploying covers the per-environment deploy loop.
	RunStateDeploying RunState = "deploying"

	// RunStateSucceeded is the terminal state of a fully successful run.
	RunStateSucceeded RunState = "succeeded"

	// RunStateFailed is the terminal state of a run stopped by an error.
	RunStateFailed RunState = "failed"

	// RunStateBlocked is the terminal state of a run halted by the gate or a
	// denied approval.
	RunStateBlocked RunState = "blocked"

	// RunStateRolledBack is the terminal state of a successful rollback run.
	RunStateRolledBack RunState = "rolled-back"
)

const (
	// DeployStatusPending marks an environment not yet attempted.
	DeployStatusPending DeployStatus = "pending"

	// DeployStatusSucceeded marks a successful environment deployment.
	DeployStatusSucceeded DeployStatus = "succeeded"

	// DeployStatusFailed marks a failed environment deployment.
	DeployStatusFailed DeployStatus = "failed"

	// DeployStatusSkipped marks an environment skipped after a fatal failure
	// or a blocking gate result for its scope.
	DeployStatusSkipped DeployStatus = "skipped"
)

// RunState is one state of the orchestration state machine.
type RunState string

// DeployStatus is the per-environment outcome of the deploy loop.
type DeployStatus string

// runStateTransitions lists the valid transitions of the run state machine.
// Terminal states have no outgoing transitions; records are immutable once
// terminated. Rollback runs move straight from version resolution to the
// deploy loop as their artifacts were already scanned when first released.
var runStateTransitions = map[RunState][]RunState{
	RunStatePending:          {RunStateVersionResolved, RunStateFailed},
	RunStateVersionResolved:  {RunStateScanning, RunStateDeploying, RunStateFailed},
	RunStateScanning:         {RunStateGateEvaluated, RunStateFailed},
	RunStateGateEvaluated:    {RunStateRiskAssessed, RunStateDeploying, RunStateBlocked, RunStateFailed},
	RunStateRiskAssessed:     {RunStateAwaitingApproval, RunStateDeploying, RunStateFailed},
	RunStateAwaitingApproval: {RunStateDeploying, RunStateBlocked, RunStateFailed},
	RunStateDeploying:        {RunStateSucceeded, RunStateFailed, RunStateBlocked, RunStateRolledBack},
}

// Terminal returns whether the state ends a run.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateSucceeded, RunStateFailed, RunStateBlocked, RunStateRolledBack:
		return true
	}

	return false
}

// CanTransitionTo returns whether the state machine allows moving from s to
// next.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range runStateTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// EnvironmentOutcome is the per-environment result of the deploy loop.
type EnvironmentOutcome struct {
	Environment Environment     `json:"environment"`
	Version     ResolvedVersion `json:"version"`
	Status      DeployStatus    `json:"status"`
	URL         string          `json:"url,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	FinishedAt  time.Time       `json:"finished_at,omitempty"`
}

// ApprovalSignal is the externally received approve/deny decision of a risk
// gated run. Cancelled withdraws the run instead of deciding it.
type ApprovalSignal struct {
	Approved   bool      `json:"approved"`
	Approver   string    `json:"approver"`
	Cancelled  bool      `json:"cancelled,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// RecordKey is a custom type used as a key for deployment records.
type RecordKey string

// DeploymentRecord is the artifact of one orchestration run. It is created
// when the run is accepted, mutated as stages complete and immutable once
// the run reaches a terminal state.
type DeploymentRecord struct {
	ID      uuid.UUID         `json:"id"`
	Request DeploymentRequest `json:"request"`
	State   RunState          `json:"state"`

	// CommitSha is the commit the run resolved the ref to.
	CommitSha string `json:"commit_sha,omitempty"`

	Targets      DeploymentTargetSet  `json:"targets,omitempty"`
	Gate         *GateResult          `json:"gate,omitempty"`
	Risk         *RiskAssessment      `json:"risk,omitempty"`
	Approval     *ApprovalSignal      `json:"approval,omitempty"`
	Environments []EnvironmentOutcome `json:"environments,omitempty"`

	// ErrorClass carries the run error taxonomy identifier when the run
	// failed or was blocked.
	ErrorClass  string `json:"error_class,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`

	// SkipBuild marks rollback runs, which redeploy an existing artifact.
	SkipBuild bool `json:"skip_build,omitempty"`

	// RollbackOf references the record a rollback run restores.
	RollbackOf RecordKey `json:"rollback_of,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDeploymentRecord returns a pending record for the given request.
func NewDeploymentRecord(req DeploymentRequest) DeploymentRecord {
	now := time.Now().UTC()

	return DeploymentRecord{
		ID:        uuid.New(),
		Request:   req,
		State:     RunStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Key returns the storage key of the record.
func (r DeploymentRecord) Key() RecordKey {
	return RecordKey(r.ID.String())
}

// Transition moves the record to the next state, refusing transitions the
// state machine does not allow.
func (r *DeploymentRecord) Transition(next RunState) error {
	if !r.State.CanTransitionTo(next) {
		return fmt.Errorf("invalid run state transition (%s -> %s)", r.State, next)
	}

	r.State = next
	r.UpdatedAt = time.Now().UTC()

	return nil
}

// SetOutcome records the per-environment result of one deploy attempt.
func (r *DeploymentRecord) SetOutcome(outcome EnvironmentOutcome) {
	for i, o := range r.Environments {
		if o.Environment == outcome.Environment {
			r.Environments[i] = outcome

			return
		}
	}

	r.Environments = append(r.Environments, outcome)
}

// Outcome returns the recorded result for the given environment.
func (r DeploymentRecord) Outcome(env Environment) (EnvironmentOutcome, bool) {
	for _, o := range r.Environments {
		if o.Environment == env {
			return o, true
		}
	}

	return EnvironmentOutcome{}, false
}

// Fail marks the run failed with the given error.
func (r *DeploymentRecord) Fail(err error) {
	r.State = RunStateFailed
	r.ErrorClass = ClassifyRunError(err)
	r.ErrorDetail = err.Error()
	r.UpdatedAt = time.Now().UTC()
}

// Block marks the run blocked, either by the security gate or by a denied
// approval.
func (r *DeploymentRecord) Block(err error) {
	r.State = RunStateBlocked
	r.ErrorClass = ClassifyRunError(err)
	r.ErrorDetail = err.Error()
	r.UpdatedAt = time.Now().UTC()
}

// DefaultLabelsValues returns the default metric label values of the record.
func (r DeploymentRecord) DefaultLabelsValues() map[string]string {
	return map[string]string{
		"project": r.Request.ProjectName,
		"ref":     r.Request.Ref,
		"kind":    string(r.Request.RefKind),
	}
}

// Records is a map used to keep track of deployment records.
type Records map[RecordKey]DeploymentRecord

// Count returns the number of records in the Records map.
func (records Records) Count() int {
	return len(records)
}
