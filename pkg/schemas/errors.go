package schemas

import (
	"errors"
)

// Failure classes of an orchestration run. They are captured in the
// deployment record outcome and reported to the notification sink.
var (
	// ErrInvalidVersionFormat flags a malformed manual version override. The
	// run aborts before any side effect.
	ErrInvalidVersionFormat = errors.New("invalid version format")

	// ErrScanUnavailable flags a scan tool whose result could not be
	// obtained. Folded into the gate result as a blocking violation.
	ErrScanUnavailable = errors.New("scan result unavailable")

	// ErrGateBlocked flags a failed security gate evaluation.
	ErrGateBlocked = errors.New("security gate blocked")

	// ErrDeployFailed flags a deploy collaborator failure for one
	// environment. Recorded per environment, later environments still run.
	ErrDeployFailed = errors.New("deployment failed")

	// ErrApprovalDenied flags an external denial of a risk gated deployment.
	ErrApprovalDenied = errors.New("approval denied")

	// ErrRollbackTargetInvalid flags a rollback towards a version which no
	// longer resolves to a deployable artifact.
	ErrRollbackTargetInvalid = errors.New("rollback target invalid")
)

// classifiedErrors maps the run failure classes to their record identifier.
var classifiedErrors = map[string]error{
	"InvalidVersionFormat":  ErrInvalidVersionFormat,
	"ScanUnavailable":       ErrScanUnavailable,
	"GateBlocked":           ErrGateBlocked,
	"DeployFailed":          ErrDeployFailed,
	"ApprovalDenied":        ErrApprovalDenied,
	"RollbackTargetInvalid": ErrRollbackTargetInvalid,
}

// ClassifyRunError returns the taxonomy identifier of a run error, or
// "Internal" for errors outside the taxonomy.
func ClassifyRunError(err error) string {
	for name, class := range classifiedErrors {
		if errors.Is(err, class) {
			return name
		}
	}

	return "Internal"
}
