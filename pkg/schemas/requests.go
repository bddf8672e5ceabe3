package schemas

import (
	"fmt"
)

const (
	// TriggerKindWebhook marks requests derived from VCS push events.
	TriggerKindWebhook TriggerKind = "webhook"

	// TriggerKindAPI marks requests received over the HTTP API.
	TriggerKindAPI TriggerKind = "api"

	// TriggerKindCLI marks requests dispatched from the command line.
	TriggerKindCLI TriggerKind = "cli"
)

// TriggerKind identifies how a deployment request entered the orchestrator.
type TriggerKind string

// DeploymentRequest is the input of one orchestration run.
type DeploymentRequest struct {
	ProjectName string      `json:"project_name"`
	Ref         string      `json:"ref"`
	RefKind     RefKind     `json:"ref_kind"`
	CommitSha   string      `json:"commit_sha,omitempty"`
	Actor       string      `json:"actor"`
	Trigger     TriggerKind `json:"trigger"`

	// EnvironmentOverride forces a single target environment. Only accepted
	// on manual triggers.
	EnvironmentOverride *Environment `json:"environment_override,omitempty"`

	// ForceVersion overrides the resolved version, production-bound manual
	// runs only. Must match the semantic version grammar.
	ForceVersion string `json:"force_version,omitempty"`

	// Emergency bypasses approval checks when the emergency bypass is
	// enabled in the configuration.
	Emergency bool `json:"emergency,omitempty"`
}

// Manual reports whether the request was dispatched explicitly rather than
// derived from a push event.
func (r DeploymentRequest) Manual() bool {
	return r.Trigger == TriggerKindAPI || r.Trigger == TriggerKindCLI
}

// TargetRef returns the Ref this request operates on.
func (r DeploymentRequest) TargetRef() Ref {
	return NewRef(r.ProjectName, r.RefKind, r.Ref)
}

// Validate checks the statically verifiable invariants of the request.
// Target dependent invariants (force_version only towards production) are
// enforced by the orchestrator once targets are selected.
func (r DeploymentRequest) Validate() error {
	if r.Ref == "" {
		return fmt.Errorf("ref must not be empty")
	}

	if !r.RefKind.Valid() {
		return fmt.Errorf("invalid ref kind (%s)", r.RefKind)
	}

	if r.EnvironmentOverride != nil {
		if !r.EnvironmentOverride.Valid() {
			return fmt.Errorf("invalid environment override (%s)", *r.EnvironmentOverride)
		}

		if !r.Manual() {
			return fmt.Errorf("environment override is only accepted on manual triggers")
		}
	}

	if r.ForceVersion != "" && !IsSemanticVersion(r.ForceVersion) {
		return ErrInvalidVersionFormat
	}

	return nil
}
