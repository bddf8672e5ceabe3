package schemas

import (
	"fmt"
)

const (
	// EnvironmentDevelopment is the first environment of the promotion path.
	EnvironmentDevelopment Environment = "development"

	// EnvironmentStaging hosts integration validation of development builds.
	EnvironmentStaging Environment = "staging"

	// EnvironmentPreProduction rehearses production releases.
	EnvironmentPreProduction Environment = "preproduction"

	// EnvironmentProduction serves live traffic.
	EnvironmentProduction Environment = "production"
)

// Environment identifies one of the fixed deployment environments.
type Environment string

// EnvironmentsByDeploymentOrder lists all environments in the order
// deployments are attempted within a single run.
var EnvironmentsByDeploymentOrder = []Environment{
	EnvironmentDevelopment,
	EnvironmentStaging,
	EnvironmentPreProduction,
	EnvironmentProduction,
}

// defaultVersionPrefixes maps each environment to the prefix used for its
// sha-timestamp version identifiers.
var defaultVersionPrefixes = map[Environment]string{
	EnvironmentDevelopment:   "dev",
	EnvironmentStaging:       "staging",
	EnvironmentPreProduction: "preprod",
	EnvironmentProduction:    "prod",
}

// Valid returns whether the Environment is one of the known environments.
func (e Environment) Valid() bool {
	switch e {
	case EnvironmentDevelopment, EnvironmentStaging, EnvironmentPreProduction, EnvironmentProduction:
		return true
	}

	return false
}

// Ordinal returns the position of the environment in the deployment order.
func (e Environment) Ordinal() int {
	for i, env := range EnvironmentsByDeploymentOrder {
		if env == e {
			return i
		}
	}

	return -1
}

// VersionScheme returns the version scheme used when deploying to this
// environment: sha-timestamp identifiers for development/staging, semantic
// versions for preproduction/production.
func (e Environment) VersionScheme() VersionScheme {
	switch e {
	case EnvironmentPreProduction, EnvironmentProduction:
		return VersionSchemeSemantic
	default:
		return VersionSchemeShaTimestamp
	}
}

// GateScope returns the strictness scope under which the security gate is
// evaluated for this environment.
func (e Environment) GateScope() GateScope {
	if e == EnvironmentProduction {
		return GateScopeProduction
	}

	return GateScopeNonProduction
}

// DefaultVersionPrefix returns the default sha-timestamp prefix for the
// environment.
func (e Environment) DefaultVersionPrefix() string {
	if p, ok := defaultVersionPrefixes[e]; ok {
		return p
	}

	return string(e)
}

// ParseEnvironment converts a string into an Environment, accepting the
// canonical names only.
func ParseEnvironment(s string) (Environment, error) {
	e := Environment(s)
	if !e.Valid() {
		return "", fmt.Errorf("unknown environment (%s)", s)
	}

	return e, nil
}
