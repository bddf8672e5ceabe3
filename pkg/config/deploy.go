package config

import (
	"github.com/go-playground/validator/v10"
)

// Deploy configures the per-environment deployment endpoints the orchestrator
// dispatches deployments to.
type Deploy struct {
	// Endpoints holds one deployment endpoint per environment.
	Endpoints DeployEndpoints `validate:"at-least-1-deploy-endpoint" yaml:"endpoints"`

	// TimeoutSeconds bounds each deployment request. Defaults to 5 minutes.
	TimeoutSeconds int `default:"300" validate:"gte=1" yaml:"timeout_seconds"`
}

// DeployEndpoints lists the deployment endpoints of the fixed environments.
// Environments without an endpoint cannot be deployed to.
type DeployEndpoints struct {
	Development   DeployEndpoint `yaml:"development"`
	Staging       DeployEndpoint `yaml:"staging"`
	PreProduction DeployEndpoint `yaml:"preproduction"`
	Production    DeployEndpoint `yaml:"production"`
}

// DeployEndpoint holds the connection settings of one deployment endpoint.
type DeployEndpoint struct {
	// URL is the HTTP endpoint deployment requests are posted to.
	URL string `validate:"omitempty,url" yaml:"url"`

	// Token is sent as a bearer token with each deployment request.
	Token string `yaml:"token"`
}

// Configured returns whether the endpoint is usable.
func (e DeployEndpoint) Configured() bool {
	return e.URL != ""
}

// ValidateAtLeastOneDeployEndpoint is a custom validation function.
// It ensures that at least one deployment endpoint is configured, without
// which the orchestrator cannot deploy anywhere.
func ValidateAtLeastOneDeployEndpoint(v validator.FieldLevel) bool {
	endpoints, ok := v.Field().Interface().(DeployEndpoints)
	if !ok {
		return false
	}

	return endpoints.Development.Configured() ||
		endpoints.Staging.Configured() ||
		endpoints.PreProduction.Configured() ||
		endpoints.Production.Configured()
}
