package deployer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/deployment-orchestrator/pkg/config"
	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

const tracerName = "deployment-orchestrator"

// Client dispatches deployment requests to the per-environment deployment
// endpoints. The endpoints run the actual delivery; the orchestrator only
// tells them what to deploy where and records the outcome.
type Client struct {
	httpClient *http.Client
	endpoints  config.DeployEndpoints
}

// Request is the payload posted to a deployment endpoint.
type Request struct {
	ProjectName string `json:"project_name"`
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitSha   string `json:"commit_sha,omitempty"`
	RecordID    string `json:"record_id"`

	// SkipBuild tells the endpoint to redeploy an existing artifact instead
	// of building a new one. Set on rollback runs.
	SkipBuild bool `json:"skip_build,omitempty"`
}

// Response is the outcome reported by a deployment endpoint.
type Response struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Succeeded returns whether the endpoint reported a successful deployment.
func (r Response) Succeeded() bool {
	return r.Status == "succeeded"
}

// New returns a deployment client over the configured endpoints.
func New(cfg config.Deploy) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		endpoints: cfg.Endpoints,
	}
}

// Endpoint returns the configured endpoint of an environment.
func (c *Client) Endpoint(env schemas.Environment) (config.DeployEndpoint, error) {
	var endpoint config.DeployEndpoint

	switch env {
	case schemas.EnvironmentDevelopment:
		endpoint = c.endpoints.Development
	case schemas.EnvironmentStaging:
		endpoint = c.endpoints.Staging
	case schemas.EnvironmentPreProduction:
		endpoint = c.endpoints.PreProduction
	case schemas.EnvironmentProduction:
		endpoint = c.endpoints.Production
	default:
		return endpoint, fmt.Errorf("unknown environment %q", env)
	}

	if !endpoint.Configured() {
		return endpoint, fmt.Errorf("no deployment endpoint configured for environment %q", env)
	}

	return endpoint, nil
}

// Deploy posts a deployment request to the endpoint of the environment and
// returns the reported outcome. Transport and HTTP failures surface as
// errors; a deployment the endpoint itself reports as failed does not.
func (c *Client) Deploy(ctx context.Context, env schemas.Environment, req Request) (Response, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "deployer:Deploy")
	defer span.End()
	span.SetAttributes(attribute.String("project_name", req.ProjectName))
	span.SetAttributes(attribute.String("environment", string(env)))
	span.SetAttributes(attribute.String("version", req.Version))

	var response Response

	endpoint, err := c.Endpoint(env)
	if err != nil {
		return response, err
	}

	log.WithFields(log.Fields{
		"project-name": req.ProjectName,
		"environment":  string(env),
		"version":      req.Version,
	}).Info("dispatching deployment")

	req.Environment = string(env)

	body, err := json.Marshal(req)
	if err != nil {
		return response, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return response, err
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if endpoint.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+endpoint.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return response, errors.Wrap(err, "posting deployment request")
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return response, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	if err = json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return response, errors.Wrap(err, "decoding deployment response")
	}

	return response, nil
}

// CheckArtifact asks the endpoint of the environment whether the artifact of
// a version is still available. Rollbacks re-validate their target artifact
// before deploying it.
func (c *Client) CheckArtifact(ctx context.Context, env schemas.Environment, version string) (bool, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "deployer:CheckArtifact")
	defer span.End()
	span.SetAttributes(attribute.String("environment", string(env)))
	span.SetAttributes(attribute.String("version", version))

	endpoint, err := c.Endpoint(env)
	if err != nil {
		return false, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/artifact?version=%s", endpoint.URL, version), nil)
	if err != nil {
		return false, err
	}

	if endpoint.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+endpoint.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, errors.Wrap(err, "checking artifact")
	}

	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}
}

// ReadinessCheck returns a healthcheck.Check probing every configured
// deployment endpoint.
func (c *Client) ReadinessCheck(ctx context.Context) healthcheck.Check {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "deployer:ReadinessCheck")
	defer span.End()

	return func() error {
		for _, env := range schemas.EnvironmentsByDeploymentOrder {
			endpoint, err := c.Endpoint(env)
			if err != nil {
				// Unconfigured environments are not probed
				continue
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.URL+"/ready", nil)
			if err != nil {
				return err
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}

			resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP error: %d", resp.StatusCode)
			}
		}

		return nil
	}
}
