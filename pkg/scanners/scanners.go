package scanners

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/helvethink/deployment-orchestrator/pkg/config"
	"github.com/helvethink/deployment-orchestrator/pkg/ratelimit"
	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

const tracerName = "deployment-orchestrator"

// Scanner fetches the findings one scan tool currently holds for a target.
// Implementations are thin clients over the tools' result APIs; the tools
// themselves run elsewhere.
type Scanner interface {
	Tool() schemas.ScanTool
	Fetch(ctx context.Context, target Target) ([]schemas.ScanFinding, error)
}

// Target identifies the artifact findings are requested for.
type Target struct {
	ProjectName string
	Ref         string
	CommitSha   string
}

// NewFromConfig builds one scanner per enabled tool.
func NewFromConfig(cfg config.Scans) []Scanner {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	rps := cfg.MaximumRequestsPerSecond

	scanners := make([]Scanner, 0, 4)

	if cfg.CodeQuality.Enabled {
		scanners = append(scanners, NewCodeQualityScanner(cfg.CodeQuality, timeout, rps))
	}

	if cfg.SAST.Enabled {
		scanners = append(scanners, NewSecurityScanner(schemas.ScanToolSAST, cfg.SAST, timeout, rps))
	}

	if cfg.SCA.Enabled {
		scanners = append(scanners, NewSecurityScanner(schemas.ScanToolSCA, cfg.SCA, timeout, rps))
	}

	if cfg.IaC.Enabled {
		scanners = append(scanners, NewSecurityScanner(schemas.ScanToolIaC, cfg.IaC, timeout, rps))
	}

	return scanners
}

// client is the shared HTTP plumbing of the scanner implementations.
type client struct {
	httpClient *http.Client
	endpoint   string
	token      string
}

// newClient returns a client for a tool endpoint, with outbound requests
// traced, throttled and bounded by the per-tool timeout.
func newClient(tool config.ScanTool, timeout time.Duration, requestsPerSecond int) client {
	var transport http.RoundTripper = http.DefaultTransport
	if requestsPerSecond > 0 {
		transport = ratelimit.NewThrottledTransport(time.Second/time.Duration(requestsPerSecond), requestsPerSecond, transport)
	}

	return client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		endpoint: tool.URL,
		token:    tool.Token,
	}
}

// getJSON queries the tool endpoint for the target and decodes the JSON
// response into out.
func (c client) getJSON(ctx context.Context, target Target, out interface{}) error {
	query := url.Values{}
	query.Set("project", target.ProjectName)
	query.Set("ref", target.Ref)

	if target.CommitSha != "" {
		query.Set("sha", target.CommitSha)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s?%s", c.endpoint, query.Encode()), nil)
	if err != nil {
		return err
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// boolValue maps a report flag onto the 1 passed / 0 failed convention of
// the boolean-valued scan metrics.
func boolValue(b bool) float64 {
	if b {
		return 1
	}

	return 0
}

// collectedAtOrNow returns the report timestamp, falling back to the current
// time when the tool did not stamp its report.
func collectedAtOrNow(reported time.Time) time.Time {
	if reported.IsZero() {
		return time.Now().UTC()
	}

	return reported
}
