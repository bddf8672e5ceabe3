package gitlab

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/paulbellamy/ratecounter"
	goGitlab "gitlab.com/gitlab-org/api/client-go"
	"go.opentelemetry.io/otel"

	"github.com/helvethink/deployment-orchestrator/pkg/ratelimit"
)

const (
	userAgent  = "deployment-orchestrator"
	tracerName = "deployment-orchestrator"
)

// Client wraps the official go-gitlab client with rate limiting, request
// accounting, a readiness probe against the instance and version tracking.
type Client struct {
	*goGitlab.Client

	// Readiness holds what is needed to probe the GitLab instance health
	// endpoint from the liveness/readiness handlers.
	Readiness struct {
		URL        string
		HTTPClient *http.Client
	}

	RateLimiter       ratelimit.Limiter
	RateCounter       *ratecounter.RateCounter // requests per second, surfaced through telemetry
	RequestsCounter   atomic.Uint64            // total requests issued since startup
	RequestsLimit     int                      // rate limit advertised by GitLab response headers
	RequestsRemaining int

	version GitLabVersion
	mutex   sync.RWMutex // guards version
}

// ClientConfig holds the options needed to instantiate a new Client.
type ClientConfig struct {
	URL              string
	Token            string
	UserAgentVersion string
	DisableTLSVerify bool
	ReadinessURL     string
	RateLimiter      ratelimit.Limiter
}

// NewHTTPClient returns an HTTP client based on the default transport, with
// TLS verification optionally disabled for self-signed GitLab deployments.
func NewHTTPClient(disableTLSVerify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: disableTLSVerify}

	return &http.Client{
		Transport: transport,
	}
}

// NewClient configures the underlying go-gitlab client and wires in the rate
// limiter, the request counters and the readiness probe.
func NewClient(cfg ClientConfig) (*Client, error) {
	gc, err := goGitlab.NewOAuthClient(cfg.Token,
		goGitlab.WithHTTPClient(NewHTTPClient(cfg.DisableTLSVerify)),
		goGitlab.WithBaseURL(cfg.URL),
		goGitlab.WithoutRetries(),
	)
	if err != nil {
		return nil, err
	}

	gc.UserAgent = fmt.Sprintf("%s-%s", userAgent, cfg.UserAgentVersion)

	readinessHTTPClient := NewHTTPClient(cfg.DisableTLSVerify)
	readinessHTTPClient.Timeout = 5 * time.Second

	c := &Client{
		Client:      gc,
		RateLimiter: cfg.RateLimiter,
		RateCounter: ratecounter.NewRateCounter(time.Second),
	}
	c.Readiness.URL = cfg.ReadinessURL
	c.Readiness.HTTPClient = readinessHTTPClient

	return c, nil
}

// ReadinessCheck returns a healthcheck.Check probing the configured GitLab
// health endpoint.
func (c *Client) ReadinessCheck(ctx context.Context) healthcheck.Check {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gitlab:ReadinessCheck")
	defer span.End()

	return func() error {
		if c.Readiness.HTTPClient == nil {
			return fmt.Errorf("readiness http client not configured")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Readiness.URL, nil)
		if err != nil {
			return err
		}

		resp, err := c.Readiness.HTTPClient.Do(req)
		if err != nil {
			return err
		}

		if resp == nil {
			return fmt.Errorf("HTTP error: empty response")
		}

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("HTTP error: %d", resp.StatusCode)
		}

		return nil
	}
}

// rateLimit blocks until the limiter releases a slot and bumps the request
// counters read by the monitoring telemetry.
func (c *Client) rateLimit(ctx context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gitlab:rateLimit")
	defer span.End()

	ratelimit.Take(ctx, c.RateLimiter)

	c.RateCounter.Incr(1)
	c.RequestsCounter.Add(1)
}

// UpdateVersion stores the GitLab version detected through the metadata endpoint.
func (c *Client) UpdateVersion(version GitLabVersion) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.version = version
}

// Version returns the last detected GitLab version.
func (c *Client) Version() GitLabVersion {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.version
}

// requestsRemaining keeps track of the rate limit budget GitLab advertises in
// its response headers.
func (c *Client) requestsRemaining(response *goGitlab.Response) {
	if response == nil {
		return
	}

	if remaining := response.Header.Get("ratelimit-remaining"); remaining != "" {
		c.RequestsRemaining, _ = strconv.Atoi(remaining)
	}

	if limit := response.Header.Get("ratelimit-limit"); limit != "" {
		c.RequestsLimit, _ = strconv.Atoi(limit)
	}
}
