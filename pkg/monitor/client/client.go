package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/helvethink/deployment-orchestrator/pkg/monitor"
)

// Client polls the monitoring listener of a running orchestrator.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient returns a client bound to the given listener address, network or
// unix socket.
func NewClient(endpoint *url.URL) *Client {
	log.WithField("endpoint", endpoint.String()).Debug("configuring HTTP client towards the monitoring listener..")

	httpClient := &http.Client{
		Timeout: 5 * time.Second,
	}
	baseURL := "http://" + endpoint.Host

	// Unix sockets are dialed directly, the host part of the URL is then only
	// kept to satisfy the HTTP client
	if endpoint.Scheme == "unix" {
		httpClient.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", endpoint.Path)
			},
		}
		baseURL = "http://unix"
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// GetTelemetry fetches a telemetry snapshot from the monitoring server.
func (c *Client) GetTelemetry(ctx context.Context) (monitor.Telemetry, error) {
	var telemetry monitor.Telemetry

	body, err := c.get(ctx, "/telemetry")
	if err != nil {
		return telemetry, err
	}
	defer body.Close() // nolint: errcheck

	err = json.NewDecoder(body).Decode(&telemetry)

	return telemetry, err
}

// GetConfig fetches the masked running configuration from the monitoring server.
func (c *Client) GetConfig(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/config")
	if err != nil {
		return "", err
	}
	defer body.Close() // nolint: errcheck

	payload, err := io.ReadAll(body)

	return string(payload), err
}

// get performs a GET request against the monitoring listener and returns the
// response body on a 200.
func (c *Client) get(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close() // nolint: errcheck

		return nil, fmt.Errorf("unexpected monitoring server response status %d on %s", resp.StatusCode, path)
	}

	return resp.Body, nil
}
