package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/deployment-orchestrator/pkg/config"
)

const tracerName = "deployment-orchestrator"

const (
	// EventTypeRunStateChanged is emitted on every state transition of a
	// deployment run.
	EventTypeRunStateChanged = "run-state-changed"

	// EventTypeEnvironmentOutcome is emitted once per environment of the
	// deploy loop.
	EventTypeEnvironmentOutcome = "environment-outcome"
)

// Event is one structured notification about a deployment run.
type Event struct {
	Type        string    `json:"type"`
	ProjectName string    `json:"project_name"`
	RecordID    string    `json:"record_id"`
	Ref         string    `json:"ref"`
	State       string    `json:"state,omitempty"`
	Environment string    `json:"environment,omitempty"`
	Version     string    `json:"version,omitempty"`
	Status      string    `json:"status,omitempty"`
	GateScore   *int      `json:"gate_score,omitempty"`
	RiskLevel   string    `json:"risk_level,omitempty"`
	ErrorClass  string    `json:"error_class,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	EmittedAt   time.Time `json:"emitted_at"`
}

// Notifier delivers run events to the configured webhook. When the sink is
// disabled the events are logged instead, so a run's trail never disappears
// entirely.
type Notifier struct {
	httpClient *http.Client
	url        string
	token      string
	enabled    bool
}

// New returns a notifier for the configured sink.
func New(cfg config.Notifications) *Notifier {
	return &Notifier{
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		url:     cfg.URL,
		token:   cfg.Token,
		enabled: cfg.Enabled,
	}
}

// Notify delivers an event. Delivery failures are returned to the caller
// for logging but are never fatal to a run.
func (n *Notifier) Notify(ctx context.Context, e Event) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "notifier:Notify")
	defer span.End()
	span.SetAttributes(attribute.String("event_type", e.Type))
	span.SetAttributes(attribute.String("record_id", e.RecordID))

	if e.EmittedAt.IsZero() {
		e.EmittedAt = time.Now().UTC()
	}

	if !n.enabled {
		log.WithFields(log.Fields{
			"event-type":  e.Type,
			"record-id":   e.RecordID,
			"state":       e.State,
			"environment": e.Environment,
		}).Debug("notification sink disabled, event logged only")

		return nil
	}

	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "posting notification event")
	}

	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	return nil
}
