package controller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"reflect"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/api/client-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// HealthCheckHandler wires the readiness checks of the controller's upstream
// dependencies into a healthcheck.Handler.
func (c *Controller) HealthCheckHandler(ctx context.Context) healthcheck.Handler {
	h := healthcheck.NewHandler()

	if c.Config.Gitlab.EnableHealthCheck {
		h.AddReadinessCheck("gitlab-reachable", c.Gitlab.ReadinessCheck(ctx))
	} else {
		log.WithContext(ctx).
			Warn("GitLab health check has been disabled. Readiness checks won't be operated.")
	}

	// The deploy executors are part of the serving path, a run cannot
	// complete without them
	h.AddReadinessCheck("deployer-reachable", c.Deployer.ReadinessCheck(ctx))

	return h
}

// MetricsHandler serves /metrics. The registry is rebuilt on every scrape from
// the metrics currently held in the store, so replicas sharing a Redis store
// all expose the same view.
func (c *Controller) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)
	defer span.End()

	registry := NewRegistry(ctx)

	metrics, err := c.Store.Metrics(ctx)
	if err != nil {
		log.WithContext(ctx).
			WithError(err).
			Error()
	}

	if err := registry.ExportInternalMetrics(ctx, c.Gitlab, c.Store); err != nil {
		log.WithContext(ctx).
			WithError(err).
			Warn()
	}

	registry.ExportMetrics(metrics)

	otelhttp.NewHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			Registry:          registry,
			EnableOpenMetrics: c.Config.Server.Metrics.EnableOpenmetricsEncoding,
		}),
		"/metrics",
	).ServeHTTP(w, r)
}

// WebhookHandler ingests GitLab push and tag webhooks and turns them into
// deployment triggers.
func (c *Controller) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	span := trace.SpanFromContext(r.Context())
	defer span.End()

	// Detach from the request context, the triggered work outlives the
	// webhook delivery.
	ctx := trace.ContextWithSpan(context.Background(), span)

	logger := log.
		WithContext(ctx).
		WithFields(log.Fields{
			"ip-address": r.RemoteAddr,
			"user-agent": r.UserAgent(),
		})

	logger.Debug("webhook request received")

	if r.Header.Get("X-Gitlab-Token") != c.Config.Server.Webhook.SecretToken {
		logger.Debug("invalid token provided for webhook request")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "{\"error\": \"invalid token\"}")

		return
	}

	if r.Body == http.NoBody {
		logger.
			WithError(fmt.Errorf("empty request body")).
			Warn("unable to read body of a received webhook")
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.
			WithError(err).
			Warn("unable to read body of a received webhook")
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	event, err := gitlab.ParseHook(gitlab.HookEventType(r), payload)
	if err != nil {
		logger.
			WithError(err).
			Warn("unable to parse webhook payload")
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	switch event := event.(type) {
	case *gitlab.PushEvent:
		go c.processPushEvent(ctx, *event)
	case *gitlab.TagEvent:
		go c.processTagEvent(ctx, *event)
	default:
		logger.
			WithField("event-type", reflect.TypeOf(event).String()).
			Warn("received unsupported webhook event type")
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
}
