package controller

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/taskq/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"google.golang.org/grpc"

	"github.com/helvethink/deployment-orchestrator/pkg/config"
	"github.com/helvethink/deployment-orchestrator/pkg/deployer"
	"github.com/helvethink/deployment-orchestrator/pkg/gitlab"
	"github.com/helvethink/deployment-orchestrator/pkg/notifier"
	"github.com/helvethink/deployment-orchestrator/pkg/ratelimit"
	"github.com/helvethink/deployment-orchestrator/pkg/scanners"
	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
	"github.com/helvethink/deployment-orchestrator/pkg/store"
)

const tracerName = "deployment-orchestrator"

// Controller holds the clients and components needed to orchestrate
// deployment runs: the GitLab client for version resolution, the scan
// collaborators feeding the security gate, the deployment endpoints and the
// notification sink, plus the store persisting records and the task queue
// driving run execution.
//
// The UUID field uniquely identifies this controller instance, which matters
// in clustered deployments where multiple orchestrator instances share Redis.
type Controller struct {
	Config   config.Config
	Redis    *redis.Client
	Gitlab   *gitlab.Client
	Scanners []scanners.Scanner // one per enabled scan tool
	Deployer *deployer.Client   // client towards the per-environment deployment endpoints
	Notifier *notifier.Notifier // notification sink receiving run events
	Store    store.Store

	TaskController TaskController

	// UUID identifies this controller instance among its replicas, task
	// queueing keys in Redis embed it.
	UUID uuid.UUID
}

// New initializes a Controller: tracing, the Redis connection, the task
// controller, storage, the GitLab client and the deployment collaborators,
// then starts the background schedulers.
func New(ctx context.Context, cfg config.Config, version string) (c Controller, err error) {
	c.Config = cfg
	c.UUID = uuid.New()

	if err = configureTracing(ctx, cfg.OpenTelemetry.GRPCEndpoint); err != nil {
		return
	}

	if err = c.configureRedis(ctx, cfg.Redis.URL); err != nil {
		return
	}

	c.TaskController = NewTaskController(ctx, c.Redis, cfg.Gitlab.MaximumJobsQueueSize)
	c.registerTasks()

	c.Store = store.New(ctx, c.Redis)

	if err = c.configureGitlab(cfg.Gitlab, version); err != nil {
		return
	}

	c.configureCollaborators()

	c.Schedule(ctx, cfg.GarbageCollect)

	return
}

// registerTasks maps each task type onto its handler. Tasks are registered
// with a retry limit of 1: a deployment run must never be replayed
// automatically, its failures are captured in the record instead.
func (c *Controller) registerTasks() {
	for n, h := range map[schemas.TaskType]interface{}{
		schemas.TaskTypeDeploymentRun:         c.TaskHandlerDeploymentRun,
		schemas.TaskTypeGarbageCollectRecords: c.TaskHandlerGarbageCollectRecords,
	} {
		_, _ = c.TaskController.TaskMap.Register(string(n), &taskq.TaskConfig{
			Handler:    h,
			RetryLimit: 1,
		})
	}
}

// unqueueTask drops a task from the queued-task set in the store, logging
// instead of failing when the store rejects the operation.
func (c *Controller) unqueueTask(ctx context.Context, tt schemas.TaskType, uniqueID string) {
	if err := c.Store.UnqueueTask(ctx, tt, uniqueID); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"task_type":      tt,
				"task_unique_id": uniqueID,
			}).
			WithError(err).
			Warn("unqueuing task")
	}
}

// configureTracing sets up the OpenTelemetry trace pipeline against the
// configured OTLP gRPC endpoint. Without an endpoint, tracing stays disabled.
func configureTracing(ctx context.Context, grpcEndpoint string) error {
	if len(grpcEndpoint) == 0 {
		log.Debug("open-telemetry.grpc_endpoint is not configured, skipping open telemetry support")

		return nil
	}

	log.WithFields(log.Fields{
		"open-telemetry_grpc_endpoint": grpcEndpoint,
	}).Info("open-telemetry gRPC endpoint provided, initializing connection..")

	traceClient := otlptracegrpc.NewClient(
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(grpcEndpoint),
		otlptracegrpc.WithDialOption(grpc.WithBlock()), // nolint: staticcheck
	)

	traceExp, err := otlptrace.New(ctx, traceClient)
	if err != nil {
		return err
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("deployment-orchestrator"),
		),
	)
	if err != nil {
		return err
	}

	otel.SetTracerProvider(sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExp)),
	))

	return nil
}

// configureGitlab builds the GitLab client, rate limited through Redis when
// clustering is configured and locally otherwise.
func (c *Controller) configureGitlab(cfg config.Gitlab, version string) (err error) {
	var rl ratelimit.Limiter
	if c.Redis != nil {
		rl = ratelimit.NewRedisLimiter(c.Redis, cfg.MaximumRequestsPerSecond)
	} else {
		rl = ratelimit.NewLocalLimiter(cfg.MaximumRequestsPerSecond, cfg.BurstableRequestsPerSecond)
	}

	c.Gitlab, err = gitlab.NewClient(gitlab.ClientConfig{
		URL:              cfg.URL,
		Token:            cfg.Token,
		DisableTLSVerify: !cfg.EnableTLSVerify,
		UserAgentVersion: version,
		RateLimiter:      rl,
		ReadinessURL:     cfg.HealthURL,
	})

	return
}

// configureCollaborators instantiates the scan clients, the deployment
// client and the notification sink from their configuration sections. None
// of them holds a connection at construction time, so this cannot fail.
func (c *Controller) configureCollaborators() {
	c.Scanners = scanners.NewFromConfig(c.Config.Scans)
	c.Deployer = deployer.New(c.Config.Deploy)
	c.Notifier = notifier.New(c.Config.Notifications)

	log.WithFields(log.Fields{
		"scan-tools-count":      len(c.Scanners),
		"notifications-enabled": c.Config.Notifications.Enabled,
	}).Debug("configured deployment collaborators")
}

// configureRedis connects and instruments the Redis client when a URL is
// configured, leaving c.Redis nil (local drivers) otherwise.
func (c *Controller) configureRedis(ctx context.Context, url string) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:configureRedis")
	defer span.End()

	if len(url) <= 0 {
		log.Debug("redis url is not configured, skipping configuration & using local driver")

		return
	}

	log.Info("redis url configured, initializing connection..")

	var opt *redis.Options
	if opt, err = redis.ParseURL(url); err != nil {
		return
	}

	c.Redis = redis.NewClient(opt)

	if err = redisotel.InstrumentTracing(c.Redis); err != nil {
		return
	}

	if _, err := c.Redis.Ping(ctx).Result(); err != nil {
		return errors.Wrap(err, "connecting to redis")
	}

	log.Info("connected to redis")

	return
}
