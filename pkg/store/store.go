package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

// Store persists the orchestrator state: deployment records, releases, the
// tracked references and their derived metrics. Both implementations (local
// and Redis) honour the same semantics so the controller never needs to know
// which one it talks to.
type Store interface {
	// Deployment records
	SetRecord(ctx context.Context, r schemas.DeploymentRecord) error
	DelRecord(ctx context.Context, rk schemas.RecordKey) error
	GetRecord(ctx context.Context, r *schemas.DeploymentRecord) error
	RecordExists(ctx context.Context, rk schemas.RecordKey) (bool, error)
	Records(ctx context.Context) (schemas.Records, error)
	RecordsCount(ctx context.Context) (int64, error)

	// Production releases
	SetRelease(ctx context.Context, r schemas.Release) error
	DelRelease(ctx context.Context, rk schemas.ReleaseKey) error
	GetRelease(ctx context.Context, r *schemas.Release) error
	ReleaseExists(ctx context.Context, rk schemas.ReleaseKey) (bool, error)
	Releases(ctx context.Context) (schemas.Releases, error)
	ReleasesCount(ctx context.Context) (int64, error)

	// Currently live production release, indexed per project
	SetCurrentRelease(ctx context.Context, r schemas.Release) error
	GetCurrentRelease(ctx context.Context, projectName string) (schemas.Release, bool, error)

	// Tracked references
	SetRef(ctx context.Context, r schemas.Ref) error
	DelRef(ctx context.Context, rk schemas.RefKey) error
	GetRef(ctx context.Context, r *schemas.Ref) error
	RefExists(ctx context.Context, rk schemas.RefKey) (bool, error)
	Refs(ctx context.Context) (schemas.Refs, error)
	RefsCount(ctx context.Context) (int64, error)

	// Metrics
	SetMetric(ctx context.Context, m schemas.Metric) error
	DelMetric(ctx context.Context, mk schemas.MetricKey) error
	GetMetric(ctx context.Context, m *schemas.Metric) error
	MetricExists(ctx context.Context, mk schemas.MetricKey) (bool, error)
	Metrics(ctx context.Context) (schemas.Metrics, error)
	MetricsCount(ctx context.Context) (int64, error)

	// Per-ref leases serializing version resolution. Two concurrent runs for
	// the same ref would otherwise race on tag reads and tag creation.
	AcquireRefLease(ctx context.Context, rk schemas.RefKey, processUUID string, ttl time.Duration) (bool, error)
	ReleaseRefLease(ctx context.Context, rk schemas.RefKey, processUUID string) error

	// Helpers to keep track of currently queued tasks and avoid scheduling them
	// twice at the risk of ending up with loads of dangling goroutines being locked
	QueueTask(ctx context.Context, tt schemas.TaskType, taskUUID, processUUID string) (bool, error)
	UnqueueTask(ctx context.Context, tt schemas.TaskType, taskUUID string) error
	CurrentlyQueuedTasksCount(ctx context.Context) (uint64, error)
	ExecutedTasksCount(ctx context.Context) (uint64, error)
}

// NewLocalStore returns an empty in-memory store.
func NewLocalStore() Store {
	return &Local{
		records:         make(schemas.Records),
		releases:        make(schemas.Releases),
		currentReleases: make(map[string]schemas.Release),
		refs:            make(schemas.Refs),
		metrics:         make(schemas.Metrics),
		refLeases:       make(map[schemas.RefKey]refLease),
	}
}

// NewRedisStore returns a store backed by the given Redis client.
func NewRedisStore(client *redis.Client) Store {
	return &Redis{
		Client: client,
	}
}

// New creates a new store, backed by Redis when a client is provided.
func New(ctx context.Context, r *redis.Client) Store {
	_, span := otel.Tracer("deployment-orchestrator").Start(ctx, "store:New")
	defer span.End()

	if r != nil {
		return NewRedisStore(r)
	}

	return NewLocalStore()
}
