package store

import (
	"context"
	"sync"
	"time"

	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

// refLease tracks the holder of a reference resolution lease.
type refLease struct {
	processUUID string
	expiresAt   time.Time
}

// Local is the in-memory store implementation, used when no Redis URL is
// configured. Every entity set is guarded by its own mutex so deployment runs
// and the metrics handler never contend on a single lock.
type Local struct {
	records      schemas.Records
	recordsMutex sync.RWMutex

	releases      schemas.Releases
	releasesMutex sync.RWMutex

	currentReleases      map[string]schemas.Release
	currentReleasesMutex sync.RWMutex

	refs      schemas.Refs
	refsMutex sync.RWMutex

	metrics      schemas.Metrics
	metricsMutex sync.RWMutex

	refLeases      map[schemas.RefKey]refLease
	refLeasesMutex sync.Mutex

	tasks              schemas.Tasks
	tasksMutex         sync.RWMutex
	executedTasksCount uint64
}

// SetRecord stores a deployment record.
func (l *Local) SetRecord(_ context.Context, dr schemas.DeploymentRecord) error {
	l.recordsMutex.Lock()
	defer l.recordsMutex.Unlock()

	l.records[dr.Key()] = dr

	return nil
}

// DelRecord deletes a deployment record.
func (l *Local) DelRecord(_ context.Context, k schemas.RecordKey) error {
	l.recordsMutex.Lock()
	defer l.recordsMutex.Unlock()

	delete(l.records, k)

	return nil
}

// GetRecord loads a deployment record by the key of the passed value, leaving
// it untouched when the record does not exist.
func (l *Local) GetRecord(ctx context.Context, dr *schemas.DeploymentRecord) error {
	exists, _ := l.RecordExists(ctx, dr.Key())
	if exists {
		l.recordsMutex.RLock()
		*dr = l.records[dr.Key()]
		l.recordsMutex.RUnlock()
	}

	return nil
}

// RecordExists tells whether a deployment record is stored under the given key.
func (l *Local) RecordExists(_ context.Context, k schemas.RecordKey) (bool, error) {
	l.recordsMutex.RLock()
	defer l.recordsMutex.RUnlock()

	_, ok := l.records[k]

	return ok, nil
}

// Records returns a copy of all stored deployment records.
func (l *Local) Records(_ context.Context) (schemas.Records, error) {
	records := make(schemas.Records)

	l.recordsMutex.RLock()
	defer l.recordsMutex.RUnlock()

	for k, v := range l.records {
		records[k] = v
	}

	return records, nil
}

// RecordsCount returns how many deployment records are stored.
func (l *Local) RecordsCount(_ context.Context) (int64, error) {
	l.recordsMutex.RLock()
	defer l.recordsMutex.RUnlock()

	return int64(len(l.records)), nil
}

// SetRelease stores a release.
func (l *Local) SetRelease(_ context.Context, release schemas.Release) error {
	l.releasesMutex.Lock()
	defer l.releasesMutex.Unlock()

	l.releases[release.Key()] = release

	return nil
}

// DelRelease deletes a release.
func (l *Local) DelRelease(_ context.Context, k schemas.ReleaseKey) error {
	l.releasesMutex.Lock()
	defer l.releasesMutex.Unlock()

	delete(l.releases, k)

	return nil
}

// GetRelease loads a release by the key of the passed value.
func (l *Local) GetRelease(ctx context.Context, release *schemas.Release) error {
	exists, _ := l.ReleaseExists(ctx, release.Key())
	if exists {
		l.releasesMutex.RLock()
		*release = l.releases[release.Key()]
		l.releasesMutex.RUnlock()
	}

	return nil
}

// ReleaseExists tells whether a release is stored under the given key.
func (l *Local) ReleaseExists(_ context.Context, k schemas.ReleaseKey) (bool, error) {
	l.releasesMutex.RLock()
	defer l.releasesMutex.RUnlock()

	_, ok := l.releases[k]

	return ok, nil
}

// Releases returns a copy of all stored releases.
func (l *Local) Releases(_ context.Context) (schemas.Releases, error) {
	releases := make(schemas.Releases)

	l.releasesMutex.RLock()
	defer l.releasesMutex.RUnlock()

	for k, v := range l.releases {
		releases[k] = v
	}

	return releases, nil
}

// ReleasesCount returns how many releases are stored.
func (l *Local) ReleasesCount(_ context.Context) (int64, error) {
	l.releasesMutex.RLock()
	defer l.releasesMutex.RUnlock()

	return int64(len(l.releases)), nil
}

// SetCurrentRelease records the currently live production release of a project.
func (l *Local) SetCurrentRelease(_ context.Context, release schemas.Release) error {
	l.currentReleasesMutex.Lock()
	defer l.currentReleasesMutex.Unlock()

	l.currentReleases[release.ProjectName] = release

	return nil
}

// GetCurrentRelease returns the currently live production release of a
// project, with found=false when the project never released.
func (l *Local) GetCurrentRelease(_ context.Context, projectName string) (schemas.Release, bool, error) {
	l.currentReleasesMutex.RLock()
	defer l.currentReleasesMutex.RUnlock()

	release, found := l.currentReleases[projectName]

	return release, found, nil
}

// SetRef stores a reference.
func (l *Local) SetRef(_ context.Context, ref schemas.Ref) error {
	l.refsMutex.Lock()
	defer l.refsMutex.Unlock()

	l.refs[ref.Key()] = ref

	return nil
}

// DelRef deletes a reference.
func (l *Local) DelRef(_ context.Context, k schemas.RefKey) error {
	l.refsMutex.Lock()
	defer l.refsMutex.Unlock()

	delete(l.refs, k)

	return nil
}

// GetRef loads a reference by the key of the passed value.
func (l *Local) GetRef(ctx context.Context, ref *schemas.Ref) error {
	exists, _ := l.RefExists(ctx, ref.Key())
	if exists {
		l.refsMutex.RLock()
		*ref = l.refs[ref.Key()]
		l.refsMutex.RUnlock()
	}

	return nil
}

// RefExists tells whether a reference is stored under the given key.
func (l *Local) RefExists(_ context.Context, k schemas.RefKey) (bool, error) {
	l.refsMutex.RLock()
	defer l.refsMutex.RUnlock()

	_, ok := l.refs[k]

	return ok, nil
}

// Refs returns a copy of all stored references.
func (l *Local) Refs(_ context.Context) (schemas.Refs, error) {
	refs := make(schemas.Refs)

	l.refsMutex.RLock()
	defer l.refsMutex.RUnlock()

	for k, v := range l.refs {
		refs[k] = v
	}

	return refs, nil
}

// RefsCount returns how many references are stored.
func (l *Local) RefsCount(_ context.Context) (int64, error) {
	l.refsMutex.RLock()
	defer l.refsMutex.RUnlock()

	return int64(len(l.refs)), nil
}

// SetMetric stores a metric.
func (l *Local) SetMetric(_ context.Context, m schemas.Metric) error {
	l.metricsMutex.Lock()
	defer l.metricsMutex.Unlock()

	l.metrics[m.Key()] = m

	return nil
}

// DelMetric deletes a metric.
func (l *Local) DelMetric(_ context.Context, k schemas.MetricKey) error {
	l.metricsMutex.Lock()
	defer l.metricsMutex.Unlock()

	delete(l.metrics, k)

	return nil
}

// GetMetric loads a metric by the key of the passed value.
func (l *Local) GetMetric(ctx context.Context, m *schemas.Metric) error {
	exists, _ := l.MetricExists(ctx, m.Key())
	if exists {
		l.metricsMutex.RLock()
		*m = l.metrics[m.Key()]
		l.metricsMutex.RUnlock()
	}

	return nil
}

// MetricExists tells whether a metric is stored under the given key.
func (l *Local) MetricExists(_ context.Context, k schemas.MetricKey) (bool, error) {
	l.metricsMutex.RLock()
	defer l.metricsMutex.RUnlock()

	_, ok := l.metrics[k]

	return ok, nil
}

// Metrics returns a copy of all stored metrics.
func (l *Local) Metrics(_ context.Context) (schemas.Metrics, error) {
	metrics := make(schemas.Metrics)

	l.metricsMutex.RLock()
	defer l.metricsMutex.RUnlock()

	for k, v := range l.metrics {
		metrics[k] = v
	}

	return metrics, nil
}

// MetricsCount returns how many metrics are stored.
func (l *Local) MetricsCount(_ context.Context) (int64, error) {
	l.metricsMutex.RLock()
	defer l.metricsMutex.RUnlock()

	return int64(len(l.metrics)), nil
}

// AcquireRefLease takes the version resolution lease of a reference. It
// returns true when the lease was obtained, false when it is already held and
// has not expired yet.
func (l *Local) AcquireRefLease(_ context.Context, rk schemas.RefKey, processUUID string, ttl time.Duration) (bool, error) {
	l.refLeasesMutex.Lock()
	defer l.refLeasesMutex.Unlock()

	if lease, held := l.refLeases[rk]; held && time.Now().Before(lease.expiresAt) {
		return false, nil
	}

	l.refLeases[rk] = refLease{
		processUUID: processUUID,
		expiresAt:   time.Now().Add(ttl),
	}

	return true, nil
}

// ReleaseRefLease releases the version resolution lease of a reference,
// provided the current process still holds it.
func (l *Local) ReleaseRefLease(_ context.Context, rk schemas.RefKey, processUUID string) error {
	l.refLeasesMutex.Lock()
	defer l.refLeasesMutex.Unlock()

	if lease, held := l.refLeases[rk]; held && lease.processUUID == processUUID {
		delete(l.refLeases, rk)
	}

	return nil
}

// isTaskAlreadyQueued assesses if a task is already queued or not.
func (l *Local) isTaskAlreadyQueued(tt schemas.TaskType, uniqueID string) bool {
	l.tasksMutex.Lock()
	defer l.tasksMutex.Unlock()

	if l.tasks == nil {
		l.tasks = make(map[schemas.TaskType]map[string]interface{})
	}

	taskTypeQueue, ok := l.tasks[tt]
	if !ok {
		l.tasks[tt] = make(map[string]interface{})

		return false
	}

	_, alreadyQueued := taskTypeQueue[uniqueID]

	return alreadyQueued
}

// QueueTask registers that we are queueing the task. It returns true if it
// managed to schedule it, false if it was already scheduled.
func (l *Local) QueueTask(_ context.Context, tt schemas.TaskType, uniqueID, _ string) (bool, error) {
	if !l.isTaskAlreadyQueued(tt, uniqueID) {
		l.tasksMutex.Lock()
		defer l.tasksMutex.Unlock()

		l.tasks[tt][uniqueID] = nil

		return true, nil
	}

	return false, nil
}

// UnqueueTask removes the task from the tracker and counts it as executed.
func (l *Local) UnqueueTask(_ context.Context, tt schemas.TaskType, uniqueID string) error {
	if l.isTaskAlreadyQueued(tt, uniqueID) {
		l.tasksMutex.Lock()
		defer l.tasksMutex.Unlock()

		delete(l.tasks[tt], uniqueID)

		l.executedTasksCount++
	}

	return nil
}

// CurrentlyQueuedTasksCount returns the count of currently queued tasks.
func (l *Local) CurrentlyQueuedTasksCount(_ context.Context) (count uint64, err error) {
	l.tasksMutex.RLock()
	defer l.tasksMutex.RUnlock()

	for _, t := range l.tasks {
		count += uint64(len(t))
	}

	return
}

// ExecutedTasksCount returns the count of tasks executed so far.
func (l *Local) ExecutedTasksCount(_ context.Context) (uint64, error) {
	l.tasksMutex.RLock()
	defer l.tasksMutex.RUnlock()

	return l.executedTasksCount, nil
}
