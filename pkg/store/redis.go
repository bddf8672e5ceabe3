package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

const (
	redisRecordsKey            string = "records"
	redisReleasesKey           string = "releases"
	redisCurrentReleasesKey    string = "releases_current"
	redisRefsKey               string = "refs"
	redisMetricsKey            string = "metrics"
	redisRefLeaseKey           string = "ref_lease"
	redisTaskKey               string = "task"
	redisTasksExecutedCountKey string = "tasksExecutedCount"
	redisKeepaliveKey          string = "keepalive"
)

// Redis is the store implementation shared by clustered orchestrator
// replicas. Entities are msgpack-encoded fields of one hash per entity kind.
type Redis struct {
	*redis.Client
}

// hashSet msgpack-encodes v and stores it under the given hash field.
func (r *Redis) hashSet(ctx context.Context, key, field string, v any) error {
	marshalled, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}

	_, err = r.HSet(ctx, key, field, marshalled).Result()

	return err
}

// hashGet loads the given hash field into v, reporting whether the field
// existed. v is left untouched when it did not.
func (r *Redis) hashGet(ctx context.Context, key, field string, v any) (bool, error) {
	payload, err := r.HGet(ctx, key, field).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}

		return false, err
	}

	return true, msgpack.Unmarshal([]byte(payload), v)
}

// hashGetAll decodes every field of a hash into out.
func hashGetAll[K ~string, V any](ctx context.Context, r *Redis, key string, out map[K]V) error {
	marshalled, err := r.HGetAll(ctx, key).Result()
	if err != nil {
		return err
	}

	for field, payload := range marshalled {
		var v V
		if err = msgpack.Unmarshal([]byte(payload), &v); err != nil {
			return err
		}

		out[K(field)] = v
	}

	return nil
}

// SetRecord stores a deployment record.
func (r *Redis) SetRecord(ctx context.Context, dr schemas.DeploymentRecord) error {
	return r.hashSet(ctx, redisRecordsKey, string(dr.Key()), dr)
}

// DelRecord deletes a deployment record.
func (r *Redis) DelRecord(ctx context.Context, rk schemas.RecordKey) error {
	_, err := r.HDel(ctx, redisRecordsKey, string(rk)).Result()

	return err
}

// GetRecord loads a deployment record by the key of the passed value.
func (r *Redis) GetRecord(ctx context.Context, dr *schemas.DeploymentRecord) error {
	_, err := r.hashGet(ctx, redisRecordsKey, string(dr.Key()), dr)

	return err
}

// RecordExists tells whether a deployment record is stored under the given key.
func (r *Redis) RecordExists(ctx context.Context, rk schemas.RecordKey) (bool, error) {
	return r.HExists(ctx, redisRecordsKey, string(rk)).Result()
}

// Records returns all stored deployment records.
func (r *Redis) Records(ctx context.Context) (schemas.Records, error) {
	records := schemas.Records{}
	err := hashGetAll(ctx, r, redisRecordsKey, records)

	return records, err
}

// RecordsCount returns how many deployment records are stored.
func (r *Redis) RecordsCount(ctx context.Context) (int64, error) {
	return r.HLen(ctx, redisRecordsKey).Result()
}

// SetRelease stores a release.
func (r *Redis) SetRelease(ctx context.Context, release schemas.Release) error {
	return r.hashSet(ctx, redisReleasesKey, string(release.Key()), release)
}

// DelRelease deletes a release.
func (r *Redis) DelRelease(ctx context.Context, rk schemas.ReleaseKey) error {
	_, err := r.HDel(ctx, redisReleasesKey, string(rk)).Result()

	return err
}

// GetRelease loads a release by the key of the passed value.
func (r *Redis) GetRelease(ctx context.Context, release *schemas.Release) error {
	_, err := r.hashGet(ctx, redisReleasesKey, string(release.Key()), release)

	return err
}

// ReleaseExists tells whether a release is stored under the given key.
func (r *Redis) ReleaseExists(ctx context.Context, rk schemas.ReleaseKey) (bool, error) {
	return r.HExists(ctx, redisReleasesKey, string(rk)).Result()
}

// Releases returns all stored releases.
func (r *Redis) Releases(ctx context.Context) (schemas.Releases, error) {
	releases := schemas.Releases{}
	err := hashGetAll(ctx, r, redisReleasesKey, releases)

	return releases, err
}

// ReleasesCount returns how many releases are stored.
func (r *Redis) ReleasesCount(ctx context.Context) (int64, error) {
	return r.HLen(ctx, redisReleasesKey).Result()
}

// SetCurrentRelease records the currently live production release of a
// project, keyed by project name.
func (r *Redis) SetCurrentRelease(ctx context.Context, release schemas.Release) error {
	return r.hashSet(ctx, redisCurrentReleasesKey, release.ProjectName, release)
}

// GetCurrentRelease returns the currently live production release of a
// project, with found=false when the project never released.
func (r *Redis) GetCurrentRelease(ctx context.Context, projectName string) (schemas.Release, bool, error) {
	release := schemas.Release{}
	found, err := r.hashGet(ctx, redisCurrentReleasesKey, projectName, &release)

	return release, found, err
}

// SetRef stores a reference.
func (r *Redis) SetRef(ctx context.Context, ref schemas.Ref) error {
	return r.hashSet(ctx, redisRefsKey, string(ref.Key()), ref)
}

// DelRef deletes a reference.
func (r *Redis) DelRef(ctx context.Context, k schemas.RefKey) error {
	_, err := r.HDel(ctx, redisRefsKey, string(k)).Result()

	return err
}

// GetRef loads a reference by the key of the passed value.
func (r *Redis) GetRef(ctx context.Context, ref *schemas.Ref) error {
	_, err := r.hashGet(ctx, redisRefsKey, string(ref.Key()), ref)

	return err
}

// RefExists tells whether a reference is stored under the given key.
func (r *Redis) RefExists(ctx context.Context, k schemas.RefKey) (bool, error) {
	return r.HExists(ctx, redisRefsKey, string(k)).Result()
}

// Refs returns all stored references.
func (r *Redis) Refs(ctx context.Context) (schemas.Refs, error) {
	refs := schemas.Refs{}
	err := hashGetAll(ctx, r, redisRefsKey, refs)

	return refs, err
}

// RefsCount returns how many references are stored.
func (r *Redis) RefsCount(ctx context.Context) (int64, error) {
	return r.HLen(ctx, redisRefsKey).Result()
}

// SetMetric stores a metric.
func (r *Redis) SetMetric(ctx context.Context, m schemas.Metric) error {
	return r.hashSet(ctx, redisMetricsKey, string(m.Key()), m)
}

// DelMetric deletes a metric.
func (r *Redis) DelMetric(ctx context.Context, k schemas.MetricKey) error {
	_, err := r.HDel(ctx, redisMetricsKey, string(k)).Result()

	return err
}

// MetricExists tells whether a metric is stored under the given key.
func (r *Redis) MetricExists(ctx context.Context, k schemas.MetricKey) (bool, error) {
	return r.HExists(ctx, redisMetricsKey, string(k)).Result()
}

// GetMetric loads a metric by the key of the passed value.
func (r *Redis) GetMetric(ctx context.Context, m *schemas.Metric) error {
	_, err := r.hashGet(ctx, redisMetricsKey, string(m.Key()), m)

	return err
}

// Metrics returns all stored metrics.
func (r *Redis) Metrics(ctx context.Context) (schemas.Metrics, error) {
	metrics := schemas.Metrics{}
	err := hashGetAll(ctx, r, redisMetricsKey, metrics)

	return metrics, err
}

// MetricsCount returns how many metrics are stored.
func (r *Redis) MetricsCount(ctx context.Context) (int64, error) {
	return r.HLen(ctx, redisMetricsKey).Result()
}

func getRedisRefLeaseKey(rk schemas.RefKey) string {
	return fmt.Sprintf("%s:%s", redisRefLeaseKey, rk)
}

// AcquireRefLease takes the version resolution lease of a reference. It
// returns true when the lease was obtained, false when another process
// currently holds it. Leases expire after the given TTL so a crashed holder
// does not wedge the ref forever.
func (r *Redis) AcquireRefLease(ctx context.Context, rk schemas.RefKey, processUUID string, ttl time.Duration) (acquired bool, err error) {
	k := getRedisRefLeaseKey(rk)

	acquired, err = r.SetNX(ctx, k, processUUID, ttl).Result()
	if err != nil || acquired {
		return
	}

	var holder string
	if holder, err = r.Get(ctx, k).Result(); err != nil {
		if err == redis.Nil {
			// The lease expired in between, try again
			return r.SetNX(ctx, k, processUUID, ttl).Result()
		}

		return
	}

	// A dead holder loses the lease
	if holder != processUUID {
		var holderIsAlive bool
		if holderIsAlive, err = r.KeepaliveExists(ctx, holder); err != nil {
			return
		}

		if !holderIsAlive {
			if _, err = r.Set(ctx, k, processUUID, ttl).Result(); err != nil {
				return
			}

			return true, nil
		}
	}

	return
}

// ReleaseRefLease releases the version resolution lease of a reference,
// provided the current process still holds it.
func (r *Redis) ReleaseRefLease(ctx context.Context, rk schemas.RefKey, processUUID string) (err error) {
	k := getRedisRefLeaseKey(rk)

	var holder string
	if holder, err = r.Get(ctx, k).Result(); err != nil {
		if err == redis.Nil {
			return nil
		}

		return
	}

	if holder != processUUID {
		return nil
	}

	_, err = r.Del(ctx, k).Result()

	return
}

// SetKeepalive marks the given process UUID as alive for the TTL. Replicas
// refresh it periodically, lease and task takeovers check it.
func (r *Redis) SetKeepalive(ctx context.Context, uuid string, ttl time.Duration) (bool, error) {
	return r.SetNX(ctx, fmt.Sprintf("%s:%s", redisKeepaliveKey, uuid), nil, ttl).Result()
}

// KeepaliveExists returns whether a keepalive exists for a particular process UUID.
func (r *Redis) KeepaliveExists(ctx context.Context, uuid string) (bool, error) {
	exists, err := r.Exists(ctx, fmt.Sprintf("%s:%s", redisKeepaliveKey, uuid)).Result()

	return exists == 1, err
}

func getRedisQueueKey(tt schemas.TaskType, taskUUID string) string {
	return fmt.Sprintf("%s:%v:%s", redisTaskKey, tt, taskUUID)
}

// QueueTask registers that we are queueing the task. It returns true if it
// managed to schedule it, false if it was already scheduled. A task queued by
// a process that since died is taken over.
func (r *Redis) QueueTask(ctx context.Context, tt schemas.TaskType, taskUUID, processUUID string) (set bool, err error) {
	k := getRedisQueueKey(tt, taskUUID)

	set, err = r.SetNX(ctx, k, processUUID, 0).Result()
	if err != nil || set {
		return
	}

	var tpuuid string
	if tpuuid, err = r.Get(ctx, k).Result(); err != nil {
		return
	}

	if tpuuid != processUUID {
		var uuidIsAlive bool
		if uuidIsAlive, err = r.KeepaliveExists(ctx, tpuuid); err != nil {
			return
		}

		if !uuidIsAlive {
			if _, err = r.Set(ctx, k, processUUID, 0).Result(); err != nil {
				return
			}

			return true, nil
		}
	}

	return
}

// UnqueueTask removes the task from the tracker and counts it as executed.
func (r *Redis) UnqueueTask(ctx context.Context, tt schemas.TaskType, taskUUID string) (err error) {
	var matched int64

	matched, err = r.Del(ctx, getRedisQueueKey(tt, taskUUID)).Result()
	if err != nil {
		return
	}

	if matched > 0 {
		_, err = r.Incr(ctx, redisTasksExecutedCountKey).Result()
	}

	return
}

// CurrentlyQueuedTasksCount returns the count of currently queued tasks.
func (r *Redis) CurrentlyQueuedTasksCount(ctx context.Context) (count uint64, err error) {
	iter := r.Scan(ctx, 0, fmt.Sprintf("%s:*", redisTaskKey), 0).Iterator()
	for iter.Next(ctx) {
		count++
	}

	err = iter.Err()

	return
}

// ExecutedTasksCount returns the count of tasks executed so far.
func (r *Redis) ExecutedTasksCount(ctx context.Context) (uint64, error) {
	countString, err := r.Get(ctx, redisTasksExecutedCountKey).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}

		return 0, err
	}

	c, err := strconv.Atoi(countString)

	return uint64(c), err
}
