package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

func TestNewTaskController(t *testing.T) {
	tc := NewTaskController(testCtx, nil, 1000)

	assert.NotNil(t, tc.Factory)
	assert.NotNil(t, tc.Queue)
	assert.NotNil(t, tc.TaskMap)
	assert.NotNil(t, tc.TaskSchedulingMonitoring)
	assert.Equal(t, 1000, tc.Queue.Options().BufferSize)
}

func TestScheduleTaskDeduplicates(t *testing.T) {
	c, _ := newTestController(t)

	c.ScheduleTask(testCtx, schemas.TaskTypeGarbageCollectRecords, "_")

	count, err := c.Store.CurrentlyQueuedTasksCount(testCtx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	// The same unique id does not queue twice
	c.ScheduleTask(testCtx, schemas.TaskTypeGarbageCollectRecords, "_")

	count, err = c.Store.CurrentlyQueuedTasksCount(testCtx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestScheduleTaskWithTicker(t *testing.T) {
	c, _ := newTestController(t)

	ctx, cancel := context.WithCancel(testCtx)
	defer cancel()

	c.ScheduleTaskWithTicker(ctx, schemas.TaskTypeGarbageCollectRecords, 600)

	status, ok := c.TaskController.TaskSchedulingMonitoring[schemas.TaskTypeGarbageCollectRecords]
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(600*time.Second), status.Next, 5*time.Second)
}

func TestScheduleTaskWithTickerMisconfigured(t *testing.T) {
	c, _ := newTestController(t)

	c.ScheduleTaskWithTicker(testCtx, schemas.TaskTypeGarbageCollectRecords, 0)

	assert.Empty(t, c.TaskController.TaskSchedulingMonitoring)
}

func TestMonitorTaskScheduling(t *testing.T) {
	tc := NewTaskController(testCtx, nil, 10)

	tc.monitorNextTaskScheduling(schemas.TaskTypeDeploymentRun, 30)

	status, ok := tc.TaskSchedulingMonitoring[schemas.TaskTypeDeploymentRun]
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), status.Next, 5*time.Second)

	tc.monitorLastTaskScheduling(schemas.TaskTypeDeploymentRun)
	assert.WithinDuration(t, time.Now(), status.Last, 5*time.Second)
}

func TestTaskHandlerGarbageCollectRecords(t *testing.T) {
	c, _ := newTestController(t)

	queued, err := c.Store.QueueTask(testCtx, schemas.TaskTypeGarbageCollectRecords, "_", c.UUID.String())
	require.NoError(t, err)
	require.True(t, queued)

	require.NoError(t, c.TaskHandlerGarbageCollectRecords(testCtx))

	count, err := c.Store.CurrentlyQueuedTasksCount(testCtx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)

	status, ok := c.TaskController.TaskSchedulingMonitoring[schemas.TaskTypeGarbageCollectRecords]
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), status.Last, 5*time.Second)
}

func TestTaskHandlerDeploymentRun(t *testing.T) {
	c, mux := newTestController(t)

	deployEndpointStub(mux, schemas.EnvironmentDevelopment, `{"status":"succeeded"}`)
	deployEndpointStub(mux, schemas.EnvironmentStaging, `{"status":"succeeded"}`)

	record, err := c.AcceptDeploymentRequest(testCtx, schemas.DeploymentRequest{
		Ref:       "main",
		RefKind:   schemas.RefKindBranch,
		CommitSha: testSha,
		Actor:     "alice",
		Trigger:   schemas.TriggerKindAPI,
	})
	require.NoError(t, err)

	count, err := c.Store.CurrentlyQueuedTasksCount(testCtx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)

	require.NoError(t, c.TaskHandlerDeploymentRun(testCtx, record.ID.String()))

	// The handler unqueues once the run terminated
	count, err = c.Store.CurrentlyQueuedTasksCount(testCtx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)

	stored := storedRecord(t, c, record.Key())
	assert.Equal(t, schemas.RunStateSucceeded, stored.State)
}
