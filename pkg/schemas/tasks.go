package schemas

// TaskType names a kind of queued work.
type TaskType string

const (
	// TaskTypeDeploymentRun executes a deployment run end to end.
	TaskTypeDeploymentRun TaskType = "DeploymentRun"

	// TaskTypeGarbageCollectRecords collects terminated deployment records.
	TaskTypeGarbageCollectRecords TaskType = "GarbageCollectRecords"
)

// Tasks tracks queued task identifiers per task type.
type Tasks map[TaskType]map[string]interface{}
