package store

import (
	"context"
	"time"

	"github.com/ebetica/batch-shipyard/pkg/api"
)

// TimeOption is used when setting time is necessary
type TimeOption struct {
	CreateTime time.Time
	StartTime  time.Time
	EndTime    time.Time
}

// Store interface defines access to the store backend
type Store interface {
	SchedulerStore
	RegistryStore
	ReadOnlyStore
}

// SchedulerStore defines the state-transition access used by the driver.
// The driver is the sole writer of task state.
type SchedulerStore interface {
	// CreateJob creates a new job with its tasks, keyed by resolved task id.
	CreateJob(ctx context.Context, spec api.JobSpec, taskIDs []string) error

	SetJobStatus(ctx context.Context, jobID string, status api.Status, opt TimeOption) error
	GetJobStatus(ctx context.Context, jobID string) (api.Status, error)

	// SetTaskStatus transitions the task to the given status.
	SetTaskStatus(ctx context.Context, jobID, taskID string, status api.Status, opt TimeOption) error
	GetTaskStatus(ctx context.Context, jobID, taskID string) (api.Status, error)
	GetTaskStatuses(ctx context.Context, jobID string) (map[string]api.Status, error)

	// SetTaskError records the failure cause with enough context (stage,
	// entry, underlying error) to surface in the job status.
	SetTaskError(ctx context.Context, jobID, taskID string, cause error) error

	// IsJobFinished reports whether every task reached a terminal state.
	IsJobFinished(ctx context.Context, jobID string) (bool, error)
}

// RegistryStore is the job/task output registry. azure_batch input entries
// resolve their source directory through it; the reference is weak and must
// tolerate the referenced task living on an already-completed foreign job.
type RegistryStore interface {
	SetTaskOutputDir(ctx context.Context, jobID, taskID, dir string) error
	TaskOutputDir(ctx context.Context, jobID, taskID string) (string, error)
}

// ReadOnlyStore are functions used by the controller to access data in RO
type ReadOnlyStore interface {
	// ListJobs lists the known jobs as a map with job id as key and status as value.
	ListJobs(ctx context.Context) (map[string]api.Status, error)
	GetJobState(ctx context.Context, jobID string) (api.JobState, error)
	GetTaskState(ctx context.Context, jobID, taskID string) (api.TaskState, error)
}
