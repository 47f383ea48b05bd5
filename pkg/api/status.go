package api

// Status is a job or task status
type Status string

const (
	// StatusPending default status, task is created and has no unresolved predecessor
	StatusPending Status = "PENDING"

	// StatusBlocked status for tasks waiting on predecessors
	StatusBlocked Status = "BLOCKED"

	// StatusStaging status for tasks staging their input data
	StatusStaging Status = "STAGING"

	// StatusCoordinating status for multi-instance tasks waiting at the barrier
	StatusCoordinating Status = "COORDINATING"

	// StatusRunning status for tasks whose container is executing
	StatusRunning Status = "RUNNING"

	// StatusStagingOutputs status for tasks staging their output data
	StatusStagingOutputs Status = "STAGING_OUTPUTS"

	// StatusCompleted status for tasks completed
	StatusCompleted Status = "COMPLETED"

	// StatusFailed status for tasks failed
	StatusFailed Status = "FAILED"

	// StatusCancelled status for tasks cancelled by a job abort
	StatusCancelled Status = "CANCELLED"
)

// Finished returns true if the status is considered final
func (s Status) Finished() bool {
	for _, fs := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if s == fs {
			return true
		}
	}
	return false
}
