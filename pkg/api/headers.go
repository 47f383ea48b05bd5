package api

const (
	// HeaderJobID is the header key for job identifiers
	HeaderJobID = "job_id"
	// HeaderTaskID is the header key for task identifiers
	HeaderTaskID = "task_id"
	// HeaderNodeID is the header key for node identifiers
	HeaderNodeID = "node_id"
	// HeaderCorrelationID is the header key for correlation identifiers
	HeaderCorrelationID = "correlation_id"
	// HeaderExecutionID is the header key for execution identifiers
	HeaderExecutionID = "execution_id"
	// HeaderType is the header key for event types
	HeaderType = "type"
)
