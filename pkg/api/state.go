package api

import (
	"time"
)

// JobState represents job state.
type JobState struct {
	ID         string      `json:"id"`
	Status     Status      `json:"status"`
	Tasks      []TaskState `json:"tasks,omitempty"`
	CreateTime *time.Time  `json:"createTime,omitempty"`
	StartTime  *time.Time  `json:"startTime,omitempty"`
	EndTime    *time.Time  `json:"endTime,omitempty"`
}

// TaskState represents task state.
type TaskState struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}
