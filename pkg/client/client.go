package client

import (
	"context"
	"strings"

	"github.com/ebetica/batch-shipyard/pkg/api"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// JobIDParam is the param definition for JobID
	JobIDParam = "jobID"

	// TaskIDParam is the param definition for TaskID
	TaskIDParam = "taskID"
)

// Client is the API client that performs all operations to a shipyard server
type Client interface {
	// Submit submits a new job with the given spec.
	// It returns the job identifier.
	Submit(ctx context.Context, spec api.JobSpec) (string, error)

	// Jobs lists the known jobs with their status.
	Jobs(ctx context.Context) (JobsResponse, error)

	// JobState returns the state of a job.
	JobState(ctx context.Context, jobID string) (JobStateResponse, error)

	// TaskState returns the state of a task.
	TaskState(ctx context.Context, jobID, taskID string) (TaskStateResponse, error)

	// Cancel cancels a running job.
	Cancel(ctx context.Context, jobID string) error
}

// NewClient creates a shipyard client
func NewClient(uri string) (Client, error) {
	httpcli := retryablehttp.NewClient()
	httpcli.Logger = nil
	u := strings.TrimRight(uri, "/")
	return client{
		httpcli: httpcli,
		uri:     u,
	}, nil
}

type client struct {
	httpcli *retryablehttp.Client
	uri     string
}
