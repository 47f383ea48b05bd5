package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ebetica/batch-shipyard/pkg/api"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// TaskStateResponse is the response of the TaskState endpoint.
type TaskStateResponse api.TaskState

const (
	// TaskStateMethod is http method used for endpoint TaskState
	TaskStateMethod     = http.MethodGet
	taskStatePathFormat = "/jobs/%s/tasks/%s/state"
)

var (
	// TaskStatePath is the path definition of the endpoint TaskState.
	TaskStatePath = fmt.Sprintf(taskStatePathFormat, fmt.Sprintf(":%s", JobIDParam), fmt.Sprintf(":%s", TaskIDParam))
)

func (cli client) TaskState(ctx context.Context, jobID, taskID string) (TaskStateResponse, error) {
	req, err := retryablehttp.NewRequest(TaskStateMethod, fmt.Sprintf(cli.uri+taskStatePathFormat, jobID, taskID), nil)
	if err != nil {
		return TaskStateResponse{}, errors.Wrap(err, "cannot create request")
	}
	resp, err := cli.httpcli.Do(req.WithContext(ctx))
	if err != nil {
		return TaskStateResponse{}, errors.Wrap(err, "cannot do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return TaskStateResponse{}, ErrNotFound{fmt.Sprintf("task %s of job %s", taskID, jobID)}
	}

	var res TaskStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return TaskStateResponse{}, errors.Wrap(err, "cannot decode response")
	}
	return res, nil
}
