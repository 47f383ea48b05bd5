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

// JobStateResponse is the response of the JobState endpoint.
type JobStateResponse api.JobState

// JobsResponse is the response of the Jobs endpoint: job id to status.
type JobsResponse map[string]api.Status

const (
	// JobStateMethod is http method used for endpoint JobState
	JobStateMethod     = http.MethodGet
	jobStatePathFormat = "/jobs/%s/state"

	// JobsMethod is http method used for endpoint Jobs
	JobsMethod = http.MethodGet
	// JobsPath is the path definition of the endpoint Jobs.
	JobsPath = "/jobs"

	// CancelMethod is http method used for endpoint Cancel
	CancelMethod     = http.MethodDelete
	cancelPathFormat = "/jobs/%s"
)

var (
	// JobStatePath is the path definition of the endpoint JobState.
	JobStatePath = fmt.Sprintf(jobStatePathFormat, fmt.Sprintf(":%s", JobIDParam))

	// CancelPath is the path definition of the endpoint Cancel.
	CancelPath = fmt.Sprintf(cancelPathFormat, fmt.Sprintf(":%s", JobIDParam))
)

func (cli client) JobState(ctx context.Context, jobID string) (JobStateResponse, error) {
	req, err := retryablehttp.NewRequest(JobStateMethod, fmt.Sprintf(cli.uri+jobStatePathFormat, jobID), nil)
	if err != nil {
		return JobStateResponse{}, errors.Wrap(err, "cannot create request")
	}
	resp, err := cli.httpcli.Do(req.WithContext(ctx))
	if err != nil {
		return JobStateResponse{}, errors.Wrap(err, "cannot do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return JobStateResponse{}, ErrNotFound{fmt.Sprintf("job %s", jobID)}
	}

	var res JobStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return JobStateResponse{}, errors.Wrap(err, "cannot decode response")
	}
	return res, nil
}

func (cli client) Jobs(ctx context.Context) (JobsResponse, error) {
	req, err := retryablehttp.NewRequest(JobsMethod, cli.uri+JobsPath, nil)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create request")
	}
	resp, err := cli.httpcli.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "cannot do request")
	}
	defer resp.Body.Close()

	var res JobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, errors.Wrap(err, "cannot decode response")
	}
	return res, nil
}

func (cli client) Cancel(ctx context.Context, jobID string) error {
	req, err := retryablehttp.NewRequest(CancelMethod, fmt.Sprintf(cli.uri+cancelPathFormat, jobID), nil)
	if err != nil {
		return errors.Wrap(err, "cannot create request")
	}
	resp, err := cli.httpcli.Do(req.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "cannot do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound{fmt.Sprintf("job %s", jobID)}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errors.Errorf("cannot cancel job %s: status %d", jobID, resp.StatusCode)
	}
	return nil
}
