package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ebetica/batch-shipyard/pkg/api"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

const (
	// SubmitMethod is http method used for endpoint Submit
	SubmitMethod = http.MethodPost
	// SubmitPath is the path definition of the endpoint Submit.
	SubmitPath = "/jobs"
)

// SubmitResponse is the response structure for the Submit endpoint
type SubmitResponse struct {
	JobID string `json:"jobID"`
}

func (cli client) Submit(ctx context.Context, spec api.JobSpec) (string, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return "", errors.Wrap(err, "cannot marshal request")
	}

	req, err := retryablehttp.NewRequest(SubmitMethod, cli.uri+SubmitPath, body)
	if err != nil {
		return "", errors.Wrap(err, "cannot create request")
	}
	req.Header.Set("content-type", "application/json")

	resp, err := cli.httpcli.Do(req.WithContext(ctx))
	if err != nil {
		return "", errors.Wrap(err, "cannot do request")
	}
	defer resp.Body.Close()
	dec := json.NewDecoder(resp.Body)

	if resp.StatusCode == http.StatusBadRequest {
		var httpErr HTTPError
		if err := dec.Decode(&httpErr); err != nil {
			// Cannot decode error
			return "", ErrBadRequest{errors.New("bad request")}
		}
		return "", ErrBadRequest{errors.Wrap(httpErr, "job is not valid")}
	}
	var res SubmitResponse
	if err := dec.Decode(&res); err != nil {
		return "", errors.Wrap(err, "cannot decode response")
	}
	return res.JobID, nil
}
