package agent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"

	"github.com/ebetica/batch-shipyard/pkg/api"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const (
	envSandboxPort = "PORT" //http port used in sandbox mode, if not set 8080 is used
)

// sandbox starts an http server running coordination commands.
// This mode is for development/testing purpose.
// Route is POST /coordinate
// Response code 200 is equivalent to a READY signal.
func sandbox(ctx context.Context) error {
	port := os.Getenv(envSandboxPort)
	if port == "" {
		port = "8080"
	}

	r := mux.NewRouter()
	r.HandleFunc("/coordinate", handleSandbox(ctx)).Methods(http.MethodPost)
	ctx.Logger().Infof("Sandbox agent started on 127.0.0.1:%s", port)
	return http.ListenAndServe(fmt.Sprintf(":%s", port), r)
}

type sandboxRequest struct {
	Command string `json:"command"`
}

type sandboxResponse struct {
	ExecutionID string `json:"execution_id"`
	Output      string `json:"output,omitempty"`
}

func handleSandbox(ctx context.Context) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := contextFromHeaders(ctx, r.Header)

		resp := sandboxResponse{ExecutionID: uuid.New().String()}
		if req.Command != "" {
			cmd := exec.CommandContext(r.Context(), "/bin/sh", "-c", req.Command)
			out, err := cmd.CombinedOutput()
			resp.Output = string(out)
			if err != nil {
				ctx.Logger().Error(errors.Wrap(err, "coordination command failed"))
				http.Error(w, string(out), http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			ctx.Logger().Error(err)
		}
	}
}

func decode(r *http.Request) (sandboxRequest, error) {
	var req sandboxRequest
	switch r.Header.Get("content-type") {
	case "application/json", "": //if no content-type, assuming json
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, errors.Wrap(err, "cannot decode request body")
		}
	default:
		return req, errors.New("only 'content-type: application/json' is supported")
	}
	return req, nil
}

func contextFromHeaders(ctx context.Context, headers http.Header) context.Context {
	if jobID := headers.Get(api.HeaderJobID); jobID != "" {
		ctx = context.WithJobID(ctx, jobID)
	}
	if taskID := headers.Get(api.HeaderTaskID); taskID != "" {
		ctx = context.WithTaskID(ctx, taskID)
	}
	correlationID := headers.Get(api.HeaderCorrelationID)
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	return context.WithCorrelationID(ctx, correlationID)
}
