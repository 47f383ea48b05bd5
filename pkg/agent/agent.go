// Package agent is the per-node daemon of the coordination plane. It consumes
// COORDINATE orders from the node queue, runs the coordination command locally
// and answers with a READY signal once the command finished.
package agent

import (
	"os"
	"os/exec"
	"time"

	"github.com/ebetica/batch-shipyard/pkg/broker"
	"github.com/ebetica/batch-shipyard/pkg/broker/events"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

const (
	// EnvNodeID carries the identifier of the node the agent runs on.
	EnvNodeID = "SHIPYARD_NODE_ID"

	envSandbox = "SANDBOX"
)

// Start starts the agent and blocks until ctx is cancelled.
func Start() {
	ctx := context.Background()

	startFunc := start
	// Check sandbox mode
	if os.Getenv(envSandbox) == "true" {
		ctx.Logger().Info("SANDBOX mode activated")
		startFunc = sandbox
	}

	if err := startFunc(ctx); err != nil {
		ctx.Logger().Fatal(err)
		os.Exit(1)
	}
}

func start(ctx context.Context) error {
	nodeID := os.Getenv(EnvNodeID)
	if nodeID == "" {
		return errors.Errorf("missing env %s", EnvNodeID)
	}
	ctx = context.WithNodeID(ctx, nodeID)

	b, err := broker.NewFromEnv(ctx)
	if err != nil {
		return errors.Wrap(err, "cannot create new broker")
	}
	defer b.Close()

	qname := broker.NodeQueueName(nodeID)
	if err := b.CreateQueue(ctx, qname, broker.ExchangeCoordination); err != nil {
		return errors.Wrapf(err, "cannot create node queue %s", qname)
	}

	ctx.Logger().Infof("starting agent on node %s", nodeID)
	return b.Receive(ctx, handle(b, nodeID), logError, qname)
}

func logError(ctx context.Context, err error) {
	ctx.Logger().Error(errors.Wrap(err, "cannot handle coordination event"))
}

// handle dispatches the events a node receives.
func handle(b broker.Broker, nodeID string) broker.HandleFunc {
	return func(ctx context.Context, evt events.Event) error {
		switch evt.Type {
		case events.TypeCoordinate:
			return coordinate(ctx, b, nodeID, evt)
		case events.TypeTeardown:
			var data events.TeardownEventData
			if err := mapstructure.Decode(evt.Data, &data); err == nil {
				ctx.Logger().Infof("tearing down task %s: %s", evt.TaskID, data.Reason)
			}
			return nil
		default:
			return errors.Errorf("unexpected event type %s", evt.Type)
		}
	}
}

// coordinate runs the coordination command and reports readiness. An empty
// command reports readiness immediately.
func coordinate(ctx context.Context, b broker.Broker, nodeID string, evt events.Event) error {
	var data events.CoordinateEventData
	if err := mapstructure.Decode(evt.Data, &data); err != nil {
		return errors.Wrap(err, "cannot decode coordination order")
	}
	if data.ReplyTo == "" {
		return errors.New("coordination order has no reply queue")
	}
	executionID := uuid.New().String()

	if data.Command != "" {
		ctx.Logger().Infof("running coordination command for task %s", evt.TaskID)
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", data.Command)
		cmd.Env = append(os.Environ(), "SHIPYARD_EXECUTION_ID="+executionID)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return errors.Wrapf(err, "coordination command failed: %s", string(out))
		}
	}

	ready := events.Event{
		Type:          events.TypeReady,
		JobID:         evt.JobID,
		TaskID:        evt.TaskID,
		NodeID:        nodeID,
		CorrelationID: evt.CorrelationID,
		Data:          events.ReadyEventData{ExecutionID: executionID},
		Time:          time.Now(),
	}
	if err := b.Publish(ctx, ready, broker.ExchangeCoordination, data.ReplyTo); err != nil {
		return errors.Wrapf(err, "cannot publish READY event to %s", data.ReplyTo)
	}
	return nil
}
