package coordinator

import (
	gocontext "context"
	"time"

	"github.com/ebetica/batch-shipyard/pkg/api"
	"github.com/ebetica/batch-shipyard/pkg/broker"
	"github.com/ebetica/batch-shipyard/pkg/broker/events"
	"github.com/ebetica/batch-shipyard/pkg/pool"
	"github.com/ebetica/batch-shipyard/pkg/staging"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultBarrierTimeout bounds how long the barrier waits for READY signals.
const DefaultBarrierTimeout = 15 * time.Minute

// teardownTimeout bounds the best-effort TEARDOWN publishes after a failed
// barrier.
const teardownTimeout = 5 * time.Second

// Coordination is the outcome of a satisfied barrier. The primary command of
// the task runs on Master only.
type Coordination struct {
	Master       pool.NodeID
	Participants []pool.NodeID
	Instances    int
}

// Coordinator drives the coordination phase of a multi-instance task:
// instance resolution, per-node resource file staging, and the readiness
// barrier over the broker.
type Coordinator interface {
	Coordinate(ctx context.Context, job api.JobSpec, task api.TaskSpec) (Coordination, error)
}

type coordinator struct {
	broker  broker.Broker
	pool    pool.Provider
	staging *staging.Engine
	timeout time.Duration
}

// Opt is an option function for New.
type Opt func(*coordinator)

// WithBarrierTimeout overrides DefaultBarrierTimeout.
func WithBarrierTimeout(d time.Duration) Opt {
	return func(c *coordinator) {
		c.timeout = d
	}
}

// New returns a broker backed Coordinator.
func New(b broker.Broker, p pool.Provider, s *staging.Engine, opts ...Opt) Coordinator {
	c := &coordinator{
		broker:  b,
		pool:    p,
		staging: s,
		timeout: DefaultBarrierTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *coordinator) Coordinate(ctx context.Context, job api.JobSpec, task api.TaskSpec) (Coordination, error) {
	mi := task.MultiInstance
	if mi == nil {
		return Coordination{}, errors.Errorf("task %s is not multi-instance", task.ID)
	}

	n, err := resolveInstances(ctx, mi.NumInstances, c.pool)
	if err != nil {
		return Coordination{}, err
	}

	nodes, err := c.pool.EligibleNodes(ctx)
	if err != nil {
		return Coordination{}, errors.Wrap(err, "cannot list eligible nodes")
	}
	if len(nodes) < n {
		return Coordination{}, api.InsufficientCapacityError{Required: n, Available: len(nodes)}
	}
	participants := nodes[:n]

	coord := Coordination{
		Master:       participants[0],
		Participants: participants,
		Instances:    n,
	}

	if err := c.stageResourceFiles(ctx, participants, mi.ResourceFiles); err != nil {
		return Coordination{}, err
	}

	// No coordination command means nothing to wait for.
	if mi.CoordinationCommand == "" {
		ctx.Logger().Debugf("task %s has no coordination command, barrier satisfied", task.ID)
		return coord, nil
	}

	if err := c.barrier(ctx, job, task, participants); err != nil {
		return Coordination{}, err
	}
	return coord, nil
}

// stageResourceFiles fans the resource files of the task out to every
// participating node.
func (c *coordinator) stageResourceFiles(ctx context.Context, nodes []pool.NodeID, files []api.ResourceFile) error {
	if len(files) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			nctx := context.WithNodeID(context.FromContext(gctx), string(node))
			return c.staging.StageResourceFiles(nctx, node, files)
		})
	}
	return g.Wait()
}

// barrier publishes a COORDINATE order to every participant and blocks until
// each distinct node answered READY on the reply queue, the barrier timeout
// elapsed, or ctx got cancelled.
func (c *coordinator) barrier(ctx context.Context, job api.JobSpec, task api.TaskSpec, participants []pool.NodeID) error {
	replyQueue := broker.CoordinationQueueName(job.ID, task.ID)
	if err := c.broker.CreateQueue(ctx, replyQueue, broker.ExchangeCoordination); err != nil {
		return errors.Wrapf(err, "cannot create coordination queue %s", replyQueue)
	}
	defer func() {
		if err := c.broker.DeleteQueue(ctx, replyQueue); err != nil {
			ctx.Logger().WithError(err).Warnf("cannot delete coordination queue %s", replyQueue)
		}
	}()

	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	want := len(participants)
	ready := make(chan string, want)
	go func() {
		err := c.broker.Receive(recvCtx, func(ctx context.Context, evt events.Event) error {
			if evt.Type != events.TypeReady {
				ctx.Logger().Warnf("ignoring unexpected %s event on %s", evt.Type, replyQueue)
				return nil
			}
			select {
			case ready <- evt.NodeID:
			case <-recvCtx.Done():
			}
			return nil
		}, func(ctx context.Context, err error) {
			ctx.Logger().WithError(err).Error("cannot handle readiness signal")
		}, replyQueue)
		if err != nil && errors.Cause(err) != recvCtx.Err() {
			ctx.Logger().WithError(err).Errorf("receive on %s ended", replyQueue)
		}
	}()

	order := events.Event{
		Type:          events.TypeCoordinate,
		JobID:         job.ID,
		TaskID:        task.ID,
		CorrelationID: ctx.CorrelationID(),
		Data: events.CoordinateEventData{
			Command: task.MultiInstance.CoordinationCommand,
			ReplyTo: replyQueue,
		},
		Time: time.Now(),
	}
	for _, node := range participants {
		evt := order
		evt.NodeID = string(node)
		q := broker.NodeQueueName(string(node))
		if err := c.broker.Publish(ctx, evt, broker.ExchangeCoordination, q); err != nil {
			return errors.Wrapf(err, "cannot publish coordination order to node %s", node)
		}
	}

	responded := make(map[string]struct{}, want)
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	for len(responded) < want {
		select {
		case node := <-ready:
			if _, dup := responded[node]; dup {
				ctx.Logger().Warnf("duplicate readiness signal from node %s", node)
				continue
			}
			responded[node] = struct{}{}
			ctx.Logger().Debugf("barrier for task %s at %d/%d", task.ID, len(responded), want)
		case <-timer.C:
			c.teardown(ctx, job, task, responded, "barrier timeout")
			return api.BarrierTimeoutError{TaskID: task.ID, Want: want, Got: len(responded)}
		case <-ctx.Done():
			c.teardown(ctx, job, task, responded, "coordination cancelled")
			return ctx.Err()
		}
	}
	return nil
}

// teardown releases the nodes that already answered READY. Best effort, the
// barrier error is already on its way up.
func (c *coordinator) teardown(ctx context.Context, job api.JobSpec, task api.TaskSpec, responded map[string]struct{}, reason string) {
	// ctx may already be cancelled when teardown runs, the publishes get their
	// own short-lived context.
	base, cancel := gocontext.WithTimeout(gocontext.Background(), teardownTimeout)
	defer cancel()
	tctx := context.WithCorrelationID(context.FromContext(base), ctx.CorrelationID())
	for node := range responded {
		evt := events.Event{
			Type:          events.TypeTeardown,
			JobID:         job.ID,
			TaskID:        task.ID,
			NodeID:        node,
			CorrelationID: ctx.CorrelationID(),
			Data:          events.TeardownEventData{Reason: reason},
			Time:          time.Now(),
		}
		q := broker.NodeQueueName(node)
		if err := c.broker.Publish(tctx, evt, broker.ExchangeCoordination, q); err != nil {
			ctx.Logger().WithError(err).Warnf("cannot publish teardown to node %s", node)
		}
	}
}
