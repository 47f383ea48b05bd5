package coordinator

import (
	"testing"
	"time"

	"github.com/ebetica/batch-shipyard/pkg/api"
	"github.com/ebetica/batch-shipyard/pkg/broker"
	"github.com/ebetica/batch-shipyard/pkg/broker/events"
	"github.com/ebetica/batch-shipyard/pkg/graph"
	"github.com/ebetica/batch-shipyard/pkg/pool"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runFakeAgent answers COORDINATE orders on the node queue with a READY
// signal, like a real agent would after running its coordination command.
func runFakeAgent(ctx context.Context, b broker.Broker, node pool.NodeID) {
	go func() {
		_ = b.Receive(ctx, func(ctx context.Context, evt events.Event) error {
			if evt.Type != events.TypeCoordinate {
				return nil
			}
			data := evt.Data.(events.CoordinateEventData)
			return b.Publish(ctx, events.Event{
				Type:   events.TypeReady,
				JobID:  evt.JobID,
				TaskID: evt.TaskID,
				NodeID: string(node),
				Data:   events.ReadyEventData{ExecutionID: "exec-" + string(node)},
				Time:   time.Now(),
			}, broker.ExchangeCoordination, data.ReplyTo)
		}, nil, broker.NodeQueueName(string(node)))
	}()
}

func multiInstanceTask(n int, command string) api.TaskSpec {
	return api.TaskSpec{
		ID:    "mpi",
		Image: "alpine",
		MultiInstance: &api.MultiInstanceSpec{
			NumInstances:        api.NumInstances{Literal: n},
			CoordinationCommand: command,
		},
	}
}

func TestCoordinate(t *testing.T) {
	job := api.JobSpec{ID: "job1"}

	t.Run("barrier satisfied", func(t *testing.T) {
		b := broker.NewInMemoryBroker()
		p := pool.NewStaticProvider("node-b", "node-a", "node-c", "node-d")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		for _, n := range []pool.NodeID{"node-a", "node-b", "node-c", "node-d"} {
			runFakeAgent(ctx, b, n)
		}

		c := New(b, p, nil, WithBarrierTimeout(5*time.Second))
		coord, err := c.Coordinate(ctx, job, multiInstanceTask(3, "mpirun --setup"))
		assert.NoError(t, err)
		assert.Equal(t, pool.NodeID("node-a"), coord.Master)
		assert.Equal(t, []pool.NodeID{"node-a", "node-b", "node-c"}, coord.Participants)
		assert.Equal(t, 3, coord.Instances)
	})

	t.Run("generated task id names the reply queue", func(t *testing.T) {
		b := broker.NewInMemoryBroker()
		p := pool.NewStaticProvider("node-a", "node-b")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		replies := make(chan string, 2)
		for _, n := range []pool.NodeID{"node-a", "node-b"} {
			node := n
			go func() {
				_ = b.Receive(ctx, func(ctx context.Context, evt events.Event) error {
					data := evt.Data.(events.CoordinateEventData)
					replies <- data.ReplyTo
					return b.Publish(ctx, events.Event{
						Type:   events.TypeReady,
						JobID:  evt.JobID,
						TaskID: evt.TaskID,
						NodeID: string(node),
						Time:   time.Now(),
					}, broker.ExchangeCoordination, data.ReplyTo)
				}, nil, broker.NodeQueueName(string(node)))
			}()
		}

		// The task declares no id, the engine generates job1-task-0.
		idless := api.JobSpec{ID: "job1", Tasks: []api.TaskSpec{{
			Image: "alpine",
			MultiInstance: &api.MultiInstanceSpec{
				NumInstances:        api.NumInstances{Literal: 2},
				CoordinationCommand: "mpirun --setup",
			},
		}}}
		g, err := graph.Build(idless)
		require.NoError(t, err)
		n, ok := g.Node("job1-task-0")
		require.True(t, ok)

		c := New(b, p, nil, WithBarrierTimeout(5*time.Second))
		_, err = c.Coordinate(ctx, idless, n.Spec)
		assert.NoError(t, err)
		assert.Equal(t, broker.CoordinationQueueName("job1", "job1-task-0"), <-replies)
	})

	t.Run("no coordination command", func(t *testing.T) {
		b := broker.NewInMemoryBroker()
		p := pool.NewStaticProvider("node-a", "node-b")

		// No agents are listening, the barrier must not be armed at all.
		c := New(b, p, nil, WithBarrierTimeout(100*time.Millisecond))
		coord, err := c.Coordinate(context.Background(), job, multiInstanceTask(2, ""))
		assert.NoError(t, err)
		assert.Equal(t, 2, coord.Instances)
	})

	t.Run("insufficient capacity", func(t *testing.T) {
		b := broker.NewInMemoryBroker()
		p := pool.NewStaticProvider("node-a", "node-b")

		c := New(b, p, nil)
		_, err := c.Coordinate(context.Background(), job, multiInstanceTask(4, "mpirun --setup"))
		assert.Error(t, err)
		capErr, ok := err.(api.InsufficientCapacityError)
		assert.True(t, ok)
		assert.Equal(t, 4, capErr.Required)
		assert.Equal(t, 2, capErr.Available)
	})

	t.Run("barrier timeout", func(t *testing.T) {
		b := broker.NewInMemoryBroker()
		p := pool.NewStaticProvider("node-a", "node-b", "node-c")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		// Only one node answers, the other two stay silent.
		runFakeAgent(ctx, b, "node-a")

		c := New(b, p, nil, WithBarrierTimeout(300*time.Millisecond))
		_, err := c.Coordinate(ctx, job, multiInstanceTask(3, "mpirun --setup"))
		assert.Error(t, err)
		toErr, ok := err.(api.BarrierTimeoutError)
		assert.True(t, ok)
		assert.Equal(t, 3, toErr.Want)
		assert.Equal(t, 1, toErr.Got)
	})

	t.Run("cancellation tears down responders", func(t *testing.T) {
		b := broker.NewInMemoryBroker()
		p := pool.NewStaticProvider("node-a", "node-b")
		actx, acancel := context.WithCancel(context.Background())
		defer acancel()

		// node-a answers READY and then waits for its release, node-b never
		// answers so the barrier stays short.
		teardowns := make(chan events.Event, 1)
		go func() {
			_ = b.Receive(actx, func(ctx context.Context, evt events.Event) error {
				switch evt.Type {
				case events.TypeCoordinate:
					data := evt.Data.(events.CoordinateEventData)
					return b.Publish(ctx, events.Event{
						Type:   events.TypeReady,
						JobID:  evt.JobID,
						TaskID: evt.TaskID,
						NodeID: "node-a",
						Time:   time.Now(),
					}, broker.ExchangeCoordination, data.ReplyTo)
				case events.TypeTeardown:
					teardowns <- evt
				}
				return nil
			}, nil, broker.NodeQueueName("node-a"))
		}()

		cctx, cancel := context.WithCancel(context.Background())
		c := New(b, p, nil, WithBarrierTimeout(time.Minute))
		done := make(chan error, 1)
		go func() {
			_, err := c.Coordinate(cctx, job, multiInstanceTask(2, "mpirun --setup"))
			done <- err
		}()
		time.Sleep(200 * time.Millisecond)
		cancel()
		assert.Error(t, <-done)

		select {
		case evt := <-teardowns:
			assert.Equal(t, "node-a", evt.NodeID)
		case <-time.After(5 * time.Second):
			t.Fatal("no teardown delivered")
		}
	})

	t.Run("not multi-instance", func(t *testing.T) {
		c := New(broker.NewInMemoryBroker(), pool.NewStaticProvider("node-a"), nil)
		_, err := c.Coordinate(context.Background(), job, api.TaskSpec{ID: "plain", Image: "alpine"})
		assert.Error(t, err)
	})
}

func TestResolveInstances(t *testing.T) {
	p := pool.NewStaticProvider("node-a", "node-b", "node-c")

	t.Run("literal", func(t *testing.T) {
		n, err := resolveInstances(context.Background(), api.NumInstances{Literal: 2}, p)
		assert.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("literal must be positive", func(t *testing.T) {
		_, err := resolveInstances(context.Background(), api.NumInstances{Literal: -1}, p)
		assert.Error(t, err)
	})

	t.Run("pool_current_dedicated", func(t *testing.T) {
		n, err := resolveInstances(context.Background(), api.NumInstances{Symbol: api.NumInstancesPoolCurrentDedicated}, p)
		assert.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := resolveInstances(context.Background(), api.NumInstances{Symbol: "pool_total_low_priority"}, p)
		assert.Error(t, err)
	})
}
