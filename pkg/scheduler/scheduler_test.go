package scheduler

import (
	gocontext "context"
	"sync"
	"testing"
	"time"

	"github.com/ebetica/batch-shipyard/pkg/api"
	"github.com/ebetica/batch-shipyard/pkg/broker"
	"github.com/ebetica/batch-shipyard/pkg/broker/events"
	"github.com/ebetica/batch-shipyard/pkg/coordinator"
	"github.com/ebetica/batch-shipyard/pkg/executor"
	"github.com/ebetica/batch-shipyard/pkg/launch"
	"github.com/ebetica/batch-shipyard/pkg/pool"
	"github.com/ebetica/batch-shipyard/pkg/staging"
	"github.com/ebetica/batch-shipyard/pkg/store"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore wraps a Store and keeps the per-task status transitions in
// write order.
type recordingStore struct {
	store.Store
	mu     sync.Mutex
	traces map[string][]api.Status
}

func newRecordingStore(t *testing.T) *recordingStore {
	s, err := store.NewInMemoryStore()
	require.NoError(t, err)
	return &recordingStore{Store: s, traces: make(map[string][]api.Status)}
}

func (s *recordingStore) SetTaskStatus(ctx gocontext.Context, jobID, taskID string, status api.Status, opt store.TimeOption) error {
	s.mu.Lock()
	s.traces[taskID] = append(s.traces[taskID], status)
	s.mu.Unlock()
	return s.Store.SetTaskStatus(ctx, jobID, taskID, status, opt)
}

func (s *recordingStore) trace(taskID string) []api.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Status(nil), s.traces[taskID]...)
}

// countingTransferer records transfer operations without touching storage.
type countingTransferer struct {
	mu  sync.Mutex
	ops []staging.Op
}

func (t *countingTransferer) Transfer(ctx context.Context, op staging.Op) (staging.Result, error) {
	t.mu.Lock()
	t.ops = append(t.ops, op)
	t.mu.Unlock()
	return staging.Result{Op: op, Files: 1}, nil
}

func (t *countingTransferer) count(d staging.Direction) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, op := range t.ops {
		if op.Direction == d {
			n++
		}
	}
	return n
}

// scriptedExecutor fails containers of the given images and optionally blocks
// until released.
type scriptedExecutor struct {
	failImages map[string]bool
	block      chan struct{}
}

func (e *scriptedExecutor) Execute(ctx context.Context, spec launch.Spec) (executor.ExitStatus, error) {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return executor.ExitStatus{}, ctx.Err()
		}
	}
	if e.failImages[spec.Image] {
		return executor.ExitStatus{Code: 1}, nil
	}
	return executor.ExitStatus{Code: 0}, nil
}

type env struct {
	store    *recordingStore
	transfer *countingTransferer
	exec     *scriptedExecutor
	broker   broker.Broker
	pool     *pool.StaticProvider
	engine   Engine
}

func newEnv(t *testing.T, nodes ...pool.NodeID) *env {
	if len(nodes) == 0 {
		nodes = []pool.NodeID{"node-a"}
	}
	s := newRecordingStore(t)
	tr := &countingTransferer{}
	ex := &scriptedExecutor{failImages: make(map[string]bool)}
	b := broker.NewInMemoryBroker()
	p := pool.NewStaticProvider(nodes...)
	stg := staging.NewEngine(tr, s, staging.Config{
		SharedDir: t.TempDir(),
		TaskRoot:  t.TempDir(),
	})
	coord := coordinator.New(b, p, stg, coordinator.WithBarrierTimeout(2*time.Second))
	return &env{
		store:    s,
		transfer: tr,
		exec:     ex,
		broker:   b,
		pool:     p,
		engine:   New(s, stg, coord, ex, p, Config{Capacity: 4}),
	}
}

func TestRun(t *testing.T) {
	t.Run("end to end", func(t *testing.T) {
		te := newEnv(t)
		spec := api.JobSpec{
			ID: "job1",
			Tasks: []api.TaskSpec{{
				Image:                    "alpine",
				Command:                  "echo hello",
				RemoveContainerAfterExit: true,
				InputData: &api.InputData{
					AzureStorage: []api.StorageEntry{{StorageAccountSettings: "mystorage", Container: "in"}},
				},
				OutputData: &api.OutputData{
					AzureStorage: []api.StorageEntry{{StorageAccountSettings: "mystorage", Container: "out"}},
				},
			}},
		}

		state, err := te.engine.Run(context.Background(), spec)
		require.NoError(t, err)
		assert.Equal(t, api.StatusCompleted, state.Status)
		require.Len(t, state.Tasks, 1)
		assert.Equal(t, "job1-task-0", state.Tasks[0].ID)

		assert.Equal(t, []api.Status{
			api.StatusStaging,
			api.StatusRunning,
			api.StatusStagingOutputs,
			api.StatusCompleted,
		}, te.store.trace("job1-task-0"))
		assert.Equal(t, 1, te.transfer.count(staging.DirectionIngress))
		assert.Equal(t, 1, te.transfer.count(staging.DirectionEgress))
	})

	t.Run("dependency failure propagates", func(t *testing.T) {
		te := newEnv(t)
		te.exec.failImages["bad"] = true
		spec := api.JobSpec{
			ID: "job2",
			Tasks: []api.TaskSpec{
				{ID: "a", Image: "bad"},
				{ID: "b", Image: "alpine", DependsOn: []string{"a"}},
				{ID: "c", Image: "alpine", DependsOn: []string{"b"}},
				{ID: "d", Image: "alpine"},
			},
		}

		state, err := te.engine.Run(context.Background(), spec)
		require.NoError(t, err)
		assert.Equal(t, api.StatusFailed, state.Status)

		byID := make(map[string]api.TaskState)
		for _, ts := range state.Tasks {
			byID[ts.ID] = ts
		}
		assert.Equal(t, api.StatusFailed, byID["a"].Status)
		assert.Contains(t, byID["a"].Error, "exited with code 1")
		assert.Equal(t, api.StatusFailed, byID["b"].Status)
		assert.Contains(t, byID["b"].Error, "dependency a failed")
		assert.Equal(t, api.StatusFailed, byID["c"].Status)
		assert.Contains(t, byID["c"].Error, "dependency b failed")
		assert.Equal(t, api.StatusCompleted, byID["d"].Status)

		// Dependents of a failure are never staged.
		assert.Equal(t, []api.Status{api.StatusBlocked, api.StatusFailed}, te.store.trace("b"))
	})

	t.Run("blocked until predecessors complete", func(t *testing.T) {
		te := newEnv(t)
		spec := api.JobSpec{
			ID: "job3",
			Tasks: []api.TaskSpec{
				{ID: "first", Image: "alpine"},
				{ID: "second", Image: "alpine", DependsOn: []string{"first"}},
			},
		}

		state, err := te.engine.Run(context.Background(), spec)
		require.NoError(t, err)
		assert.Equal(t, api.StatusCompleted, state.Status)
		assert.Equal(t, []api.Status{
			api.StatusBlocked,
			api.StatusStaging,
			api.StatusRunning,
			api.StatusCompleted,
		}, te.store.trace("second"))
	})

	t.Run("insufficient capacity fails the task", func(t *testing.T) {
		te := newEnv(t, "node-a")
		spec := api.JobSpec{
			ID: "job4",
			Tasks: []api.TaskSpec{{
				ID:    "mpi",
				Image: "cntk",
				MultiInstance: &api.MultiInstanceSpec{
					NumInstances: api.NumInstances{Literal: 3},
				},
			}},
		}

		state, err := te.engine.Run(context.Background(), spec)
		require.NoError(t, err)
		assert.Equal(t, api.StatusFailed, state.Status)
		assert.Contains(t, state.Tasks[0].Error, "insufficient pool capacity")
	})

	t.Run("invalid specification", func(t *testing.T) {
		te := newEnv(t)
		_, err := te.engine.Run(context.Background(), api.JobSpec{})
		assert.Error(t, err)
		_, ok := err.(api.ValidationError)
		assert.True(t, ok)
	})

	t.Run("unknown dependency", func(t *testing.T) {
		te := newEnv(t)
		_, err := te.engine.Run(context.Background(), api.JobSpec{
			ID:    "job5",
			Tasks: []api.TaskSpec{{ID: "a", Image: "alpine", DependsOn: []string{"ghost"}}},
		})
		assert.Error(t, err)
		_, ok := err.(api.UnknownDependencyError)
		assert.True(t, ok)
	})
}

func TestSubmit(t *testing.T) {
	t.Run("auto complete on coordination", func(t *testing.T) {
		te := newEnv(t, "node-a", "node-b")
		te.exec.block = make(chan struct{})
		runAgents(te, "node-a", "node-b")

		spec := api.JobSpec{
			ID:                        "svc",
			MultiInstanceAutoComplete: true,
			Tasks: []api.TaskSpec{{
				ID:    "service",
				Image: "nginx",
				MultiInstance: &api.MultiInstanceSpec{
					NumInstances:        api.NumInstances{Literal: 2},
					CoordinationCommand: "setup.sh",
				},
			}},
		}
		require.NoError(t, te.engine.Submit(context.Background(), spec))

		// The job completes once coordination finished, while the payload
		// still runs.
		waitForTask(t, te.store, "svc", "service", api.StatusRunning)
		waitForJob(t, te.store, "svc", api.StatusCompleted)
		status, err := te.store.GetTaskStatus(gocontext.Background(), "svc", "service")
		require.NoError(t, err)
		assert.Equal(t, api.StatusRunning, status)

		close(te.exec.block)
		waitForTask(t, te.store, "svc", "service", api.StatusCompleted)
	})

	t.Run("cancel", func(t *testing.T) {
		te := newEnv(t)
		te.exec.block = make(chan struct{})
		defer close(te.exec.block)

		spec := api.JobSpec{
			ID:    "job6",
			Tasks: []api.TaskSpec{{ID: "hang", Image: "alpine"}},
		}
		require.NoError(t, te.engine.Submit(context.Background(), spec))
		waitForTask(t, te.store, "job6", "hang", api.StatusRunning)

		require.NoError(t, te.engine.Cancel(context.Background(), "job6"))
		waitForJob(t, te.store, "job6", api.StatusCancelled)
		waitForTask(t, te.store, "job6", "hang", api.StatusCancelled)
	})

	t.Run("cancel unknown job", func(t *testing.T) {
		te := newEnv(t)
		assert.Error(t, te.engine.Cancel(context.Background(), "nope"))
	})
}

func runAgents(te *env, nodes ...pool.NodeID) {
	for _, n := range nodes {
		n := n
		go func() {
			_ = te.broker.Receive(context.Background(), func(ctx context.Context, evt events.Event) error {
				if evt.Type != events.TypeCoordinate {
					return nil
				}
				data := evt.Data.(events.CoordinateEventData)
				return te.broker.Publish(ctx, events.Event{
					Type:   events.TypeReady,
					JobID:  evt.JobID,
					TaskID: evt.TaskID,
					NodeID: string(n),
				}, broker.ExchangeCoordination, data.ReplyTo)
			}, nil, broker.NodeQueueName(string(n)))
		}()
	}
}

func waitForJob(t *testing.T, s store.Store, jobID string, want api.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := s.GetJobStatus(gocontext.Background(), jobID)
		if err == nil && status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
}

func waitForTask(t *testing.T, s store.Store, jobID, taskID string, want api.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := s.GetTaskStatus(gocontext.Background(), jobID, taskID)
		if err == nil && status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s of job %s never reached %s", taskID, jobID, want)
}
