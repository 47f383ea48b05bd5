package scheduler

import (
	gocontext "context"
	"sync"
	"time"

	"github.com/ebetica/batch-shipyard/pkg/api"
	"github.com/ebetica/batch-shipyard/pkg/coordinator"
	"github.com/ebetica/batch-shipyard/pkg/executor"
	"github.com/ebetica/batch-shipyard/pkg/graph"
	"github.com/ebetica/batch-shipyard/pkg/pool"
	"github.com/ebetica/batch-shipyard/pkg/staging"
	"github.com/ebetica/batch-shipyard/pkg/store"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/pkg/errors"
)

// Config holds the driver knobs.
type Config struct {
	// Capacity bounds how many tasks run concurrently. Zero means "one per
	// dedicated pool node".
	Capacity int `json:"capacity" env:"SHIPYARD_SCHEDULER_CAPACITY"`
}

// Engine defines the entries of the job engine.
type Engine interface {
	// Run drives the given job to completion and returns its final state.
	// The returned error covers submission failures only: a job whose tasks
	// failed returns a state with status FAILED and a nil error.
	Run(ctx context.Context, spec api.JobSpec) (api.JobState, error)

	// Submit validates and registers the given job, then drives it in the
	// background.
	Submit(ctx context.Context, spec api.JobSpec) error

	// Status returns the current state of the job and its tasks.
	Status(ctx context.Context, jobID string) (api.JobState, error)

	// Cancel stops a running job. Tasks not yet terminal move to CANCELLED.
	Cancel(ctx context.Context, jobID string) error
}

// New returns a new job engine.
func New(s store.Store, stg *staging.Engine, coord coordinator.Coordinator, exec executor.Executor, p pool.Provider, cfg Config) Engine {
	return &engine{
		store:       s,
		staging:     stg,
		coordinator: coord,
		executor:    exec,
		pool:        p,
		cfg:         cfg,
		cancels:     make(map[string]gocontext.CancelFunc),
	}
}

type engine struct {
	store       store.Store
	staging     *staging.Engine
	coordinator coordinator.Coordinator
	executor    executor.Executor
	pool        pool.Provider
	cfg         Config

	mu      sync.Mutex
	cancels map[string]gocontext.CancelFunc
}

// transition is a state change requested by a task goroutine. The driver
// loop is the sole writer of task state, goroutines only report.
type transition struct {
	taskID      string
	status      api.Status
	cause       error
	coordinated bool
}

func (e *engine) Run(ctx context.Context, spec api.JobSpec) (api.JobState, error) {
	g, err := e.prepare(ctx, spec)
	if err != nil {
		return api.JobState{}, err
	}
	e.run(context.WithJobID(ctx, spec.ID), spec, g)
	return e.store.GetJobState(ctx, spec.ID)
}

func (e *engine) Submit(ctx context.Context, spec api.JobSpec) error {
	g, err := e.prepare(ctx, spec)
	if err != nil {
		return err
	}
	// The job outlives the submission request.
	jctx := context.WithCorrelationID(context.Background(), ctx.CorrelationID())
	go e.run(context.WithJobID(jctx, spec.ID), spec, g)
	return nil
}

func (e *engine) Status(ctx context.Context, jobID string) (api.JobState, error) {
	return e.store.GetJobState(ctx, jobID)
}

func (e *engine) Cancel(ctx context.Context, jobID string) error {
	e.mu.Lock()
	cancel, running := e.cancels[jobID]
	e.mu.Unlock()
	if !running {
		return errors.Errorf("job %s is not running", jobID)
	}
	ctx.Logger().Infof("cancelling job %s", jobID)
	cancel()
	return nil
}

// prepare validates the specification, builds the task graph and registers
// the job. Nothing runs yet.
func (e *engine) prepare(ctx context.Context, spec api.JobSpec) (*graph.Graph, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	g, err := graph.Build(spec)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	_, running := e.cancels[spec.ID]
	e.mu.Unlock()
	if running {
		return nil, errors.Errorf("job %s is already running", spec.ID)
	}

	if err := e.store.CreateJob(ctx, spec, g.TaskIDs()); err != nil {
		return nil, errors.Wrapf(err, "cannot create job %s", spec.ID)
	}
	for _, id := range g.TaskIDs() {
		// Register output directories up front so azure_batch entries can
		// resolve them by reference.
		dir := e.staging.TaskWorkDir(spec.ID, id)
		if err := e.store.SetTaskOutputDir(ctx, spec.ID, id, dir); err != nil {
			return nil, errors.Wrapf(err, "cannot register output directory of task %s", id)
		}
		n, _ := g.Node(id)
		if len(n.Dependencies()) > 0 {
			if err := e.store.SetTaskStatus(ctx, spec.ID, id, api.StatusBlocked, store.TimeOption{}); err != nil {
				return nil, errors.Wrapf(err, "cannot set task %s status", id)
			}
		}
	}
	return g, nil
}

// run drives the job to a terminal state. All store writes happen here.
func (e *engine) run(ctx context.Context, spec api.JobSpec, g *graph.Graph) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancels[spec.ID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, spec.ID)
		e.mu.Unlock()
	}()

	start := time.Now()
	e.setJobStatus(ctx, spec.ID, api.StatusStaging, store.TimeOption{StartTime: start})

	// Job scope inputs stage once, before any task runs.
	if err := e.staging.StageInputs(cctx, staging.JobScope(spec.ID), spec.InputData); err != nil {
		ctx.Logger().Error(errors.Wrapf(err, "cannot stage inputs of job %s", spec.ID))
		e.cancelTasks(ctx, spec.ID, g, nil)
		e.setJobStatus(ctx, spec.ID, api.StatusFailed, store.TimeOption{EndTime: time.Now()})
		return
	}

	e.setJobStatus(ctx, spec.ID, api.StatusRunning, store.TimeOption{})
	e.drive(cctx, spec, g)
}

// drive is the scheduling loop: it starts every task whose predecessors
// completed, bounded by capacity, and applies the transitions the task
// goroutines report.
func (e *engine) drive(ctx context.Context, spec api.JobSpec, g *graph.Graph) {
	capacity := e.capacity(ctx)
	ctx.Logger().Infof("driving job %s: %d tasks, capacity %d", spec.ID, g.Len(), capacity)

	// Buffered so task goroutines never block on reporting, even when the
	// loop exits early on cancellation.
	transitions := make(chan transition, g.Len()*8)

	running := 0
	started := make(map[string]bool, g.Len())
	completed := make(map[string]bool, g.Len())
	terminal := make(map[string]bool, g.Len())
	failed := false
	earlyComplete := false

	startReady := func() {
		for _, id := range g.TopologicalOrder() {
			if running >= capacity {
				return
			}
			if started[id] || terminal[id] {
				continue
			}
			n, _ := g.Node(id)
			ready := true
			for _, dep := range n.Dependencies() {
				if !completed[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			started[id] = true
			running++
			go e.runTask(context.WithTaskID(ctx, id), spec, n, transitions)
		}
	}

	startReady()
	for len(terminal) < g.Len() {
		select {
		case <-ctx.Done():
			e.cancelTasks(ctx, spec.ID, g, terminal)
			if !earlyComplete {
				e.setJobStatus(ctx, spec.ID, api.StatusCancelled, store.TimeOption{EndTime: time.Now()})
			}
			return
		case tr := <-transitions:
			if tr.coordinated && spec.MultiInstanceAutoComplete && !earlyComplete {
				ctx.Logger().Infof("coordination finished for task %s, completing job %s early", tr.taskID, spec.ID)
				earlyComplete = true
				e.setJobStatus(ctx, spec.ID, api.StatusCompleted, store.TimeOption{EndTime: time.Now()})
			}
			if tr.status == "" {
				continue
			}

			opt := store.TimeOption{}
			if tr.status == api.StatusStaging {
				opt.StartTime = time.Now()
			}
			if tr.status.Finished() {
				opt.EndTime = time.Now()
			}
			e.setTaskStatus(ctx, spec.ID, tr.taskID, tr.status, opt)
			if tr.cause != nil {
				if err := e.store.SetTaskError(ctx, spec.ID, tr.taskID, tr.cause); err != nil {
					ctx.Logger().Error(errors.Wrapf(err, "cannot record error of task %s", tr.taskID))
				}
			}
			if !tr.status.Finished() {
				continue
			}

			running--
			terminal[tr.taskID] = true
			switch tr.status {
			case api.StatusCompleted:
				completed[tr.taskID] = true
			case api.StatusFailed:
				failed = true
				e.failDependents(ctx, spec.ID, g, tr.taskID, terminal, started)
			}
			startReady()
		}
	}

	if earlyComplete {
		return
	}
	status := api.StatusCompleted
	if failed {
		status = api.StatusFailed
	}
	e.setJobStatus(ctx, spec.ID, status, store.TimeOption{EndTime: time.Now()})
}

// failDependents moves every transitive dependent of the failed task straight
// to FAILED. They are never staged. Sibling subtrees keep running.
func (e *engine) failDependents(ctx context.Context, jobID string, g *graph.Graph, failedID string, terminal, started map[string]bool) {
	for _, dep := range g.TransitiveDependents(failedID) {
		if terminal[dep] || started[dep] {
			continue
		}
		terminal[dep] = true
		started[dep] = true
		cause := api.DependencyFailedError{TaskID: dep, FailedDependency: failedID}
		if err := e.store.SetTaskError(ctx, jobID, dep, cause); err != nil {
			ctx.Logger().Error(errors.Wrapf(err, "cannot record error of task %s", dep))
		}
		e.setTaskStatus(ctx, jobID, dep, api.StatusFailed, store.TimeOption{EndTime: time.Now()})
	}
}

// cancelTasks moves every task not yet terminal to CANCELLED.
func (e *engine) cancelTasks(ctx context.Context, jobID string, g *graph.Graph, terminal map[string]bool) {
	for _, id := range g.TaskIDs() {
		if terminal[id] {
			continue
		}
		e.setTaskStatus(ctx, jobID, id, api.StatusCancelled, store.TimeOption{EndTime: time.Now()})
	}
}

func (e *engine) capacity(ctx context.Context) int {
	if e.cfg.Capacity > 0 {
		return e.cfg.Capacity
	}
	n, err := e.pool.CurrentDedicatedCount(ctx)
	if err != nil || n <= 0 {
		ctx.Logger().Warnf("cannot size capacity from pool, falling back to 1")
		return 1
	}
	return n
}

func (e *engine) setJobStatus(ctx context.Context, jobID string, status api.Status, opt store.TimeOption) {
	ctx.Logger().Infof("job %s is %s", jobID, status)
	if err := e.store.SetJobStatus(ctx, jobID, status, opt); err != nil {
		ctx.Logger().Error(errors.Wrapf(err, "cannot set job %s status to %s", jobID, status))
	}
}

func (e *engine) setTaskStatus(ctx context.Context, jobID, taskID string, status api.Status, opt store.TimeOption) {
	ctx.Logger().Debugf("task %s is %s", taskID, status)
	if err := e.store.SetTaskStatus(ctx, jobID, taskID, status, opt); err != nil {
		ctx.Logger().Error(errors.Wrapf(err, "cannot set task %s status to %s", taskID, status))
	}
}
