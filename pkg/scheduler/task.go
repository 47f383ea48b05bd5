package scheduler

import (
	"github.com/ebetica/batch-shipyard/pkg/api"
	"github.com/ebetica/batch-shipyard/pkg/graph"
	"github.com/ebetica/batch-shipyard/pkg/launch"
	"github.com/ebetica/batch-shipyard/pkg/pool"
	"github.com/ebetica/batch-shipyard/pkg/staging"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/pkg/errors"
)

// runTask walks one task through its lifecycle and reports every state change
// to the driver loop. It never writes the store itself.
func (e *engine) runTask(ctx context.Context, spec api.JobSpec, n *graph.Node, transitions chan<- transition) {
	report := func(status api.Status, cause error) {
		transitions <- transition{taskID: n.TaskID, status: status, cause: cause}
	}
	fail := func(err error) {
		ctx.Logger().Error(errors.Wrapf(err, "task %s failed", n.TaskID))
		report(api.StatusFailed, err)
	}

	report(api.StatusStaging, nil)
	scope := staging.TaskScope(spec.ID, n.TaskID)
	if err := e.staging.StageInputs(ctx, scope, n.Spec.InputData); err != nil {
		fail(err)
		return
	}

	// The node the primary command runs on: the coordination master for a
	// multi-instance task, any eligible node otherwise.
	var launchNode pool.NodeID
	if n.Spec.MultiInstance != nil {
		report(api.StatusCoordinating, nil)
		coord, err := e.coordinator.Coordinate(ctx, spec, n.Spec)
		if err != nil {
			fail(err)
			return
		}
		launchNode = coord.Master
		ctx.Logger().Infof("task %s coordinated across %d instances, master %s", n.TaskID, coord.Instances, coord.Master)
		if spec.MultiInstanceAutoComplete {
			transitions <- transition{taskID: n.TaskID, coordinated: true}
		}
	} else {
		nodes, err := e.pool.EligibleNodes(ctx)
		if err != nil {
			fail(errors.Wrap(err, "cannot list eligible nodes"))
			return
		}
		if len(nodes) == 0 {
			fail(api.InsufficientCapacityError{Required: 1, Available: 0})
			return
		}
		launchNode = nodes[0]
	}

	// Task level resource files go to the launch node only.
	if err := e.staging.StageResourceFiles(ctx, launchNode, n.Spec.ResourceFiles); err != nil {
		fail(err)
		return
	}

	report(api.StatusRunning, nil)
	lspec := launch.Build(spec, n.Spec, e.staging.TaskWorkDir(spec.ID, n.TaskID))
	exit, err := e.executor.Execute(ctx, lspec)
	var runErr error
	switch {
	case err != nil:
		runErr = err
	case !exit.Success():
		runErr = errors.Errorf("container exited with code %d", exit.Code)
	}

	if runErr == nil || n.Spec.AlwaysStageOutputs {
		report(api.StatusStagingOutputs, nil)
		if err := e.staging.StageOutputs(ctx, scope, n.Spec.OutputData); err != nil {
			ctx.Logger().Error(errors.Wrapf(err, "cannot stage outputs of task %s", n.TaskID))
			if runErr == nil {
				runErr = err
			}
		}
	}

	if runErr != nil {
		fail(runErr)
		return
	}
	report(api.StatusCompleted, nil)
}
