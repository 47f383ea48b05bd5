package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ebetica/batch-shipyard/pkg/api"
	"github.com/ebetica/batch-shipyard/pkg/pool"
	"github.com/ebetica/batch-shipyard/pkg/store"
	"github.com/ebetica/batch-shipyard/pkg/util/context"
	"github.com/ebetica/batch-shipyard/pkg/util/pathexpand"

	"github.com/hashicorp/go-multierror"
	"github.com/kushsharma/parallel"
	"github.com/pkg/errors"
)

const (
	// TokenNodeSharedDir is the placeholder for the node's shared directory
	TokenNodeSharedDir = "AZ_BATCH_NODE_SHARED_DIR"
	// TokenTaskWorkingDir is the placeholder for the task's working directory
	TokenTaskWorkingDir = "AZ_BATCH_TASK_WORKING_DIR"
	// TokenJobID is the placeholder for the owning job id
	TokenJobID = "AZ_BATCH_JOB_ID"
	// TokenTaskID is the placeholder for the owning task id
	TokenTaskID = "AZ_BATCH_TASK_ID"
)

// Config holds the staging engine knobs.
type Config struct {
	// SharedDir is the node shared directory, the default destination for
	// entries with a null destination.
	SharedDir string `json:"shared_dir" env:"AZ_BATCH_NODE_SHARED_DIR"`

	// TaskRoot is the directory under which per-task directories live.
	TaskRoot string `json:"task_root" env:"SHIPYARD_TASK_ROOT"`

	// TransferAttempts bounds retries of transient transfer failures.
	TransferAttempts int `json:"transfer_attempts" env:"SHIPYARD_TRANSFER_ATTEMPTS"`

	// RetryWaitMinMS and RetryWaitMaxMS bound the backoff between attempts.
	RetryWaitMinMS int `json:"retry_wait_min_ms" env:"SHIPYARD_RETRY_WAIT_MIN_MS"`
	RetryWaitMaxMS int `json:"retry_wait_max_ms" env:"SHIPYARD_RETRY_WAIT_MAX_MS"`

	// ConcurrentLimit bounds parallel transfers within one spec.
	ConcurrentLimit int `json:"concurrent_limit" env:"SHIPYARD_STAGING_CONCURRENT_LIMIT"`
}

func (c Config) withDefaults() Config {
	if c.SharedDir == "" {
		c.SharedDir = "/mnt/batch/shared"
	}
	if c.TaskRoot == "" {
		c.TaskRoot = "/mnt/batch/tasks"
	}
	if c.TransferAttempts <= 0 {
		c.TransferAttempts = 3
	}
	if c.RetryWaitMinMS <= 0 {
		c.RetryWaitMinMS = 500
	}
	if c.RetryWaitMaxMS <= 0 {
		c.RetryWaitMaxMS = 8000
	}
	if c.ConcurrentLimit <= 0 {
		c.ConcurrentLimit = 8
	}
	return c
}

// Scope designates the owner of a stage operation: a job, or one of its tasks.
type Scope struct {
	JobID  string
	TaskID string
}

// JobScope returns the job-level scope.
func JobScope(jobID string) Scope {
	return Scope{JobID: jobID}
}

// TaskScope returns the task-level scope.
func TaskScope(jobID, taskID string) Scope {
	return Scope{JobID: jobID, TaskID: taskID}
}

func (s Scope) String() string {
	if s.TaskID == "" {
		return fmt.Sprintf("job %s", s.JobID)
	}
	return fmt.Sprintf("task %s of job %s", s.TaskID, s.JobID)
}

// Engine resolves input_data/output_data blocks into concrete transfer
// operations and executes them concurrently with retry.
type Engine struct {
	transferer Transferer
	registry   store.RegistryStore
	cfg        Config

	// writes targeting the same destination path are serialized
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewEngine returns a new staging engine.
func NewEngine(t Transferer, registry store.RegistryStore, cfg Config) *Engine {
	return &Engine{
		transferer: t,
		registry:   registry,
		cfg:        cfg.withDefaults(),
		locks:      make(map[string]*sync.Mutex),
	}
}

// TaskDir returns the root directory of a task on the node.
func (e *Engine) TaskDir(jobID, taskID string) string {
	return filepath.Join(e.cfg.TaskRoot, jobID, taskID)
}

// TaskWorkDir returns the working directory of a task, the default source for
// output staging.
func (e *Engine) TaskWorkDir(jobID, taskID string) string {
	return filepath.Join(e.TaskDir(jobID, taskID), "wd")
}

// SharedDir returns the node shared directory, the default destination for
// input staging.
func (e *Engine) SharedDir() string {
	return e.cfg.SharedDir
}

// StageInputs resolves the given input_data block into transfers and runs
// them. Independent entries run concurrently; a single entry's failure fails
// the whole operation, but only after every sibling transfer has finished.
func (e *Engine) StageInputs(ctx context.Context, scope Scope, in *api.InputData) error {
	if in == nil || len(in.AzureBatch)+len(in.AzureStorage) == 0 {
		return nil
	}
	ctx.Logger().Infof("staging %d input entries for %s", len(in.AzureBatch)+len(in.AzureStorage), scope)

	runner := parallel.NewRunner(parallel.WithLimit(e.cfg.ConcurrentLimit))
	for _, entry := range in.AzureBatch {
		runner.Add(func(entry api.BatchEntry) func() (interface{}, error) {
			return func() (interface{}, error) {
				return nil, e.stageBatchInput(ctx, scope, entry)
			}
		}(entry))
	}
	for _, entry := range in.AzureStorage {
		runner.Add(func(entry api.StorageEntry) func() (interface{}, error) {
			return func() (interface{}, error) {
				return nil, e.stageStorageInput(ctx, scope, entry)
			}
		}(entry))
	}
	return e.collect(scope, runner)
}

// StageOutputs resolves the given output_data block into transfers and runs
// them. It is invoked only after the task's container exited.
func (e *Engine) StageOutputs(ctx context.Context, scope Scope, out *api.OutputData) error {
	if out == nil || len(out.AzureBatch)+len(out.AzureStorage) == 0 {
		return nil
	}
	ctx.Logger().Infof("staging %d output entries for %s", len(out.AzureBatch)+len(out.AzureStorage), scope)

	runner := parallel.NewRunner(parallel.WithLimit(e.cfg.ConcurrentLimit))
	for _, entry := range out.AzureBatch {
		runner.Add(func(entry api.BatchEntry) func() (interface{}, error) {
			return func() (interface{}, error) {
				return nil, e.stageBatchOutput(ctx, scope, entry)
			}
		}(entry))
	}
	for _, entry := range out.AzureStorage {
		runner.Add(func(entry api.StorageEntry) func() (interface{}, error) {
			return func() (interface{}, error) {
				return nil, e.stageStorageOutput(ctx, scope, entry)
			}
		}(entry))
	}
	return e.collect(scope, runner)
}

// StageResourceFiles stages the given resource files onto the given node.
// Legacy all-empty placeholder entries produce no transfer operation.
func (e *Engine) StageResourceFiles(ctx context.Context, node pool.NodeID, files []api.ResourceFile) error {
	var staged []api.ResourceFile
	for _, f := range files {
		if f.IsPlaceholder() {
			continue
		}
		staged = append(staged, f)
	}
	if len(staged) == 0 {
		return nil
	}
	ctx.Logger().Infof("staging %d resource files onto node %s", len(staged), node)

	runner := parallel.NewRunner(parallel.WithLimit(e.cfg.ConcurrentLimit))
	for _, f := range staged {
		runner.Add(func(f api.ResourceFile) func() (interface{}, error) {
			return func() (interface{}, error) {
				_, err := e.transfer(ctx, Op{
					Direction:  DirectionIngress,
					BlobSource: f.BlobSource,
					Local:      f.FilePath,
					FileMode:   f.FileMode,
					Node:       node,
				})
				return nil, errors.Wrapf(err, "cannot stage resource file %s", f.FilePath)
			}
		}(f))
	}

	var errorSet error
	for _, result := range runner.Run() {
		if result.Err != nil {
			errorSet = multierror.Append(errorSet, result.Err)
		}
	}
	if errorSet != nil {
		return api.StagingFailedError{Scope: fmt.Sprintf("resource files on node %s", node), Err: errorSet}
	}
	return nil
}

// collect drains the runner and raises the aggregate failure, if any.
func (e *Engine) collect(scope Scope, runner *parallel.Runner) error {
	var errorSet error
	for _, result := range runner.Run() {
		if result.Err != nil {
			errorSet = multierror.Append(errorSet, result.Err)
		}
	}
	if errorSet != nil {
		return api.StagingFailedError{Scope: scope.String(), Err: errorSet}
	}
	return nil
}

// stageBatchInput copies the matching files of another job/task's output
// directory to the entry destination.
func (e *Engine) stageBatchInput(ctx context.Context, scope Scope, entry api.BatchEntry) error {
	dir, err := e.registry.TaskOutputDir(ctx, entry.JobID, entry.TaskID)
	if err != nil {
		return errors.Wrapf(err, "cannot resolve output directory of task %s in job %s", entry.TaskID, entry.JobID)
	}
	dest, err := e.resolvePath(scope, entry.Destination, e.cfg.SharedDir)
	if err != nil {
		return err
	}

	unlock := e.lockDestination(dest)
	defer unlock()

	n, err := copyTree(dir, dest, entry.Include, entry.Exclude)
	if err != nil {
		return errors.Wrapf(err, "cannot copy output of task %s in job %s to %s", entry.TaskID, entry.JobID, dest)
	}
	ctx.Logger().Tracef("copied %d files from task %s of job %s to %s", n, entry.TaskID, entry.JobID, dest)
	return nil
}

// stageBatchOutput publishes matching files of the scope's working directory
// into the referenced job/task's output directory.
func (e *Engine) stageBatchOutput(ctx context.Context, scope Scope, entry api.BatchEntry) error {
	dest, err := e.registry.TaskOutputDir(ctx, entry.JobID, entry.TaskID)
	if err != nil {
		return errors.Wrapf(err, "cannot resolve output directory of task %s in job %s", entry.TaskID, entry.JobID)
	}
	src := e.TaskWorkDir(scope.JobID, scope.TaskID)

	unlock := e.lockDestination(dest)
	defer unlock()

	n, err := copyTree(src, dest, entry.Include, entry.Exclude)
	if err != nil {
		return errors.Wrapf(err, "cannot copy %s output to task %s of job %s", scope, entry.TaskID, entry.JobID)
	}
	ctx.Logger().Tracef("copied %d files from %s to %s", n, src, dest)
	return nil
}

func (e *Engine) stageStorageInput(ctx context.Context, scope Scope, entry api.StorageEntry) error {
	dest, err := e.resolvePath(scope, entry.Destination, e.cfg.SharedDir)
	if err != nil {
		return err
	}

	unlock := e.lockDestination(dest)
	defer unlock()

	res, err := e.transfer(ctx, Op{
		Direction:              DirectionIngress,
		StorageAccountSettings: entry.StorageAccountSettings,
		Container:              entry.Container,
		Include:                entry.Include,
		ExtraOptions:           entry.ExtraOptions,
		Local:                  dest,
	})
	if err != nil {
		return errors.Wrapf(err, "cannot ingress container %s to %s", entry.Container, dest)
	}
	ctx.Logger().Tracef("transferred %d files from container %s to %s", res.Files, entry.Container, dest)
	return nil
}

func (e *Engine) stageStorageOutput(ctx context.Context, scope Scope, entry api.StorageEntry) error {
	src, err := e.resolvePath(scope, entry.Source, e.TaskWorkDir(scope.JobID, scope.TaskID))
	if err != nil {
		return err
	}

	res, err := e.transfer(ctx, Op{
		Direction:              DirectionEgress,
		StorageAccountSettings: entry.StorageAccountSettings,
		Container:              entry.Container,
		Include:                entry.Include,
		ExtraOptions:           entry.ExtraOptions,
		Local:                  src,
	})
	if err != nil {
		return errors.Wrapf(err, "cannot egress %s to container %s", src, entry.Container)
	}
	ctx.Logger().Tracef("transferred %d files from %s to container %s", res.Files, src, entry.Container)
	return nil
}

// resolvePath applies the default for absent paths and expands placeholders.
// A null/absent path means "use the system-computed default", never "none".
func (e *Engine) resolvePath(scope Scope, p, def string) (string, error) {
	if p == "" {
		p = def
	}
	vars := pathexpand.Vars{
		TokenNodeSharedDir: e.cfg.SharedDir,
		TokenJobID:         scope.JobID,
	}
	if scope.TaskID != "" {
		vars[TokenTaskID] = scope.TaskID
		vars[TokenTaskWorkingDir] = e.TaskWorkDir(scope.JobID, scope.TaskID)
	}
	return pathexpand.Expand(p, vars)
}

// transfer invokes the transfer capability, retrying transient failures with
// bounded exponential backoff.
func (e *Engine) transfer(ctx context.Context, op Op) (Result, error) {
	wait := time.Duration(e.cfg.RetryWaitMinMS) * time.Millisecond
	max := time.Duration(e.cfg.RetryWaitMaxMS) * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= e.cfg.TransferAttempts; attempt++ {
		res, err := e.transferer.Transfer(ctx, op)
		if err == nil {
			return res, nil
		}
		if !api.IsTransientTransfer(err) {
			return Result{}, err
		}
		lastErr = err
		if attempt == e.cfg.TransferAttempts {
			break
		}
		ctx.Logger().Warnf("transient failure transferring %s (attempt %d of %d), retrying in %s: %s", op.Local, attempt, e.cfg.TransferAttempts, wait, err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		wait *= 2
		if wait > max {
			wait = max
		}
	}
	return Result{}, errors.Wrapf(lastErr, "transfer failed after %d attempts", e.cfg.TransferAttempts)
}

// lockDestination serializes writes targeting the same destination path.
func (e *Engine) lockDestination(dest string) func() {
	key := filepath.Clean(dest)
	e.locksMu.Lock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	e.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// copyTree copies the files under src matching the filters to dest,
// preserving relative layout and file modes.
func copyTree(src, dest string, include, exclude []string) (int, error) {
	count := 0
	err := filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if !matches(filepath.ToSlash(rel), include, exclude) {
			return nil
		}
		target := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := copyFile(p, target, info.Mode()); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
