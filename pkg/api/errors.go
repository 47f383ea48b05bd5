package api

import (
	"fmt"

	"github.com/pkg/errors"
)

// ValidationError is the error returned for a malformed job specification.
// It is fatal and surfaced before scheduling begins.
type ValidationError struct {
	Reason string
}

func (err ValidationError) Error() string {
	return fmt.Sprintf("invalid job specification: %s", err.Reason)
}

// NewValidationError returns a new ValidationError with a formatted reason.
func NewValidationError(format string, args ...interface{}) error {
	return ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// CyclicDependencyError is returned when the depends_on edges of a job form a cycle.
type CyclicDependencyError struct {
	TaskID string
}

func (err CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected at task %s", err.TaskID)
}

// UnknownDependencyError is returned when a depends_on entry references a
// task identifier not present in the job.
type UnknownDependencyError struct {
	TaskID    string
	DependsOn string
}

func (err UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %s depends on unknown task %s", err.TaskID, err.DependsOn)
}

// TransientTransferError wraps a transport failure that may succeed on retry.
type TransientTransferError struct {
	Err error
}

func (err TransientTransferError) Error() string {
	return fmt.Sprintf("transient transfer failure: %v", err.Err)
}

// Cause returns the underlying transport error.
func (err TransientTransferError) Cause() error {
	return err.Err
}

// IsTransientTransfer reports whether the given error is a retryable transfer failure.
func IsTransientTransfer(err error) bool {
	_, ok := errors.Cause(err).(TransientTransferError)
	return ok
}

// StagingFailedError is the aggregate failure of a stage operation.
// Sibling transfers already in flight finish before it is raised.
type StagingFailedError struct {
	Scope string
	Err   error
}

func (err StagingFailedError) Error() string {
	return fmt.Sprintf("staging failed for %s: %v", err.Scope, err.Err)
}

// Cause returns the collected per-entry failures.
func (err StagingFailedError) Cause() error {
	return err.Err
}

// InsufficientCapacityError is returned when a multi-instance task requires
// more eligible nodes than the pool currently offers.
type InsufficientCapacityError struct {
	Required  int
	Available int
}

func (err InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient pool capacity: %d instances required, %d nodes available", err.Required, err.Available)
}

// BarrierTimeoutError is returned when not every participating instance
// reported its synchronization signal within the configured timeout.
type BarrierTimeoutError struct {
	TaskID string
	Want   int
	Got    int
}

func (err BarrierTimeoutError) Error() string {
	return fmt.Sprintf("barrier timed out for task %s: %d of %d instances signalled", err.TaskID, err.Got, err.Want)
}

// LaunchError is returned when the container executor failed to start or
// track the container. The driver does not auto-retry launches.
type LaunchError struct {
	TaskID string
	Err    error
}

func (err LaunchError) Error() string {
	return fmt.Sprintf("cannot launch container for task %s: %v", err.TaskID, err.Err)
}

// Cause returns the underlying executor error.
func (err LaunchError) Cause() error {
	return err.Err
}

// DependencyFailedError marks a task failed because one of its transitive
// predecessors failed. Such tasks are never staged.
type DependencyFailedError struct {
	TaskID           string
	FailedDependency string
}

func (err DependencyFailedError) Error() string {
	return fmt.Sprintf("task %s failed because dependency %s failed", err.TaskID, err.FailedDependency)
}
