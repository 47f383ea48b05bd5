package executor

import (
	"time"

	"github.com/ebetica/batch-shipyard/pkg/launch"
	"github.com/ebetica/batch-shipyard/pkg/util/context"
)

// ExitStatus is the outcome of a finished container.
type ExitStatus struct {
	Code     int64
	Duration time.Duration
}

// Success reports whether the container exited cleanly.
func (s ExitStatus) Success() bool {
	return s.Code == 0
}

// Executor runs one container to completion. Execute blocks until the
// container exits or ctx is cancelled.
type Executor interface {
	Execute(ctx context.Context, spec launch.Spec) (ExitStatus, error)
}
