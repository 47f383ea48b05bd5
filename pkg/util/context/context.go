package context

import (
	gocontext "context"

	"github.com/sirupsen/logrus"
)

// Context extends the regular golang context.Context interface with functionnalities such as access to logger, scheduling identifiers etc.
type Context interface {
	gocontext.Context
	Logger() *logrus.Entry
	JobID() string
	TaskID() string
	NodeID() string
	CorrelationID() string
}

// Background returns a non-nil, empty Context.
func Background() Context {
	return ctx{
		Context: gocontext.Background(),
	}
}

// FromContext returns a new context from the given go context.
func FromContext(c gocontext.Context) Context {
	return ctx{
		Context: c,
	}
}

// WithJobID returns a copy of the context with a jobID.
func WithJobID(c Context, jobID string) Context {
	return ctx{
		c,
		jobID,
		c.TaskID(),
		c.NodeID(),
		c.CorrelationID(),
	}
}

// WithTaskID returns a copy of the context with a taskID.
func WithTaskID(c Context, taskID string) Context {
	return ctx{
		c,
		c.JobID(),
		taskID,
		c.NodeID(),
		c.CorrelationID(),
	}
}

// WithNodeID returns a copy of the context with a nodeID.
func WithNodeID(c Context, nodeID string) Context {
	return ctx{
		c,
		c.JobID(),
		c.TaskID(),
		nodeID,
		c.CorrelationID(),
	}
}

// WithCorrelationID returns a copy of the context with a correlationID.
func WithCorrelationID(c Context, correlationID string) Context {
	return ctx{
		c,
		c.JobID(),
		c.TaskID(),
		c.NodeID(),
		correlationID,
	}
}

// WithCancel returns a copy of the context with a new Done channel, plus the function cancelling it.
func WithCancel(c Context) (Context, gocontext.CancelFunc) {
	gctx, cancel := gocontext.WithCancel(c)
	return ctx{
		gctx,
		c.JobID(),
		c.TaskID(),
		c.NodeID(),
		c.CorrelationID(),
	}, cancel
}

type ctx struct {
	gocontext.Context
	jobID         string
	taskID        string
	nodeID        string
	correlationID string
}

func (c ctx) Logger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.TraceLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})
	e := logrus.NewEntry(l)
	if c.JobID() != "" {
		e = e.WithField("job_id", c.JobID())
	}
	if c.TaskID() != "" {
		e = e.WithField("task_id", c.TaskID())
	}
	if c.NodeID() != "" {
		e = e.WithField("node_id", c.NodeID())
	}
	if c.CorrelationID() != "" {
		e = e.WithField("correlation_id", c.CorrelationID())
	}
	return e
}

func (c ctx) JobID() string {
	return c.jobID
}

func (c ctx) TaskID() string {
	return c.taskID
}

func (c ctx) NodeID() string {
	return c.nodeID
}

func (c ctx) CorrelationID() string {
	return c.correlationID
}
