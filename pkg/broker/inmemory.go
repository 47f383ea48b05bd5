package broker

import (
	"sync"

	"github.com/ebetica/batch-shipyard/pkg/broker/events"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/pkg/errors"
)

const (
	// InMemoryType Broker type for single-process deployments and tests
	InMemoryType Type = "inmemory"

	queueDepth = 64
)

func init() {
	f := func(ctx context.Context, c interface{}) (Broker, error) {
		return NewInMemoryBroker(), nil
	}
	register(InMemoryType, f, &InMemoryConfig{})
}

// InMemoryConfig is configuration for the in-memory broker implementation.
// It carries no settings and exists to satisfy the factory registry.
type InMemoryConfig struct{}

type inMemory struct {
	mu     sync.Mutex
	queues map[string]chan events.Event
	closed bool
}

// NewInMemoryBroker returns a Broker that routes events between goroutines of
// a single process. Queues are created implicitly on first use.
func NewInMemoryBroker() Broker {
	return &inMemory{
		queues: make(map[string]chan events.Event),
	}
}

func (b *inMemory) queue(name string) chan events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan events.Event, queueDepth)
		b.queues[name] = q
	}
	return q
}

func (b *inMemory) Publish(ctx context.Context, evt events.Event, exchange, routingkey string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("broker is closed")
	}
	b.mu.Unlock()

	// The exchange has no in-process equivalent, events route straight to
	// the queue named by the routing key.
	ctx.Logger().Tracef("publishing event %s to queue %s", evt, routingkey)
	select {
	case b.queue(routingkey) <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *inMemory) Receive(ctx context.Context, f HandleFunc, ferr ErrorHandler, qname string, options ...ReceiveOption) error {
	q := b.queue(qname)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, open := <-q:
			if !open {
				return nil
			}
			ectx := context.FromContext(ctx)
			ectx = context.WithJobID(ectx, evt.JobID)
			ectx = context.WithTaskID(ectx, evt.TaskID)
			ectx = context.WithNodeID(ectx, evt.NodeID)
			ectx = context.WithCorrelationID(ectx, evt.CorrelationID)

			skipped := false
			for _, o := range options {
				if err := o(ectx, &evt); err != nil {
					ectx.Logger().Trace(errors.Wrapf(err, "cannot handle received event %s", evt))
					skipped = true
					break
				}
			}
			if skipped {
				continue
			}

			if err := f(ectx, evt); err != nil {
				if ferr != nil {
					ferr(ectx, err)
					continue
				}
				return errors.Wrapf(err, "cannot handle event %s", evt)
			}
		}
	}
}

func (b *inMemory) CreateQueue(ctx context.Context, name, bindTo string) error {
	b.queue(name)
	return nil
}

func (b *inMemory) DeleteQueue(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, name)
	return nil
}

func (b *inMemory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
