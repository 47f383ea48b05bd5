package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ebetica/batch-shipyard/pkg/api"
	"github.com/ebetica/batch-shipyard/pkg/broker/events"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

const (
	// RabbitMQType Broker type RabbitMQ
	RabbitMQType Type = "rabbitmq"
)

func init() {
	f := func(ctx context.Context, c interface{}) (Broker, error) {
		asRabbitMQConf, isRabbitMQConf := c.(*RabbitMQConfig)
		if !isRabbitMQConf {
			return nil, errors.Errorf("given configuration struct is not type %v", RabbitMQConfig{})
		}
		return NewRabbitMQBroker(ctx, *asRabbitMQConf)
	}
	register(RabbitMQType, f, &RabbitMQConfig{})
}

type rabbitmq struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	config RabbitMQConfig
}

// RabbitMQConfig is configuration for rabbitmq broker implementation
type RabbitMQConfig struct {
	User     string `json:"user" env:"BROKER_RABBITMQ_USER"`
	Password string `json:"password" env:"BROKER_RABBITMQ_PASSWORD"`
	URI      string `json:"uri" env:"BROKER_RABBITMQ_URI"`
}

// NewRabbitMQBroker returns a Broker implementation based on RabbitMQ.
func NewRabbitMQBroker(ctx context.Context, conf RabbitMQConfig) (Broker, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s", conf.User, conf.Password, conf.URI)
	ctx.Logger().Infof("connecting to rabbitmq at '%s'", conf.URI)
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot connect to rabbitmq at '%s'", conf.URI)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "cannot open channel to rabbitmq")
	}
	err = ch.Qos(1, 0, false)
	if err != nil {
		return nil, errors.Wrap(err, "cannot set rabbitmq Qos controls")
	}
	return &rabbitmq{
		conn:   conn,
		ch:     ch,
		config: conf,
	}, nil
}

func (q *rabbitmq) Publish(ctx context.Context, evt events.Event, exchange, routingkey string) error {
	ctx.Logger().Tracef("publishing event %s to exchange %s", evt, exchange)
	headers := amqp.Table{
		api.HeaderJobID:         evt.JobID,
		api.HeaderTaskID:        evt.TaskID,
		api.HeaderNodeID:        evt.NodeID,
		api.HeaderCorrelationID: evt.CorrelationID,
		api.HeaderType:          string(evt.Type),
	}

	// Marshal body
	data := evt.Data
	if data == nil {
		data = struct{}{}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return q.ch.Publish(
		exchange,   // exchange
		routingkey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Headers:     headers,
			Timestamp:   time.Now(),
		})
}

func (q *rabbitmq) Receive(ctx context.Context, f HandleFunc, ferr ErrorHandler, qname string, options ...ReceiveOption) error {
	ctx.Logger().Infof("receiving events from queue %s", qname)
	msgs, err := q.ch.Consume(
		qname,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrapf(err, "cannot register consumer to queue %s", qname)
	}

	for {
		var d amqp.Delivery
		var open bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, open = <-msgs:
			if !open {
				return errors.New("delivery channel closed")
			}
		}

		// Unmarshal body
		var data interface{}
		switch d.ContentType {
		case "application/json":
			if err := json.Unmarshal(d.Body, &data); err != nil {
				d.Reject(false)
				wrapped := errors.Wrapf(err, "cannot unmarshal received event %s for task %s on node %s, dropping event", d.Headers[api.HeaderType], d.Headers[api.HeaderTaskID], d.Headers[api.HeaderNodeID])
				if ferr != nil {
					ferr(ctx, wrapped)
					continue
				}
				return wrapped
			}
		default:
			ctx.Logger().Warnf("received event with unsupported content-type %s, dropping event", d.ContentType)
			d.Reject(false)
			continue
		}

		// Create event
		evt := events.Event{
			Type:          events.EventType(header(d.Headers, api.HeaderType)),
			CorrelationID: header(d.Headers, api.HeaderCorrelationID),
			JobID:         header(d.Headers, api.HeaderJobID),
			TaskID:        header(d.Headers, api.HeaderTaskID),
			NodeID:        header(d.Headers, api.HeaderNodeID),
			Data:          data,
			Time:          d.Timestamp,
		}

		// Create context
		ectx := context.FromContext(ctx)
		ectx = context.WithJobID(ectx, evt.JobID)
		ectx = context.WithTaskID(ectx, evt.TaskID)
		ectx = context.WithNodeID(ectx, evt.NodeID)
		ectx = context.WithCorrelationID(ectx, evt.CorrelationID)

		//Apply options
		rejected := false
		for _, o := range options {
			if err := o(ectx, &evt); err != nil {
				err = errors.Wrapf(err, "cannot handle received event %s", evt)
				ectx.Logger().Trace(err)
				nack(ectx, evt, &d)
				rejected = true
				break
			}
		}
		if rejected {
			continue
		}

		if err := f(ectx, evt); err != nil {
			ectx.Logger().Errorf("cannot handle event %s for task %s on node %s, %s", evt.Type, evt.TaskID, evt.NodeID, err)
			nack(ectx, evt, &d)
			if ferr != nil {
				ferr(ectx, err)
			}
			continue
		}
		ack(ectx, evt, &d)
	}
}

// ack acknowledge the event and log error if the acknowledgment returns an error.
func ack(ctx context.Context, evt events.Event, d *amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		ctx.Logger().Errorf("cannot ack event %s for task %s on node %s, %s", evt.Type, evt.TaskID, evt.NodeID, err)
	}
}

// nack negatively acknowledge the event, requeueing it, and log error if the acknowledgment returns an error.
func nack(ctx context.Context, evt events.Event, d *amqp.Delivery) {
	if err := d.Nack(false, true); err != nil {
		ctx.Logger().Errorf("cannot nack event %s for task %s on node %s, %s", evt.Type, evt.TaskID, evt.NodeID, err)
	}
}

func (q *rabbitmq) CreateQueue(ctx context.Context, name, bindTo string) error {
	ctx.Logger().Tracef("creating queue %s bound to exchange %s", name, bindTo)
	_, err := q.ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return errors.Wrapf(err, "cannot declare queue %s", name)
	}

	if bindTo == "" {
		return nil
	}
	err = q.ch.QueueBind(
		name,   // queue name
		name,   // routing key
		bindTo, // exchange
		false,
		nil,
	)
	if err != nil {
		return errors.Wrapf(err, "cannot bind queue %s to exchange %s", name, bindTo)
	}
	return nil
}

func (q *rabbitmq) DeleteQueue(ctx context.Context, name string) error {
	ctx.Logger().Tracef("deleting queue %s", name)
	_, err := q.ch.QueueDelete(name, false, false, false)
	if err != nil {
		return errors.Wrapf(err, "cannot delete queue %s", name)
	}
	return nil
}

func (q *rabbitmq) Close() error {
	if err := q.ch.Close(); err != nil {
		return errors.Wrap(err, "cannot close rabbitmq channel")
	}
	return errors.Wrap(q.conn.Close(), "cannot close rabbitmq connection")
}

func header(h amqp.Table, key string) string {
	v, ok := h[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
