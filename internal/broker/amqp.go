package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// AMQPConfig configures the AMQP 0-9-1 consumer.
type AMQPConfig struct {
	URL                string
	Queue              string
	ConsumerTag        string
	Prefetch           int
	DeadLetterExchange string
}

// amqpChannel is the subset of *amqp.Channel the consumer uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// AMQPConsumer consumes a durable queue with manual acknowledgement.
type AMQPConsumer struct {
	conn       io.Closer
	ch         amqpChannel
	deliveries <-chan amqp.Delivery
	closed     chan *amqp.Error
	queue      string
	log        zerolog.Logger
}

// DialAMQP connects to the broker, declares the queue and starts consuming.
func DialAMQP(ctx context.Context, cfg AMQPConfig, log zerolog.Logger) (*AMQPConsumer, error) {
	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	c, err := newAMQPConsumer(conn, ch, cfg, log)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func newAMQPConsumer(conn io.Closer, ch amqpChannel, cfg AMQPConfig, log zerolog.Logger) (*AMQPConsumer, error) {
	var args amqp.Table
	if cfg.DeadLetterExchange != "" {
		args = amqp.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange}
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}

	prefetch := cfg.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	deliveries, err := ch.Consume(cfg.Queue, cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume queue %s: %w", cfg.Queue, err)
	}

	log.Info().
		Str("queue", cfg.Queue).
		Int("prefetch", prefetch).
		Msg("amqp consumer started")

	return &AMQPConsumer{
		conn:       conn,
		ch:         ch,
		deliveries: deliveries,
		closed:     closed,
		queue:      cfg.Queue,
		log:        log,
	}, nil
}

// Consume hands each delivery to h in order. A delivery is fully handled
// before the next is read.
func (c *AMQPConsumer) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr, ok := <-c.closed:
			if !ok || amqpErr == nil {
				return fmt.Errorf("%w: channel closed", ErrConnectionLost)
			}
			return fmt.Errorf("%w: %s", ErrConnectionLost, amqpErr.Error())
		case d, ok := <-c.deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: delivery channel closed", ErrConnectionLost)
			}
			h.Handle(ctx, &amqpDelivery{d: d})
		}
	}
}

// Close closes the channel and the connection. Unacknowledged deliveries
// return to the queue.
func (c *AMQPConsumer) Close() error {
	var errs []error
	if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (a *amqpDelivery) ID() string {
	if a.d.MessageId != "" {
		return a.d.MessageId
	}
	if id, ok := a.d.Headers["message_id"].(string); ok {
		return id
	}
	return ""
}

func (a *amqpDelivery) Body() []byte { return a.d.Body }

func (a *amqpDelivery) Redelivered() bool { return a.d.Redelivered }

func (a *amqpDelivery) Ack(_ context.Context) error {
	if err := a.d.Ack(false); err != nil {
		return fmt.Errorf("ack delivery %s: %w", strconv.FormatUint(a.d.DeliveryTag, 10), err)
	}
	return nil
}

func (a *amqpDelivery) Reject(_ context.Context, requeue bool) error {
	if err := a.d.Reject(requeue); err != nil {
		return fmt.Errorf("reject delivery %s: %w", strconv.FormatUint(a.d.DeliveryTag, 10), err)
	}
	return nil
}
