// Package broker consumes order events from a durable queue. The pipeline
// sees only Delivery and Handler; connection lifecycle stays here.
package broker

import (
	"context"
	"errors"
)

// ErrConnectionLost is wrapped by Consume when the broker connection or
// channel goes away while consuming.
var ErrConnectionLost = errors.New("broker connection lost")

// Delivery is one message handed out by the broker. Exactly one of Ack or
// Reject should be called per delivery.
type Delivery interface {
	ID() string
	Body() []byte
	Redelivered() bool
	Ack(ctx context.Context) error
	Reject(ctx context.Context, requeue bool) error
}

// Handler processes a single delivery and resolves it.
type Handler interface {
	Handle(ctx context.Context, d Delivery)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d Delivery)

func (f HandlerFunc) Handle(ctx context.Context, d Delivery) {
	f(ctx, d)
}

// Consumer delivers messages to a Handler one at a time.
type Consumer interface {
	// Consume blocks until ctx is cancelled (returning nil) or the
	// connection is lost (returning an error wrapping ErrConnectionLost).
	Consume(ctx context.Context, h Handler) error
	Close() error
}

// Dialer opens a new Consumer.
type Dialer interface {
	Dial(ctx context.Context) (Consumer, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Consumer, error)

func (f DialerFunc) Dial(ctx context.Context) (Consumer, error) {
	return f(ctx)
}
