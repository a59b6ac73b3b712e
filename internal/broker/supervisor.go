package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/notification-relay/internal/metrics"
)

// Supervisor owns the consumer connection. It dials once at startup and
// redials with backoff whenever consumption stops on a lost connection.
type Supervisor struct {
	dialer  Dialer
	handler Handler
	backoff Backoff
	log     zerolog.Logger

	mu       sync.Mutex
	consumer Consumer
	ready    atomic.Bool

	// sleep waits for d or ctx; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a Supervisor that feeds deliveries to handler.
func NewSupervisor(dialer Dialer, handler Handler, backoff Backoff, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		dialer:  dialer,
		handler: handler,
		backoff: backoff,
		log:     log,
		sleep:   sleepContext,
	}
}

// Connect performs the initial dial. A failure here is fatal to the caller.
func (s *Supervisor) Connect(ctx context.Context) error {
	c, err := s.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	s.setConsumer(c)
	return nil
}

// Ready reports whether a live consumer is attached.
func (s *Supervisor) Ready() bool {
	return s.ready.Load()
}

// Run consumes until ctx is cancelled. After a lost connection it closes
// the dead consumer and redials until it succeeds or ctx ends.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		c := s.current()
		if c == nil {
			if err := s.redial(ctx); err != nil {
				return nil
			}
			continue
		}

		err := c.Consume(ctx, s.handler)
		if err == nil || ctx.Err() != nil {
			_ = s.closeConsumer()
			return nil
		}

		if errors.Is(err, ErrConnectionLost) {
			s.log.Warn().Err(err).Msg("broker connection lost, reconnecting")
		} else {
			s.log.Error().Err(err).Msg("consumer stopped unexpectedly, reconnecting")
		}
		_ = s.closeConsumer()
	}
}

// redial retries Dial with backoff. It returns ctx.Err() when cancelled.
func (s *Supervisor) redial(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		delay := s.backoff.Next(attempt)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}

		c, err := s.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.BrokerReconnectsTotal.WithLabelValues("failure").Inc()
			s.log.Warn().Err(err).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("broker reconnect failed")
			continue
		}

		metrics.BrokerReconnectsTotal.WithLabelValues("success").Inc()
		s.log.Info().Int("attempt", attempt+1).Msg("broker reconnected")
		s.setConsumer(c)
		return nil
	}
}

// Close releases the current consumer, if any.
func (s *Supervisor) Close() error {
	return s.closeConsumer()
}

func (s *Supervisor) current() Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumer
}

func (s *Supervisor) setConsumer(c Consumer) {
	s.mu.Lock()
	s.consumer = c
	s.mu.Unlock()
	s.ready.Store(true)
	metrics.BrokerConnected.Set(1)
}

func (s *Supervisor) closeConsumer() error {
	s.mu.Lock()
	c := s.consumer
	s.consumer = nil
	s.mu.Unlock()

	s.ready.Store(false)
	metrics.BrokerConnected.Set(0)

	if c == nil {
		return nil
	}
	if err := c.Close(); err != nil {
		s.log.Debug().Err(err).Msg("close consumer")
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
