package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/notification-relay/internal/broker"
	"github.com/sungwon/notification-relay/internal/delivery"
	"github.com/sungwon/notification-relay/internal/logger"
	"github.com/sungwon/notification-relay/internal/mailer"
	"github.com/sungwon/notification-relay/internal/metrics"
	"github.com/sungwon/notification-relay/internal/order"
	"github.com/sungwon/notification-relay/internal/render"
	"github.com/sungwon/notification-relay/internal/storage"
)

// unknownRecipient is recorded when a failed payload names no recipient.
const unknownRecipient = "unknown"

// resolveTimeout bounds an ack or reject call.
const resolveTimeout = 10 * time.Second

// deliverer sends and audits one email.
type deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) (*mailer.DeliveryResult, error)
	RecordFailure(ctx context.Context, req delivery.Request, cause error)
}

// Handler implements broker.Handler. It turns one order event into one
// confirmation email and one audit record, then acks on success or rejects
// without requeue on any failure. Duplicate deliveries are processed again.
type Handler struct {
	svc     deliverer
	timeout time.Duration
	log     zerolog.Logger
}

// NewHandler creates a Handler. A zero timeout disables the per-message
// processing deadline.
func NewHandler(svc deliverer, timeout time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		svc:     svc,
		timeout: timeout,
		log:     log,
	}
}

// Handle processes d to completion. Processing is detached from ctx
// cancellation so a shutdown lets the in-flight message finish and resolve.
func (h *Handler) Handle(ctx context.Context, d broker.Delivery) {
	start := time.Now()

	correlationID := d.ID()
	if correlationID == "" {
		correlationID = logger.NewCorrelationID()
	}
	ctx = logger.WithLogger(context.WithoutCancel(ctx), h.log)
	ctx = logger.WithCorrelationID(ctx, correlationID)
	log := logger.FromContext(ctx)

	log.Info().Bool("redelivered", d.Redelivered()).Msg("message received")

	processCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		processCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	outcome := "acked"
	if err := h.process(processCtx, d.Body()); err != nil {
		outcome = "rejected"
		log.Warn().Err(err).Msg("message processing failed, rejecting")
		h.reject(ctx, d)
	} else {
		h.ack(ctx, d)
	}

	metrics.MessagesConsumedTotal.WithLabelValues(outcome).Inc()
	metrics.MessageProcessingDuration.Observe(time.Since(start).Seconds())
}

// process runs parse, render and send. Every path writes exactly one audit
// record before returning.
func (h *Handler) process(ctx context.Context, body []byte) error {
	evt, err := order.Parse(body)
	if err != nil {
		metrics.MessageFailuresTotal.WithLabelValues("parse").Inc()
		to := order.RecipientHint(body)
		if to == "" {
			to = unknownRecipient
		}
		h.svc.RecordFailure(ctx, delivery.Request{
			To:       to,
			Subject:  render.Subject,
			Metadata: body,
			Source:   storage.SourceQueue,
		}, err)
		return fmt.Errorf("parse event: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("order_number", string(evt.OrderNumber)).
		Int("items", len(evt.Items)).
		Msg("order event parsed")

	html, err := render.OrderConfirmation(evt)
	if err != nil {
		metrics.MessageFailuresTotal.WithLabelValues("render").Inc()
		h.svc.RecordFailure(ctx, delivery.Request{
			To:       evt.UserEmail,
			Subject:  render.Subject,
			Metadata: body,
			Source:   storage.SourceQueue,
		}, err)
		return fmt.Errorf("render confirmation: %w", err)
	}

	_, err = h.svc.Deliver(ctx, delivery.Request{
		To:       evt.UserEmail,
		Subject:  render.Subject,
		HTML:     html,
		Metadata: body,
		Source:   storage.SourceQueue,
	})
	if err != nil {
		metrics.MessageFailuresTotal.WithLabelValues("send").Inc()
		return err
	}
	return nil
}

func (h *Handler) ack(ctx context.Context, d broker.Delivery) {
	log := logger.FromContext(ctx)
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	if err := d.Ack(ctx); err != nil {
		metrics.BrokerResolveErrorsTotal.WithLabelValues("ack").Inc()
		log.Error().Err(err).Msg("failed to ack message")
		return
	}
	log.Info().Msg("message acked")
}

func (h *Handler) reject(ctx context.Context, d broker.Delivery) {
	log := logger.FromContext(ctx)
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	if err := d.Reject(ctx, false); err != nil {
		metrics.BrokerResolveErrorsTotal.WithLabelValues("reject").Inc()
		log.Error().Err(err).Msg("failed to reject message")
	}
}
