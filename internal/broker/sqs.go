package broker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// SQSConfig configures the SQS consumer.
type SQSConfig struct {
	QueueURL          string
	DLQueueURL        string
	Region            string
	WaitTimeSeconds   int32
	VisibilityTimeout int32
}

// SQSConsumer long-polls an SQS queue one message at a time. A message that
// is neither deleted nor released becomes visible again after the
// visibility timeout.
type SQSConsumer struct {
	client sqsAPI
	cfg    SQSConfig
	log    zerolog.Logger
}

// DialSQS creates an SQS consumer using the default AWS credential chain.
// The queue (and the DLQ, when set) must be reachable before it returns.
func DialSQS(ctx context.Context, cfg SQSConfig, log zerolog.Logger) (*SQSConsumer, error) {
	client, err := newAWSSQSClient(ctx, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("create sqs client: %w", err)
	}
	return dialSQS(ctx, client, cfg, log)
}

func dialSQS(ctx context.Context, client sqsAPI, cfg SQSConfig, log zerolog.Logger) (*SQSConsumer, error) {
	arn, err := client.QueueARN(ctx, cfg.QueueURL)
	if err != nil {
		return nil, fmt.Errorf("get queue attributes %s: %w", cfg.QueueURL, err)
	}
	if cfg.DLQueueURL != "" {
		if _, err := client.QueueARN(ctx, cfg.DLQueueURL); err != nil {
			return nil, fmt.Errorf("get queue attributes %s: %w", cfg.DLQueueURL, err)
		}
	}
	c := newSQSConsumer(client, cfg, log)

	log.Info().
		Str("queue_url", cfg.QueueURL).
		Str("queue_arn", arn).
		Bool("dlq", cfg.DLQueueURL != "").
		Msg("sqs consumer started")

	return c, nil
}

func newSQSConsumer(client sqsAPI, cfg SQSConfig, log zerolog.Logger) *SQSConsumer {
	return &SQSConsumer{client: client, cfg: cfg, log: log}
}

// Consume polls until ctx is cancelled. Receive failures are treated as a
// lost connection so the supervisor can redial.
func (c *SQSConsumer) Consume(ctx context.Context, h Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		out, err := c.client.ReceiveMessage(ctx, &sqsReceiveInput{
			QueueURL:            c.cfg.QueueURL,
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     c.cfg.WaitTimeSeconds,
			VisibilityTimeout:   c.cfg.VisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: receive message: %v", ErrConnectionLost, err)
		}

		for _, m := range out.Messages {
			h.Handle(ctx, &sqsDelivery{consumer: c, msg: m})
		}
	}
}

// Close is a no-op; the SDK client holds no connection to release.
func (c *SQSConsumer) Close() error {
	return nil
}

func (c *SQSConsumer) delete(ctx context.Context, receipt string) error {
	err := c.client.DeleteMessage(ctx, &sqsDeleteInput{
		QueueURL:      c.cfg.QueueURL,
		ReceiptHandle: receipt,
	})
	if err != nil {
		return fmt.Errorf("delete sqs message: %w", err)
	}
	return nil
}

func (c *SQSConsumer) release(ctx context.Context, receipt string) error {
	err := c.client.ChangeMessageVisibility(ctx, &sqsChangeVisibilityInput{
		QueueURL:          c.cfg.QueueURL,
		ReceiptHandle:     receipt,
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("release sqs message: %w", err)
	}
	return nil
}

// deadLetter forwards the body to the DLQ when one is configured, then
// deletes the original. Without a DLQ the message is dropped.
func (c *SQSConsumer) deadLetter(ctx context.Context, msg sqsReceivedMessage) error {
	if c.cfg.DLQueueURL != "" {
		err := c.client.SendMessage(ctx, &sqsSendInput{
			QueueURL:    c.cfg.DLQueueURL,
			MessageBody: msg.Body,
			Attributes:  map[string]string{"source_message_id": msg.MessageID},
		})
		if err != nil {
			return fmt.Errorf("forward to dlq: %w", err)
		}
	}
	return c.delete(ctx, msg.ReceiptHandle)
}

type sqsDelivery struct {
	consumer *SQSConsumer
	msg      sqsReceivedMessage
}

func (s *sqsDelivery) ID() string { return s.msg.MessageID }

func (s *sqsDelivery) Body() []byte { return []byte(s.msg.Body) }

func (s *sqsDelivery) Redelivered() bool { return s.msg.ReceiveCount > 1 }

func (s *sqsDelivery) Ack(ctx context.Context) error {
	return s.consumer.delete(ctx, s.msg.ReceiptHandle)
}

func (s *sqsDelivery) Reject(ctx context.Context, requeue bool) error {
	if requeue {
		return s.consumer.release(ctx, s.msg.ReceiptHandle)
	}
	return s.consumer.deadLetter(ctx, s.msg)
}
