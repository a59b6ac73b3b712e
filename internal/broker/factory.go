package broker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sungwon/notification-relay/internal/config"
)

// NewDialer returns a Dialer for the configured broker type.
func NewDialer(cfg config.BrokerConfig, log zerolog.Logger) (Dialer, error) {
	switch cfg.Type {
	case "amqp", "":
		amqpCfg := AMQPConfig{
			URL:                cfg.URL,
			Queue:              cfg.Queue,
			ConsumerTag:        cfg.ConsumerTag,
			Prefetch:           cfg.Prefetch,
			DeadLetterExchange: cfg.DeadLetterExchange,
		}
		return DialerFunc(func(ctx context.Context) (Consumer, error) {
			c, err := DialAMQP(ctx, amqpCfg, log)
			if err != nil {
				return nil, err
			}
			return c, nil
		}), nil

	case "redis":
		redisCfg := RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Stream:   cfg.Queue,
			Group:    cfg.RedisGroup,
			Consumer: cfg.ConsumerTag,
			Block:    cfg.BlockTimeout,
		}
		return DialerFunc(func(ctx context.Context) (Consumer, error) {
			c, err := DialRedis(ctx, redisCfg, log)
			if err != nil {
				return nil, err
			}
			return c, nil
		}), nil

	case "sqs":
		sqsCfg := SQSConfig{
			QueueURL:          cfg.SQSQueueURL,
			DLQueueURL:        cfg.SQSDLQueueURL,
			Region:            cfg.SQSRegion,
			WaitTimeSeconds:   cfg.SQSWaitTime,
			VisibilityTimeout: cfg.SQSVisTimeout,
		}
		return DialerFunc(func(ctx context.Context) (Consumer, error) {
			c, err := DialSQS(ctx, sqsCfg, log)
			if err != nil {
				return nil, err
			}
			return c, nil
		}), nil

	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
