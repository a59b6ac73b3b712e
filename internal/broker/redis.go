package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// redisPayloadField holds the event JSON in each stream entry.
	redisPayloadField = "data"
	redisDLQSuffix    = ".dlq"
)

// RedisConfig configures the Redis Streams consumer.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
}

// RedisConsumer reads a stream through a consumer group. Entries stay
// pending until acknowledged, so a crash before Ack leads to redelivery.
type RedisConsumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
	log      zerolog.Logger

	// readPending makes the next read return this consumer's pending
	// entries instead of new ones.
	readPending bool
}

// DialRedis connects to Redis and ensures the consumer group exists.
func DialRedis(ctx context.Context, cfg RedisConfig, log zerolog.Logger) (*RedisConsumer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	c := newRedisConsumer(client, cfg, log)
	if err := c.createConsumerGroup(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Info().
		Str("stream", cfg.Stream).
		Str("group", cfg.Group).
		Msg("redis consumer started")

	return c, nil
}

func newRedisConsumer(client *redis.Client, cfg RedisConfig, log zerolog.Logger) *RedisConsumer {
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	consumer := cfg.Consumer
	if consumer == "" {
		consumer = "relay-1"
	}
	return &RedisConsumer{
		client:      client,
		stream:      cfg.Stream,
		group:       cfg.Group,
		consumer:    consumer,
		block:       block,
		log:         log,
		readPending: true,
	}
}

// createConsumerGroup creates the group and stream if missing.
func (c *RedisConsumer) createConsumerGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on stream %s: %w", c.group, c.stream, err)
	}
	return nil
}

// Consume reads one entry at a time. Pending entries left by an earlier run
// or by a requeueing Reject are read before new ones.
func (c *RedisConsumer) Consume(ctx context.Context, h Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		start := ">"
		if c.readPending {
			start = "0"
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, start},
			Count:    1,
			Block:    c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: xreadgroup: %v", ErrConnectionLost, err)
		}

		handled := 0
		for _, s := range streams {
			for _, msg := range s.Messages {
				handled++
				h.Handle(ctx, &redisDelivery{
					consumer:    c,
					msg:         msg,
					redelivered: c.readPending,
				})
			}
		}

		if c.readPending && handled == 0 {
			c.readPending = false
		}
	}
}

// Close closes the Redis client.
func (c *RedisConsumer) Close() error {
	return c.client.Close()
}

func (c *RedisConsumer) ack(ctx context.Context, id string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		return fmt.Errorf("xack entry %s on stream %s: %w", id, c.stream, err)
	}
	return nil
}

// deadLetter copies the entry to the dead-letter stream and acknowledges
// the original in one transaction.
func (c *RedisConsumer) deadLetter(ctx context.Context, msg redis.XMessage) error {
	values := map[string]any{
		"source_id": msg.ID,
		"failed_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range msg.Values {
		values[k] = v
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: c.stream + redisDLQSuffix,
			Values: values,
		})
		pipe.XAck(ctx, c.stream, c.group, msg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-letter entry %s: %w", msg.ID, err)
	}
	return nil
}

type redisDelivery struct {
	consumer    *RedisConsumer
	msg         redis.XMessage
	redelivered bool
}

func (r *redisDelivery) ID() string {
	if id, ok := r.msg.Values["message_id"].(string); ok && id != "" {
		return id
	}
	return r.msg.ID
}

func (r *redisDelivery) Body() []byte {
	if data, ok := r.msg.Values[redisPayloadField].(string); ok {
		return []byte(data)
	}
	return nil
}

func (r *redisDelivery) Redelivered() bool { return r.redelivered }

func (r *redisDelivery) Ack(ctx context.Context) error {
	return r.consumer.ack(ctx, r.msg.ID)
}

// Reject with requeue leaves the entry pending and schedules a pending
// read; without requeue it moves the entry to the dead-letter stream.
func (r *redisDelivery) Reject(ctx context.Context, requeue bool) error {
	if requeue {
		r.consumer.readPending = true
		return nil
	}
	return r.consumer.deadLetter(ctx, r.msg)
}
