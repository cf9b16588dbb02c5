package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-batchqueue/pkg/types"
	"github.com/rs/zerolog"
)

// RedisConfig holds configuration for the Redis queue client.
type RedisConfig struct {
	Addr     string // e.g., "localhost:6379"
	Password string // Leave empty if no password
	DB       int    // e.g., 0
	// QueueName namespaces all keys for one logical queue.
	QueueName string
}

// RedisClient implements Client on a visibility-timeout queue built from
// Redis primitives: a ready list, a leased sorted-set scored by lease
// deadline, and hashes for payloads, publish times and delivery counts.
// Expired leases are swept back onto the ready list at the start of each
// GetMessages call, so crashed consumers lose nothing beyond their
// visibility window.
type RedisClient struct {
	rdb    *redis.Client
	logger zerolog.Logger

	readyKey     string
	leasedKey    string
	payloadsKey  string
	publishedKey string
	attemptsKey  string
	deadKey      string
}

// NewRedisClient connects to Redis and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisClient, error) {
	if cfg.QueueName == "" {
		return nil, errors.New("redis queue client requires a queue name")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	prefix := "batchqueue:" + cfg.QueueName
	logger.Info().Str("redis_address", cfg.Addr).Str("queue", cfg.QueueName).Msg("Successfully connected to Redis for queue client")

	return &RedisClient{
		rdb:          rdb,
		logger:       logger.With().Str("component", "RedisClient").Str("queue", cfg.QueueName).Logger(),
		readyKey:     prefix + ":ready",
		leasedKey:    prefix + ":leased",
		payloadsKey:  prefix + ":payloads",
		publishedKey: prefix + ":published",
		attemptsKey:  prefix + ":attempts",
		deadKey:      prefix + ":dead",
	}, nil
}

// Enqueue adds a payload to the queue and returns its message ID. It is
// a producer-side convenience; the listener itself never enqueues.
func (c *RedisClient) Enqueue(ctx context.Context, payload []byte) (string, error) {
	id := uuid.NewString()
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.payloadsKey, id, payload)
	pipe.HSet(ctx, c.publishedKey, id, time.Now().UnixNano())
	pipe.LPush(ctx, c.readyKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue message: %w", err)
	}
	return id, nil
}

// GetMessages sweeps expired leases back to the ready list, then pops up
// to maxMessages and leases each for visibilityTimeout.
func (c *RedisClient) GetMessages(ctx context.Context, maxMessages int, visibilityTimeout time.Duration) (*types.RetrievedMessages, error) {
	if err := c.requeueExpired(ctx); err != nil {
		return nil, err
	}

	ids, err := c.rdb.RPopCount(ctx, c.readyKey, maxMessages).Result()
	if errors.Is(err, redis.Nil) {
		return types.NewRetrievedMessages(nil, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop from ready list: %w", err)
	}
	if len(ids) == 0 {
		return types.NewRetrievedMessages(nil, nil), nil
	}

	deadline := float64(time.Now().Add(visibilityTimeout).UnixNano())
	pipe := c.rdb.TxPipeline()
	payloadCmds := make([]*redis.StringCmd, len(ids))
	publishedCmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		pipe.ZAdd(ctx, c.leasedKey, &redis.Z{Score: deadline, Member: id})
		pipe.HIncrBy(ctx, c.attemptsKey, id, 1)
		payloadCmds[i] = pipe.HGet(ctx, c.payloadsKey, id)
		publishedCmds[i] = pipe.HGet(ctx, c.publishedKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("lease %d messages: %w", len(ids), err)
	}

	messages := make([]types.Message, 0, len(ids))
	for i, id := range ids {
		payload, err := payloadCmds[i].Bytes()
		if errors.Is(err, redis.Nil) {
			// Payload deleted out from under us; drop the stale ID.
			c.rdb.ZRem(ctx, c.leasedKey, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load payload for message %s: %w", id, err)
		}

		var published time.Time
		if nanos, err := publishedCmds[i].Int64(); err == nil {
			published = time.Unix(0, nanos)
		}

		messages = append(messages, types.Message{
			ID:            id,
			ReceiptHandle: id,
			Payload:       payload,
			PublishTime:   published,
		})
	}

	c.logger.Debug().Int("count", len(messages)).Msg("Leased messages")
	return types.NewRetrievedMessages(messages, nil), nil
}

// Delete removes the message and all its bookkeeping.
func (c *RedisClient) Delete(ctx context.Context, msg types.Message) error {
	pipe := c.rdb.TxPipeline()
	pipe.ZRem(ctx, c.leasedKey, msg.ReceiptHandle)
	pipe.HDel(ctx, c.payloadsKey, msg.ReceiptHandle)
	pipe.HDel(ctx, c.publishedKey, msg.ReceiptHandle)
	pipe.HDel(ctx, c.attemptsKey, msg.ReceiptHandle)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete message %s: %w", msg.ID, err)
	}
	return nil
}

// ExtendOrRetry re-leases the message so it returns to the ready list
// after visibilityTimeout. The client tracks delivery counts itself; once
// the greater of attempt and the stored count exceeds maxRetries the
// message moves to the dead-letter list instead.
func (c *RedisClient) ExtendOrRetry(ctx context.Context, msg types.Message, attempt, maxRetries int, visibilityTimeout time.Duration) error {
	if deliveries, err := c.rdb.HGet(ctx, c.attemptsKey, msg.ReceiptHandle).Result(); err == nil {
		if n, convErr := strconv.Atoi(deliveries); convErr == nil && n > attempt {
			attempt = n
		}
	}

	if attempt > maxRetries {
		c.logger.Warn().Str("msg_id", msg.ID).Int("attempt", attempt).Msg("Retry ceiling exceeded, moving message to dead-letter list")
		pipe := c.rdb.TxPipeline()
		pipe.ZRem(ctx, c.leasedKey, msg.ReceiptHandle)
		pipe.LPush(ctx, c.deadKey, msg.Payload)
		pipe.HDel(ctx, c.payloadsKey, msg.ReceiptHandle)
		pipe.HDel(ctx, c.publishedKey, msg.ReceiptHandle)
		pipe.HDel(ctx, c.attemptsKey, msg.ReceiptHandle)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("dead-letter message %s: %w", msg.ID, err)
		}
		return nil
	}

	deadline := float64(time.Now().Add(visibilityTimeout).UnixNano())
	if err := c.rdb.ZAdd(ctx, c.leasedKey, &redis.Z{Score: deadline, Member: msg.ReceiptHandle}).Err(); err != nil {
		return fmt.Errorf("retry message %s: %w", msg.ID, err)
	}
	return nil
}

// DeadLetters returns up to max payloads from the dead-letter list
// without removing them.
func (c *RedisClient) DeadLetters(ctx context.Context, max int64) ([][]byte, error) {
	vals, err := c.rdb.LRange(ctx, c.deadKey, 0, max-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead-letter list: %w", err)
	}
	payloads := make([][]byte, len(vals))
	for i, v := range vals {
		payloads[i] = []byte(v)
	}
	return payloads, nil
}

// requeueExpired moves messages whose lease deadline has passed back to
// the ready list. The ZRem guards against two sweepers racing on the
// same member.
func (c *RedisClient) requeueExpired(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	expired, err := c.rdb.ZRangeByScore(ctx, c.leasedKey, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return fmt.Errorf("scan expired leases: %w", err)
	}

	for _, id := range expired {
		removed, err := c.rdb.ZRem(ctx, c.leasedKey, id).Result()
		if err != nil {
			return fmt.Errorf("remove expired lease %s: %w", id, err)
		}
		if removed == 1 {
			if err := c.rdb.LPush(ctx, c.readyKey, id).Err(); err != nil {
				return fmt.Errorf("requeue expired message %s: %w", id, err)
			}
			c.logger.Debug().Str("msg_id", id).Msg("Requeued expired lease")
		}
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
