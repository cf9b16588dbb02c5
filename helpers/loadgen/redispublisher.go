package loadgen

import (
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-batchqueue/pkg/queue"
	"github.com/rs/zerolog"
)

// RedisPublisher publishes generated payloads onto a Redis-backed queue
// and records the queue-assigned ID of every message it enqueues, so a
// test can reconcile what was published against what a listener consumed.
type RedisPublisher struct {
	client *queue.RedisClient
	logger zerolog.Logger

	mu  sync.Mutex
	ids []string
}

// NewRedisPublisher wraps an already-connected Redis queue client.
func NewRedisPublisher(client *queue.RedisClient, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		logger: logger.With().Str("component", "RedisPublisher").Logger(),
	}
}

// Connect is a no-op; the wrapped client connects on construction.
func (p *RedisPublisher) Connect() error { return nil }

// Disconnect leaves the wrapped client open; its owner closes it.
func (p *RedisPublisher) Disconnect() {}

// Publish enqueues the payload and records its queue-assigned ID.
func (p *RedisPublisher) Publish(ctx context.Context, producer *Producer, payload []byte) error {
	id, err := p.client.Enqueue(ctx, payload)
	if err != nil {
		return fmt.Errorf("enqueue payload for %s: %w", producer.ID, err)
	}
	p.mu.Lock()
	p.ids = append(p.ids, id)
	p.mu.Unlock()
	return nil
}

// PublishedIDs returns the IDs of every message enqueued so far.
func (p *RedisPublisher) PublishedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}
