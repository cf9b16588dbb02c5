package queue

import (
	"context"
	"time"

	"github.com/illmade-knight/go-batchqueue/pkg/types"
)

// ====================================================================================
// This file defines the contract the listener requires from a queue
// backend. Concrete clients for Google Pub/Sub and Redis live alongside
// it in this package.
// ====================================================================================

// Client is the interface a queue backend must implement for the batch
// listener. GetMessages is called concurrently, once per retrieval lane;
// Delete and ExtendOrRetry are called concurrently during batch
// completion. Implementations must be safe for concurrent use.
type Client interface {
	// GetMessages leases up to maxMessages for visibilityTimeout. It
	// returns promptly on context cancellation rather than blocking.
	// An empty result is not an error.
	GetMessages(ctx context.Context, maxMessages int, visibilityTimeout time.Duration) (*types.RetrievedMessages, error)

	// Delete permanently removes a successfully processed message.
	Delete(ctx context.Context, msg types.Message) error

	// ExtendOrRetry makes msg redeliverable after visibilityTimeout.
	// Once attempt exceeds maxRetries the message is treated as poison
	// and routed to the backend's dead-letter path instead.
	ExtendOrRetry(ctx context.Context, msg types.Message, attempt, maxRetries int, visibilityTimeout time.Duration) error
}
