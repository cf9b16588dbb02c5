package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-batchqueue/pkg/queue"
	"github.com/illmade-knight/go-batchqueue/pkg/types"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidMessage is returned when a handler marks a message that does
// not belong to the batch it was handed. This is a contract violation in
// the handler, not a runtime condition to retry.
var ErrInvalidMessage = errors.New("message does not belong to this batch")

// firstAttempt is the attempt number passed to ExtendOrRetry for messages
// being retried for the first time out of a batch.
const firstAttempt = 1

// Batch is the merged set of messages from one poll cycle, handed to the
// handler as a unit. The handler marks the messages it has dealt with;
// Complete then deletes the marked messages and retries the rest, while
// RetryAll retries everything regardless of marks. A batch belongs to
// exactly one cycle: the handler mutates it, completion reads it, and the
// two phases never overlap, so it carries no locking.
type Batch struct {
	messages  []types.Message
	byHandle  map[string]struct{}
	processed map[string]struct{}
}

// NewBatch builds a batch over an ordered message collection.
func NewBatch(messages []types.Message) *Batch {
	byHandle := make(map[string]struct{}, len(messages))
	for _, msg := range messages {
		byHandle[msg.ReceiptHandle] = struct{}{}
	}
	return &Batch{
		messages:  messages,
		byHandle:  byHandle,
		processed: make(map[string]struct{}, len(messages)),
	}
}

// Messages returns the batch's messages in retrieval order. The slice is
// a read-only view; callers must not modify it.
func (b *Batch) Messages() []types.Message {
	return b.messages
}

// Len reports the number of messages in the batch.
func (b *Batch) Len() int {
	return len(b.messages)
}

// MarkAsProcessed records that the handler dealt with msg. Marking the
// same message twice is a no-op. Marking a message from another batch
// returns ErrInvalidMessage.
func (b *Batch) MarkAsProcessed(msg types.Message) error {
	if _, ok := b.byHandle[msg.ReceiptHandle]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidMessage, msg.ID)
	}
	b.processed[msg.ReceiptHandle] = struct{}{}
	return nil
}

// ProcessedCount reports how many messages are currently marked processed.
func (b *Batch) ProcessedCount() int {
	return len(b.processed)
}

// MarkAllAsProcessed marks every message in the batch processed.
func (b *Batch) MarkAllAsProcessed() {
	for _, msg := range b.messages {
		b.processed[msg.ReceiptHandle] = struct{}{}
	}
}

// Complete resolves the batch after a successful handler run: marked
// messages are deleted, unmarked ones are retried with attempt 1. A
// handler that succeeded overall but skipped some messages gets those
// messages redelivered rather than silently dropped. Every message is
// attempted even when siblings fail; individual failures are joined into
// the returned error.
func (b *Batch) Complete(ctx context.Context, client queue.Client, maxRetries int, visibilityTimeout time.Duration) error {
	return b.resolve(ctx, client, maxRetries, visibilityTimeout, false)
}

// RetryAll resolves the batch after a failed handler run: every message,
// marked or not, is retried.
func (b *Batch) RetryAll(ctx context.Context, client queue.Client, maxRetries int, visibilityTimeout time.Duration) error {
	return b.resolve(ctx, client, maxRetries, visibilityTimeout, true)
}

func (b *Batch) resolve(ctx context.Context, client queue.Client, maxRetries int, visibilityTimeout time.Duration, retryEverything bool) error {
	errs := make([]error, len(b.messages))
	var g errgroup.Group
	for i := range b.messages {
		i := i
		g.Go(func() error {
			msg := b.messages[i]
			_, processed := b.processed[msg.ReceiptHandle]
			if processed && !retryEverything {
				if err := client.Delete(ctx, msg); err != nil {
					errs[i] = fmt.Errorf("delete %s: %w", msg.ID, err)
				}
				return nil
			}
			if err := client.ExtendOrRetry(ctx, msg, firstAttempt, maxRetries, visibilityTimeout); err != nil {
				errs[i] = fmt.Errorf("retry %s: %w", msg.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
