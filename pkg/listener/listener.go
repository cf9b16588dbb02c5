package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-batchqueue/pkg/backoff"
	"github.com/illmade-knight/go-batchqueue/pkg/queue"
	"github.com/illmade-knight/go-batchqueue/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ====================================================================================
// This file contains the poll loop: the engine that fans out retrieval
// lanes, merges their results into a Batch, invokes the handler and
// resolves each message per its mark state and the handler's verdict.
// ====================================================================================

// ProcessBatchFunc handles one batch of messages. Returning nil reports
// overall success: marked messages are deleted and unmarked ones retried.
// Returning an error reports overall failure: every message in the batch
// is retried, marks included.
type ProcessBatchFunc func(ctx context.Context, batch *Batch) error

type listenerState int32

const (
	stateCreated listenerState = iota
	stateRunning
	stateStopping
	stateStopped
)

// Option configures optional QueueListener behaviour.
type Option func(l *QueueListener)

// WithMetrics installs a metrics sink. The default discards observations.
func WithMetrics(m Metrics) Option {
	return func(l *QueueListener) {
		l.metrics = m
	}
}

// QueueListener continuously polls a queue client, aggregates the lanes'
// messages into one batch per cycle, and drives the handler and the
// per-message completion protocol. One listener runs one batch at a
// time; independent listeners share no state.
type QueueListener struct {
	config  *Config
	client  queue.Client
	handler ProcessBatchFunc
	policy  *backoff.ExponentialPolicy
	metrics Metrics
	logger  zerolog.Logger

	mu       sync.Mutex
	state    listenerState
	cancel   context.CancelFunc
	stopOnce sync.Once
	doneChan chan struct{}
}

// NewQueueListener wires a listener to a queue client and a handler.
func NewQueueListener(cfg *Config, client queue.Client, handler ProcessBatchFunc, logger zerolog.Logger, opts ...Option) (*QueueListener, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("queue client cannot be nil")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	l := &QueueListener{
		config:   cfg,
		client:   client,
		handler:  handler,
		policy:   backoff.NewExponentialPolicy(baseBackoff, cfg.MaxBackoff),
		metrics:  NopMetrics{},
		logger:   logger.With().Str("component", "QueueListener").Str("queue", cfg.QueueName).Logger(),
		doneChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Start launches the background poll loop. It may be called once; a
// second call, or a call after Stop, returns an error.
func (l *QueueListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != stateCreated {
		return fmt.Errorf("listener for queue %s already started", l.config.QueueName)
	}
	l.state = stateRunning

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.logger.Info().
		Int("parallelism", l.config.Parallelism).
		Int("max_retries", l.config.MaxRetries).
		Bool("run_on_empty_batch", l.config.RunOnEmptyBatch).
		Msg("Starting queue listener...")

	go l.run(loopCtx)
	return nil
}

// Stop requests shutdown and blocks until the poll loop exits. An
// in-flight handler invocation is allowed to finish; only the backoff
// delay and subsequent retrievals observe the cancellation. Stop is safe
// to call more than once.
func (l *QueueListener) Stop() error {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		if l.state == stateCreated {
			// Never started; nothing is running.
			l.state = stateStopped
			close(l.doneChan)
			l.mu.Unlock()
			return
		}
		l.state = stateStopping
		cancel := l.cancel
		l.mu.Unlock()

		l.logger.Info().Msg("Stopping queue listener...")
		if cancel != nil {
			cancel()
		}

		select {
		case <-l.doneChan:
			l.logger.Info().Msg("Poll loop confirmed stopped.")
		case <-time.After(30 * time.Second):
			l.logger.Error().Msg("Timeout waiting for poll loop to stop.")
		}

		l.mu.Lock()
		l.state = stateStopped
		l.mu.Unlock()
	})
	return nil
}

// Done returns a channel closed once the poll loop has fully exited.
func (l *QueueListener) Done() <-chan struct{} {
	return l.doneChan
}

// run drives the sequential cycle loop until cancellation.
func (l *QueueListener) run(ctx context.Context) {
	defer close(l.doneChan)
	l.logger.Info().Msg("Poll loop started.")

	for {
		if ctx.Err() != nil {
			l.logger.Info().Msg("Poll loop stopping.")
			return
		}

		productive := l.cycle(ctx)
		l.metrics.CycleCompleted(productive)

		delay := l.policy.GetNextDelay(productive)
		l.metrics.BackoffStreak(l.policy.Streak())
		l.logger.Debug().Dur("delay", delay).Bool("productive", productive).Msg("Cycle complete, waiting before next poll")

		select {
		case <-ctx.Done():
			l.logger.Info().Msg("Poll loop stopping.")
			return
		case <-time.After(delay):
		}
	}
}

// cycle runs one poll cycle and reports whether it was productive:
// a non-empty batch whose handler and completion calls all succeeded.
func (l *QueueListener) cycle(ctx context.Context) bool {
	merged, err := l.retrieve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a genuine failure.
			l.logger.Debug().Msg("Retrieval interrupted by stop request.")
			return false
		}
		l.logger.Error().Err(err).Msg("Failed to retrieve messages")
		return false
	}

	if len(merged) == 0 && !l.config.RunOnEmptyBatch {
		return false
	}

	batch := NewBatch(merged)
	l.metrics.BatchObserved(batch.Len())

	if err := l.handler(ctx, batch); err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			l.logger.Debug().Msg("Handler interrupted by stop request.")
		} else {
			l.logger.Warn().Err(err).Int("batch_size", batch.Len()).Msg("Handler reported failure, retrying whole batch")
		}
		if retryErr := batch.RetryAll(ctx, l.client, l.config.MaxRetries, l.config.RetryVisibilityTimeout); retryErr != nil {
			l.logCompletionError(ctx, retryErr)
		} else {
			l.metrics.MessagesResolved(0, batch.Len())
		}
		return false
	}

	if err := batch.Complete(ctx, l.client, l.config.MaxRetries, l.config.RetryVisibilityTimeout); err != nil {
		l.logCompletionError(ctx, err)
		return false
	}
	l.metrics.MessagesResolved(batch.ProcessedCount(), batch.Len()-batch.ProcessedCount())

	return batch.Len() > 0
}

// retrieve fans out the configured number of lanes, releases every lane's
// resources regardless of outcome, and flattens the results preserving
// lane order then intra-lane order.
func (l *QueueListener) retrieve(ctx context.Context) ([]types.Message, error) {
	lanes := make([]*types.RetrievedMessages, l.config.Parallelism)

	var g errgroup.Group
	for i := range lanes {
		i := i
		g.Go(func() error {
			retrieved, err := l.client.GetMessages(ctx, l.config.MaxMessagesPerLane, retrievalVisibilityTimeout)
			if err != nil {
				return fmt.Errorf("lane %d: %w", i, err)
			}
			lanes[i] = retrieved
			return nil
		})
	}
	err := g.Wait()

	var merged []types.Message
	for _, lane := range lanes {
		if lane == nil {
			continue
		}
		merged = append(merged, lane.Messages...)
		lane.Release()
	}

	if err != nil {
		return nil, err
	}
	return merged, nil
}

// logCompletionError records a delete/retry failure unless it resulted
// purely from a stop request.
func (l *QueueListener) logCompletionError(ctx context.Context, err error) {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		l.logger.Debug().Msg("Batch completion interrupted by stop request.")
		return
	}
	l.logger.Error().Err(err).Msg("Failed to complete batch")
}
