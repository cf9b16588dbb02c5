package listener_test

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/go-batchqueue/pkg/types"
)

// ====================================================================================
// This file contains fakes for the queue.Client interface and the
// Metrics sink, used by the batch and listener unit tests.
// ====================================================================================

// retryCall records one ExtendOrRetry invocation.
type retryCall struct {
	ID                string
	Attempt           int
	MaxRetries        int
	VisibilityTimeout time.Duration
}

// laneScript is one scripted GetMessages response.
type laneScript struct {
	messages []types.Message
	err      error
	released *int
}

// fakeQueueClient scripts successive GetMessages responses and records
// every Delete and ExtendOrRetry call. Once the script is exhausted it
// returns empty results.
type fakeQueueClient struct {
	mu      sync.Mutex
	scripts []laneScript
	next    int

	getCalls  int
	releases  int
	deleted   []string
	retried   []retryCall
	deleteErr map[string]error
	retryErr  map[string]error
}

func newFakeQueueClient() *fakeQueueClient {
	return &fakeQueueClient{
		deleteErr: make(map[string]error),
		retryErr:  make(map[string]error),
	}
}

// script queues a successful GetMessages response.
func (f *fakeQueueClient) script(messages ...types.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, laneScript{messages: messages})
}

// scriptError queues a failing GetMessages response.
func (f *fakeQueueClient) scriptError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, laneScript{err: err})
}

func (f *fakeQueueClient) GetMessages(ctx context.Context, maxMessages int, visibilityTimeout time.Duration) (*types.RetrievedMessages, error) {
	f.mu.Lock()
	f.getCalls++
	if f.next >= len(f.scripts) {
		f.mu.Unlock()
		return types.NewRetrievedMessages(nil, nil), nil
	}
	s := f.scripts[f.next]
	f.next++
	f.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	return types.NewRetrievedMessages(s.messages, func() {
		f.mu.Lock()
		f.releases++
		f.mu.Unlock()
	}), nil
}

func (f *fakeQueueClient) Delete(ctx context.Context, msg types.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.deleteErr[msg.ID]; ok {
		return err
	}
	f.deleted = append(f.deleted, msg.ID)
	return nil
}

func (f *fakeQueueClient) ExtendOrRetry(ctx context.Context, msg types.Message, attempt, maxRetries int, visibilityTimeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.retryErr[msg.ID]; ok {
		return err
	}
	f.retried = append(f.retried, retryCall{
		ID:                msg.ID,
		Attempt:           attempt,
		MaxRetries:        maxRetries,
		VisibilityTimeout: visibilityTimeout,
	})
	return nil
}

func (f *fakeQueueClient) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deleted))
	copy(out, f.deleted)
	return out
}

func (f *fakeQueueClient) retriedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.retried))
	for _, r := range f.retried {
		out = append(out, r.ID)
	}
	return out
}

func (f *fakeQueueClient) retriedCalls() []retryCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]retryCall, len(f.retried))
	copy(out, f.retried)
	return out
}

func (f *fakeQueueClient) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

func (f *fakeQueueClient) getCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

// recordingMetrics captures engine observations for assertions.
type recordingMetrics struct {
	mu         sync.Mutex
	productive int
	failed     int
	batchSizes []int
	deleted    int
	retried    int
	streaks    []int
}

func (m *recordingMetrics) CycleCompleted(productive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if productive {
		m.productive++
	} else {
		m.failed++
	}
}

func (m *recordingMetrics) BatchObserved(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchSizes = append(m.batchSizes, size)
}

func (m *recordingMetrics) MessagesResolved(deleted, retried int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted += deleted
	m.retried += retried
}

func (m *recordingMetrics) BackoffStreak(length int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streaks = append(m.streaks, length)
}

func (m *recordingMetrics) failedCycles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed
}

func (m *recordingMetrics) productiveCycles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.productive
}

func (m *recordingMetrics) lastStreak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streaks) == 0 {
		return 0
	}
	return m.streaks[len(m.streaks)-1]
}

// syncBuffer is a goroutine-safe log sink for zerolog output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testMessage builds a Message whose receipt handle equals its ID.
func testMessage(id string) types.Message {
	return types.Message{
		ID:            id,
		ReceiptHandle: id,
		Payload:       []byte("payload-" + id),
		PublishTime:   time.Now(),
	}
}
