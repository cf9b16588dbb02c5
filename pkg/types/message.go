package types

import (
	"sync"
	"time"
)

// Message is a single item leased from a queue. It is immutable once
// created by a queue client: the listener addresses it via ReceiptHandle
// for delete and retry calls and treats the payload as opaque bytes.
type Message struct {
	// ID is the broker-assigned identifier, used for logging and for
	// batch membership checks.
	ID string
	// ReceiptHandle is the opaque lease handle required to delete the
	// message or change its visibility. For some brokers it equals ID.
	ReceiptHandle string
	// Payload is the raw byte content of the message.
	Payload []byte
	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time
	// Attributes carries broker metadata attached to the message.
	Attributes map[string]string
}

// RetrievedMessages is the result of one retrieval lane: the messages a
// single GetMessages call leased, plus a hook releasing any lane-local
// resources. The listener releases every lane exactly once per cycle,
// whether or not the messages are later deleted or retried.
type RetrievedMessages struct {
	Messages []Message

	releaseOnce sync.Once
	release     func()
}

// NewRetrievedMessages wraps a lane's messages with an optional release
// hook. A nil release is valid for clients with no lane-local state.
func NewRetrievedMessages(messages []Message, release func()) *RetrievedMessages {
	return &RetrievedMessages{Messages: messages, release: release}
}

// Release disposes the lane-local resources. Safe to call more than once;
// only the first call has effect.
func (r *RetrievedMessages) Release() {
	r.releaseOnce.Do(func() {
		if r.release != nil {
			r.release()
		}
	})
}
