package loadgen

import (
	"context"
)

// PayloadGenerator produces the body of the seq'th message for a producer.
// seq counts successful publishes, starting at zero, so a failed publish
// is retried with the same sequence number on the next tick.
type PayloadGenerator interface {
	GeneratePayload(producer *Producer, seq int) ([]byte, error)
}

// Publisher delivers generated payloads onto a queue backend.
type Publisher interface {
	Connect() error
	Disconnect()
	Publish(ctx context.Context, producer *Producer, payload []byte) error
}
