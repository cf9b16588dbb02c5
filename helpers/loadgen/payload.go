package loadgen

import (
	"encoding/json"
	"time"
)

// SequencePayload is the default message body: enough to trace a consumed
// message back to the producer and position that emitted it.
type SequencePayload struct {
	ProducerID string    `json:"producer_id"`
	Seq        int       `json:"seq"`
	EmittedAt  time.Time `json:"emitted_at"`
}

// JSONPayloadGenerator marshals one SequencePayload per message.
type JSONPayloadGenerator struct{}

func (JSONPayloadGenerator) GeneratePayload(producer *Producer, seq int) ([]byte, error) {
	return json.Marshal(SequencePayload{
		ProducerID: producer.ID,
		Seq:        seq,
		EmittedAt:  time.Now().UTC(),
	})
}
