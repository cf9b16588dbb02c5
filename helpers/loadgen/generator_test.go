package loadgen_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/illmade-knight/go-batchqueue/helpers/loadgen"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

// MockPayloadGenerator is a mock implementation of the PayloadGenerator interface.
type MockPayloadGenerator struct {
	mock.Mock
}

func (m *MockPayloadGenerator) GeneratePayload(producer *loadgen.Producer, seq int) ([]byte, error) {
	args := m.Called(producer, seq)
	var payload []byte
	if p, ok := args.Get(0).([]byte); ok {
		payload = p
	}
	return payload, args.Error(1)
}

// MockPublisher is a mock implementation of the Publisher interface.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Connect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockPublisher) Disconnect() {
	m.Called()
}

func (m *MockPublisher) Publish(ctx context.Context, producer *loadgen.Producer, payload []byte) error {
	args := m.Called(ctx, producer, payload)
	return args.Error(0)
}

// --- Tests ---

func TestLoadGenerator_Run(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("Count-bounded producer publishes exactly its count", func(t *testing.T) {
		mockPublisher := new(MockPublisher)
		mockGenerator := new(MockPayloadGenerator)

		producers := []*loadgen.Producer{
			{ID: "producer-1", MessageRate: 200, MessageCount: 5, PayloadGenerator: mockGenerator},
		}

		mockPublisher.On("Connect").Return(nil).Once()
		mockPublisher.On("Disconnect").Return().Once()
		mockGenerator.On("GeneratePayload", producers[0], mock.Anything).Return([]byte("job"), nil).Times(5)
		mockPublisher.On("Publish", mock.Anything, producers[0], []byte("job")).Return(nil).Times(5)

		lg := loadgen.NewLoadGenerator(mockPublisher, producers, logger)
		count, err := lg.Run(context.Background(), 5*time.Second)

		assert.NoError(t, err)
		assert.Equal(t, 5, count)
		mockPublisher.AssertExpectations(t)
		mockGenerator.AssertExpectations(t)
	})

	t.Run("Failed publish is retried with the same sequence number", func(t *testing.T) {
		mockPublisher := new(MockPublisher)
		mockGenerator := new(MockPayloadGenerator)

		producers := []*loadgen.Producer{
			{ID: "producer-1", MessageRate: 200, MessageCount: 2, PayloadGenerator: mockGenerator},
		}

		mockPublisher.On("Connect").Return(nil).Once()
		mockPublisher.On("Disconnect").Return().Once()
		mockGenerator.On("GeneratePayload", producers[0], 0).Return([]byte("seq-0"), nil)
		mockGenerator.On("GeneratePayload", producers[0], 1).Return([]byte("seq-1"), nil).Once()
		// The first attempt at seq 0 fails; it must be re-generated and
		// re-published as seq 0, not skipped.
		mockPublisher.On("Publish", mock.Anything, producers[0], []byte("seq-0")).Return(errors.New("enqueue failed")).Once()
		mockPublisher.On("Publish", mock.Anything, producers[0], []byte("seq-0")).Return(nil).Once()
		mockPublisher.On("Publish", mock.Anything, producers[0], []byte("seq-1")).Return(nil).Once()

		lg := loadgen.NewLoadGenerator(mockPublisher, producers, logger)
		count, err := lg.Run(context.Background(), 5*time.Second)

		assert.NoError(t, err)
		assert.Equal(t, 2, count)
		mockPublisher.AssertExpectations(t)
		mockGenerator.AssertExpectations(t)
	})

	t.Run("Connect fails", func(t *testing.T) {
		mockPublisher := new(MockPublisher)
		connectErr := errors.New("connection failed")
		mockPublisher.On("Connect").Return(connectErr).Once()

		lg := loadgen.NewLoadGenerator(mockPublisher, []*loadgen.Producer{}, logger)
		count, err := lg.Run(context.Background(), 1*time.Second)

		assert.Error(t, err)
		assert.Equal(t, 0, count)
		assert.Equal(t, connectErr, err)
		mockPublisher.AssertExpectations(t)
		mockPublisher.AssertNotCalled(t, "Disconnect")
	})

	t.Run("Producer with zero message rate", func(t *testing.T) {
		mockPublisher := new(MockPublisher)
		mockGenerator := new(MockPayloadGenerator)
		producers := []*loadgen.Producer{
			{ID: "producer-1", MessageRate: 0, PayloadGenerator: mockGenerator},
		}

		mockPublisher.On("Connect").Return(nil).Once()
		mockPublisher.On("Disconnect").Return().Once()

		lg := loadgen.NewLoadGenerator(mockPublisher, producers, logger)
		count, err := lg.Run(context.Background(), 100*time.Millisecond)

		assert.NoError(t, err)
		assert.Equal(t, 0, count)
		mockPublisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestJSONPayloadGenerator(t *testing.T) {
	producer := &loadgen.Producer{ID: "producer-7"}
	payload, err := loadgen.JSONPayloadGenerator{}.GeneratePayload(producer, 3)
	require.NoError(t, err)

	var decoded loadgen.SequencePayload
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "producer-7", decoded.ProducerID)
	assert.Equal(t, 3, decoded.Seq)
	assert.False(t, decoded.EmittedAt.IsZero())
}
