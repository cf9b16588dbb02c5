package loadgen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Producer emits messages at MessageRate per second. A MessageCount above
// zero stops the producer after that many successful publishes, which
// gives a run a deterministic total; zero means the producer runs until
// the duration elapses.
type Producer struct {
	ID               string
	MessageRate      float64
	MessageCount     int
	PayloadGenerator PayloadGenerator
}

// LoadGenerator drives a set of producers against one publisher so a
// listener under test has a realistic, measurable message stream to
// consume.
type LoadGenerator struct {
	publisher      Publisher
	producers      []*Producer
	logger         zerolog.Logger
	publishedCount int64
}

// NewLoadGenerator creates a new LoadGenerator.
func NewLoadGenerator(publisher Publisher, producers []*Producer, logger zerolog.Logger) *LoadGenerator {
	return &LoadGenerator{
		publisher: publisher,
		producers: producers,
		logger:    logger,
	}
}

// Run drives all producers until each hits its message count or the
// duration elapses, whichever comes first, and returns the total number
// of successfully published messages.
func (lg *LoadGenerator) Run(ctx context.Context, duration time.Duration) (int, error) {
	atomic.StoreInt64(&lg.publishedCount, 0)
	lg.logger.Info().Int("num_producers", len(lg.producers)).Dur("duration", duration).Msg("Starting load generator")

	if err := lg.publisher.Connect(); err != nil {
		lg.logger.Error().Err(err).Msg("Failed to connect publisher")
		return 0, err
	}
	defer lg.publisher.Disconnect()

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var wg sync.WaitGroup
	for _, producer := range lg.producers {
		wg.Add(1)
		go func(p *Producer) {
			defer wg.Done()
			lg.runProducer(runCtx, p)
		}(producer)
	}

	wg.Wait()
	finalCount := int(atomic.LoadInt64(&lg.publishedCount))
	lg.logger.Info().Int("successful_publishes", finalCount).Msg("Load generator finished")
	return finalCount, nil
}

func (lg *LoadGenerator) runProducer(ctx context.Context, producer *Producer) {
	if producer.MessageRate <= 0 {
		lg.logger.Warn().Str("producer_id", producer.ID).Msg("Producer has a message rate of 0, no messages will be sent")
		return
	}

	interval := time.Duration(float64(time.Second) / producer.MessageRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lg.logger.Info().Str("producer_id", producer.ID).Float64("rate_hz", producer.MessageRate).Dur("interval", interval).Msg("Producer starting")

	sent := 0
	for {
		select {
		case <-ctx.Done():
			lg.logger.Info().Str("producer_id", producer.ID).Int("sent", sent).Msg("Producer stopping")
			return
		case <-ticker.C:
			payload, err := producer.PayloadGenerator.GeneratePayload(producer, sent)
			if err != nil {
				lg.logger.Error().Err(err).Str("producer_id", producer.ID).Msg("Failed to generate payload")
				continue
			}
			if err := lg.publisher.Publish(ctx, producer, payload); err != nil {
				lg.logger.Error().Err(err).Str("producer_id", producer.ID).Msg("Failed to publish message")
				continue
			}
			sent++
			atomic.AddInt64(&lg.publishedCount, 1)
			if producer.MessageCount > 0 && sent >= producer.MessageCount {
				lg.logger.Info().Str("producer_id", producer.ID).Int("sent", sent).Msg("Producer reached its message count")
				return
			}
		}
	}
}
