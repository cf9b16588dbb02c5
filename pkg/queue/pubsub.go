package queue

import (
	"context"
	"fmt"
	"os"
	"time"

	vkit "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/illmade-knight/go-batchqueue/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// maxAckDeadline is the longest visibility Pub/Sub allows on a single
// ModifyAckDeadline call.
const maxAckDeadline = 600 * time.Second

// PubSubConfig holds configuration for the Pub/Sub queue client.
type PubSubConfig struct {
	ProjectID       string
	SubscriptionID  string
	CredentialsFile string // Optional
}

// LoadPubSubConfigFromEnv loads Pub/Sub client configuration from
// environment variables.
func LoadPubSubConfigFromEnv() (*PubSubConfig, error) {
	cfg := &PubSubConfig{
		ProjectID:       os.Getenv("GCP_PROJECT_ID"),
		SubscriptionID:  os.Getenv("PUBSUB_SUBSCRIPTION_ID"),
		CredentialsFile: os.Getenv("GCP_PUBSUB_CREDENTIALS_FILE"),
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT_ID environment variable not set for Pub/Sub queue client")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("PUBSUB_SUBSCRIPTION_ID environment variable not set for Pub/Sub queue client")
	}
	return cfg, nil
}

// PubSubClient implements Client on top of the low-level Pub/Sub
// subscriber API. Pull maps to GetMessages, Acknowledge to Delete and
// ModifyAckDeadline to ExtendOrRetry; past the retry ceiling the ack
// deadline is zeroed so the subscription's dead-letter policy takes the
// message.
type PubSubClient struct {
	client       *vkit.SubscriberClient
	subscription string
	logger       zerolog.Logger
}

// NewPubSubClient creates a queue client bound to one subscription. The
// PUBSUB_EMULATOR_HOST environment variable is honoured the same way the
// high-level Pub/Sub library honours it.
func NewPubSubClient(ctx context.Context, cfg *PubSubConfig, logger zerolog.Logger, opts ...option.ClientOption) (*PubSubClient, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := vkit.NewSubscriberClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub subscriber client for %s: %w", cfg.SubscriptionID, err)
	}

	subscription := fmt.Sprintf("projects/%s/subscriptions/%s", cfg.ProjectID, cfg.SubscriptionID)
	return &PubSubClient{
		client:       client,
		subscription: subscription,
		logger:       logger.With().Str("component", "PubSubClient").Str("subscription", subscription).Logger(),
	}, nil
}

// GetMessages pulls up to maxMessages and re-leases them for
// visibilityTimeout, capped at the Pub/Sub maximum of 600s.
func (c *PubSubClient) GetMessages(ctx context.Context, maxMessages int, visibilityTimeout time.Duration) (*types.RetrievedMessages, error) {
	resp, err := c.client.Pull(ctx, &pubsubpb.PullRequest{
		Subscription: c.subscription,
		MaxMessages:  int32(maxMessages),
	})
	if err != nil {
		return nil, fmt.Errorf("pull from %s: %w", c.subscription, err)
	}

	if len(resp.ReceivedMessages) == 0 {
		return types.NewRetrievedMessages(nil, nil), nil
	}

	messages := make([]types.Message, 0, len(resp.ReceivedMessages))
	ackIDs := make([]string, 0, len(resp.ReceivedMessages))
	for _, rm := range resp.ReceivedMessages {
		payload := make([]byte, len(rm.Message.Data))
		copy(payload, rm.Message.Data)

		messages = append(messages, types.Message{
			ID:            rm.Message.MessageId,
			ReceiptHandle: rm.AckId,
			Payload:       payload,
			PublishTime:   rm.Message.PublishTime.AsTime(),
			Attributes:    rm.Message.Attributes,
		})
		ackIDs = append(ackIDs, rm.AckId)
	}

	if visibilityTimeout > maxAckDeadline {
		visibilityTimeout = maxAckDeadline
	}
	err = c.client.ModifyAckDeadline(ctx, &pubsubpb.ModifyAckDeadlineRequest{
		Subscription:       c.subscription,
		AckIds:             ackIDs,
		AckDeadlineSeconds: int32(visibilityTimeout / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("extend lease on %d messages from %s: %w", len(ackIDs), c.subscription, err)
	}

	c.logger.Debug().Int("count", len(messages)).Msg("Pulled messages")
	return types.NewRetrievedMessages(messages, nil), nil
}

// Delete acknowledges the message, removing it from the subscription.
func (c *PubSubClient) Delete(ctx context.Context, msg types.Message) error {
	err := c.client.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: c.subscription,
		AckIds:       []string{msg.ReceiptHandle},
	})
	if err != nil {
		return fmt.Errorf("acknowledge message %s: %w", msg.ID, err)
	}
	return nil
}

// ExtendOrRetry re-leases the message for visibilityTimeout so it
// redelivers once the lease lapses. Past the retry ceiling the deadline
// is set to zero: the message becomes immediately redeliverable and the
// subscription's dead-letter policy, if configured, takes over.
func (c *PubSubClient) ExtendOrRetry(ctx context.Context, msg types.Message, attempt, maxRetries int, visibilityTimeout time.Duration) error {
	deadline := int32(visibilityTimeout / time.Second)
	if attempt > maxRetries {
		c.logger.Warn().Str("msg_id", msg.ID).Int("attempt", attempt).Msg("Retry ceiling exceeded, releasing message for dead-letter routing")
		deadline = 0
	}

	err := c.client.ModifyAckDeadline(ctx, &pubsubpb.ModifyAckDeadlineRequest{
		Subscription:       c.subscription,
		AckIds:             []string{msg.ReceiptHandle},
		AckDeadlineSeconds: deadline,
	})
	if err != nil {
		return fmt.Errorf("retry message %s: %w", msg.ID, err)
	}
	return nil
}

// Close releases the underlying subscriber connection.
func (c *PubSubClient) Close() error {
	return c.client.Close()
}
