// Package pubsub publishes realtime events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// ChannelAttribute carries the logical channel on every message.
const ChannelAttribute = "channel"

// Publisher wraps a Pub/Sub topic. All channels share the topic and are told
// apart by ChannelAttribute.
type Publisher struct {
	topic *pubsub.Topic
}

// New creates a Publisher for topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Open connects to projectID and verifies that topicID exists.
func Open(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*Publisher, *pubsub.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err == nil && !ok {
		err = fmt.Errorf("topic %q does not exist in project %q", topicID, projectID)
	}
	if err != nil {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("close pubsub client", zap.Error(cerr))
		}
		return nil, nil, fmt.Errorf("check pubsub topic: %w", err)
	}
	return New(topic), client, nil
}

// Publish marshals payload to JSON and waits for the server ID.
func (p *Publisher) Publish(ctx context.Context, channel string, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{ChannelAttribute: channel},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *Publisher) Stop() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	return nil
}
