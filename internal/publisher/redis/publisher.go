// Package redis publishes realtime events on Redis pub/sub channels.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Publisher issues PUBLISH for each event.
type Publisher struct {
	client redis.UniversalClient
}

// New wraps client. The caller owns the client.
func New(client redis.UniversalClient) *Publisher {
	return &Publisher{client: client}
}

// Publish marshals payload to JSON and publishes it on channel. The returned
// ID is the number of subscribers that received it.
func (p *Publisher) Publish(ctx context.Context, channel string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	n, err := p.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return "", fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return strconv.FormatInt(n, 10), nil
}
