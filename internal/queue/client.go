package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/metrics"
)

// Client is the producer side of the job store. It marshals payloads to JSON
// and fills unset options from per-queue defaults.
type Client struct {
	broker   Broker
	defaults map[string]Options
	logger   *zap.Logger
}

// NewClient wraps broker. defaults may be nil.
func NewClient(broker Broker, defaults map[string]Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults == nil {
		defaults = map[string]Options{}
	}
	return &Client{broker: broker, defaults: defaults, logger: logger}
}

// Add enqueues payload on the named queue.
func (c *Client) Add(ctx context.Context, queue string, payload any, opts media.JobOptions) error {
	_, _, err := c.AddJob(ctx, queue, payload, opts)
	return err
}

// AddJob is Add returning the stored job and whether it was newly created.
func (c *Client) AddJob(ctx context.Context, queue string, payload any, opts media.JobOptions) (Job, bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Job{}, false, fmt.Errorf("marshal %s payload: %w", queue, err)
	}
	job, created, err := c.broker.Enqueue(ctx, queue, queue, data, c.options(queue, opts))
	if err != nil {
		return Job{}, false, fmt.Errorf("enqueue %s: %w", queue, err)
	}
	if created {
		metrics.ObserveEnqueue(queue)
	} else {
		c.logger.Debug("job already pending",
			zap.String("queue", queue),
			zap.String("job_id", job.ID),
			zap.String("idempotency_key", job.IdempotencyKey),
		)
	}
	return job, created, nil
}

// Counts proxies to the broker.
func (c *Client) Counts(ctx context.Context, queue string) (Counts, error) {
	counts, err := c.broker.Counts(ctx, queue)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", queue, err)
	}
	return counts, nil
}

func (c *Client) options(queue string, in media.JobOptions) Options {
	out := c.defaults[queue]
	if in.Delay > 0 {
		out.Delay = in.Delay
	}
	if in.Attempts > 0 {
		out.Attempts = in.Attempts
	}
	if in.BackoffDelay > 0 {
		out.Backoff.Delay = in.BackoffDelay
		if out.Backoff.Type == "" {
			out.Backoff.Type = BackoffExponential
		}
	}
	if in.Priority != 0 {
		out.Priority = in.Priority
	}
	if in.IdempotencyKey != "" {
		out.IdempotencyKey = in.IdempotencyKey
	}
	if out.Attempts <= 0 {
		out.Attempts = 1
	}
	return out
}
