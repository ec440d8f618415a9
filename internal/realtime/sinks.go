package realtime

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/media"
)

// LogSink logs every event. Useful in development where no broker runs.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires logger to the Sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements Sink.
func (s *LogSink) Consume(_ context.Context, batch []media.Event) error {
	for _, evt := range batch {
		s.logger.Info("realtime event",
			zap.String("channel", string(evt.Channel)),
			zap.String("id", evt.ID),
			zap.String("client_id", evt.ClientID),
			zap.String("title", evt.Title),
			zap.String("urgency", string(evt.Urgency)),
		)
	}
	return nil
}

// Close implements Sink.
func (s *LogSink) Close(context.Context) error { return nil }

// Publisher sends one payload to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublisherSink publishes each event to Prefix plus the event channel.
type PublisherSink struct {
	publisher Publisher
	prefix    string
	closer    func() error
}

// NewPublisherSink wraps publisher. closer, when non-nil, runs on Close.
func NewPublisherSink(publisher Publisher, prefix string, closer func() error) *PublisherSink {
	return &PublisherSink{publisher: publisher, prefix: prefix, closer: closer}
}

// Consume implements Sink. Every event is attempted; failures are joined.
func (s *PublisherSink) Consume(ctx context.Context, batch []media.Event) error {
	var errs []error
	for _, evt := range batch {
		if _, err := s.publisher.Publish(ctx, s.prefix+string(evt.Channel), evt); err != nil {
			errs = append(errs, fmt.Errorf("publish %s %s: %w", evt.Channel, evt.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (s *PublisherSink) Close(context.Context) error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
