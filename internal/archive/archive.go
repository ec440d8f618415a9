// Package archive flags mentions and social posts that fell out of the
// retention window as legacy.
package archive

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/queue"
)

// Result counts what one run flagged.
type Result struct {
	Mentions int64 `json:"mentionsArchived"`
	Social   int64 `json:"socialArchived"`
}

// Archiver runs archive-old-mentions jobs.
type Archiver struct {
	mentions media.MentionStore
	social   media.SocialStore
	clock    media.Clock
	maxAge   time.Duration
	logger   *zap.Logger
}

// New builds an Archiver. A non-positive maxAge means two days.
func New(mentions media.MentionStore, social media.SocialStore, clock media.Clock, maxAge time.Duration, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAge <= 0 {
		maxAge = 48 * time.Hour
	}
	return &Archiver{mentions: mentions, social: social, clock: clock, maxAge: maxAge, logger: logger.Named("archive")}
}

// Handle implements worker.Handler.
func (a *Archiver) Handle(ctx context.Context, _ queue.Job) error {
	_, err := a.Run(ctx)
	return err
}

// Run flags everything older than now minus maxAge. Running it twice flags
// nothing new.
func (a *Archiver) Run(ctx context.Context) (Result, error) {
	cutoff := a.clock.Now().Add(-a.maxAge)
	var res Result
	n, err := a.mentions.ArchiveBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("archive mentions: %w", err)
	}
	res.Mentions = n
	if a.social != nil {
		n, err = a.social.ArchiveBefore(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("archive social mentions: %w", err)
		}
		res.Social = n
	}
	a.logger.Info("archive complete",
		zap.Time("cutoff", cutoff),
		zap.Int64("mentions", res.Mentions),
		zap.Int64("social", res.Social),
	)
	return res, nil
}
