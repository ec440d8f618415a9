// Package mention turns keyword matches into persisted mentions and hands
// them to analysis.
package mention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/metrics"
	"github.com/JakeFAU/mediawatch/internal/queue"
)

// AnalyzeRequest is the payload of an analyze-mention job.
type AnalyzeRequest struct {
	MentionID string `json:"mentionId"`
}

// Config tunes the relevance gate and legacy flagging.
type Config struct {
	// Threshold is the minimum prefilter confidence for a match to count.
	Threshold float64
	// MaxAge marks mentions of older articles as legacy.
	MaxAge time.Duration
}

// Draft describes a mention about to be created.
type Draft struct {
	Article   media.Article
	Client    media.Client
	Keyword   string
	Snippet   string
	Sentiment media.Sentiment
	Relevance int
	// Origin labels metrics and logs, e.g. "ingest" or "grounding".
	Origin string
}

// Factory creates mentions.
type Factory struct {
	mentions  media.MentionStore
	prefilter media.Prefilter
	enqueuer  media.Enqueuer
	notifier  media.Notifier
	clock     media.Clock
	cfg       Config
	logger    *zap.Logger
}

// New builds a Factory. prefilter may be nil to admit every match.
func New(
	mentions media.MentionStore,
	prefilter media.Prefilter,
	enqueuer media.Enqueuer,
	notifier media.Notifier,
	clock media.Clock,
	cfg Config,
	logger *zap.Logger,
) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = media.NopNotifier{}
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.6
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 48 * time.Hour
	}
	return &Factory{
		mentions:  mentions,
		prefilter: prefilter,
		enqueuer:  enqueuer,
		notifier:  notifier,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("mention"),
	}
}

// Admit asks the prefilter whether a match is a genuine mention. A match is
// admitted when it is relevant with confidence at or above the threshold.
// Prefilter errors admit the match.
func (f *Factory) Admit(ctx context.Context, article media.Article, client media.Client, keyword string) bool {
	if f.prefilter == nil {
		return true
	}
	res, err := f.prefilter.Check(ctx, media.PrefilterInput{
		ArticleTitle:      article.Title,
		ArticleContent:    article.Content,
		ClientName:        client.Name,
		ClientDescription: client.Description,
		Keyword:           keyword,
	})
	if err != nil {
		metrics.ObservePrefilter("error")
		f.logger.Warn("prefilter unavailable, admitting match",
			zap.String("article_id", article.ID),
			zap.String("client_id", client.ID),
			zap.Error(err),
		)
		return true
	}
	if !res.Relevant || res.Confidence < f.cfg.Threshold {
		metrics.ObservePrefilter("rejected")
		f.logger.Debug("match rejected",
			zap.String("article_id", article.ID),
			zap.String("client_id", client.ID),
			zap.Float64("confidence", res.Confidence),
			zap.String("reason", res.Reason),
		)
		return false
	}
	metrics.ObservePrefilter("accepted")
	return true
}

// FromMatch gates a keyword match and creates the mention with a snippet
// around the keyword. It reports whether a new mention was created.
func (f *Factory) FromMatch(
	ctx context.Context,
	article media.Article,
	client media.Client,
	keyword string,
) (media.Mention, bool, error) {
	if !f.Admit(ctx, article, client, keyword) {
		return media.Mention{}, false, nil
	}
	return f.Create(ctx, Draft{
		Article: article,
		Client:  client,
		Keyword: keyword,
		Snippet: media.Snippet(article.Text(), keyword),
		Origin:  "ingest",
	})
}

// Legacy reports whether an article published at t predates the retention
// window.
func (f *Factory) Legacy(t *time.Time) bool {
	return t != nil && t.Before(f.clock.Now().Add(-f.cfg.MaxAge))
}

// Create persists d, publishes mention:new and enqueues analysis. An existing
// mention for the same article and client is not an error: it returns false
// and neither publishes nor enqueues.
func (f *Factory) Create(ctx context.Context, d Draft) (media.Mention, bool, error) {
	m, err := f.mentions.Create(ctx, media.Mention{
		ArticleID:      d.Article.ID,
		ClientID:       d.Client.ID,
		KeywordMatched: d.Keyword,
		Snippet:        d.Snippet,
		IsLegacy:       f.Legacy(d.Article.PublishedAt),
		PublishedAt:    d.Article.PublishedAt,
		Sentiment:      d.Sentiment,
		Relevance:      d.Relevance,
	})
	if errors.Is(err, media.ErrDuplicate) {
		return media.Mention{}, false, nil
	}
	if err != nil {
		return media.Mention{}, false, fmt.Errorf("create mention: %w", err)
	}

	origin := d.Origin
	if origin == "" {
		origin = "ingest"
	}
	metrics.ObserveMention(origin)
	f.logger.Info("mention created",
		zap.String("mention_id", m.ID),
		zap.String("article_id", d.Article.ID),
		zap.String("client_id", d.Client.ID),
		zap.String("keyword", d.Keyword),
		zap.String("origin", origin),
		zap.Bool("legacy", m.IsLegacy),
	)
	f.notifier.Notify(media.Event{
		Channel:   media.ChannelMentionNew,
		ID:        m.ID,
		ClientID:  d.Client.ID,
		OrgID:     d.Client.OrgID,
		Title:     d.Article.Title,
		Source:    d.Article.Source,
		Timestamp: f.clock.Now(),
	})

	err = f.enqueuer.Add(ctx, queue.AnalyzeMention, AnalyzeRequest{MentionID: m.ID}, media.JobOptions{
		Attempts:       3,
		BackoffDelay:   5 * time.Second,
		IdempotencyKey: "analyze:" + m.ID,
	})
	if err != nil {
		return m, true, fmt.Errorf("enqueue analysis for %s: %w", m.ID, err)
	}
	return m, true, nil
}
