package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/mention"
	"github.com/JakeFAU/mediawatch/internal/queue"
)

// AlertRequest is the payload of a notify-alert job.
type AlertRequest struct {
	MentionID string `json:"mentionId"`
}

// Handler runs analyze-mention jobs.
type Handler struct {
	mentions media.MentionStore
	analyzer media.Analyzer
	enqueuer media.Enqueuer
	notifier media.Notifier
	clock    media.Clock
	logger   *zap.Logger
}

// NewHandler wires the analysis step.
func NewHandler(
	mentions media.MentionStore,
	analyzer media.Analyzer,
	enqueuer media.Enqueuer,
	notifier media.Notifier,
	clock media.Clock,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = media.NopNotifier{}
	}
	return &Handler{
		mentions: mentions,
		analyzer: analyzer,
		enqueuer: enqueuer,
		notifier: notifier,
		clock:    clock,
		logger:   logger.Named("classify"),
	}
}

// Handle implements worker.Handler.
func (h *Handler) Handle(ctx context.Context, job queue.Job) error {
	var req mention.AnalyzeRequest
	if err := job.Decode(&req); err != nil {
		return fmt.Errorf("decode analyze request: %w: %w", queue.ErrPermanent, err)
	}
	_, err := h.Analyze(ctx, req.MentionID)
	return err
}

// Analyze classifies one mention and queues an alert when it is urgent
// enough. A mention that no longer exists is skipped.
func (h *Handler) Analyze(ctx context.Context, mentionID string) (media.Urgency, error) {
	detail, err := h.mentions.GetDetail(ctx, mentionID)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			h.logger.Warn("mention vanished before analysis", zap.String("mention_id", mentionID))
			return "", nil
		}
		return "", fmt.Errorf("load mention %s: %w", mentionID, err)
	}

	analysis, err := h.analyzer.Analyze(ctx, media.AnalysisInput{
		ArticleTitle:      detail.Article.Title,
		ArticleContent:    detail.Article.Content,
		Source:            detail.Article.Source,
		ClientName:        detail.Client.Name,
		ClientDescription: detail.Client.Description,
		ClientIndustry:    detail.Client.Industry,
		Keyword:           detail.Mention.KeywordMatched,
	})
	if err != nil {
		return "", fmt.Errorf("analyze mention %s: %w", mentionID, err)
	}

	urgency := Urgency(analysis.Relevance, analysis.Sentiment, detail.Article.Source)
	if err := h.mentions.UpdateAnalysis(ctx, mentionID, analysis, urgency); err != nil {
		return "", fmt.Errorf("save analysis for %s: %w", mentionID, err)
	}
	h.logger.Info("mention analyzed",
		zap.String("mention_id", mentionID),
		zap.String("client_id", detail.Client.ID),
		zap.String("sentiment", string(analysis.Sentiment)),
		zap.Int("relevance", analysis.Relevance),
		zap.String("urgency", string(urgency)),
	)

	now := h.clock.Now()
	h.notifier.Notify(media.Event{
		Channel:   media.ChannelMentionAnalyzed,
		ID:        mentionID,
		ClientID:  detail.Client.ID,
		OrgID:     detail.Client.OrgID,
		Title:     detail.Article.Title,
		Source:    detail.Article.Source,
		Sentiment: analysis.Sentiment,
		Urgency:   urgency,
		Timestamp: now,
	})
	if urgency == media.UrgencyCritical {
		h.notifier.Notify(media.Event{
			Channel:   media.ChannelCrisisNew,
			ID:        mentionID,
			ClientID:  detail.Client.ID,
			OrgID:     detail.Client.OrgID,
			Title:     detail.Article.Title,
			Source:    detail.Article.Source,
			Severity:  string(urgency),
			Timestamp: now,
		})
	}

	priority, ok := NotifyPriority(urgency)
	if !ok {
		return urgency, nil
	}
	err = h.enqueuer.Add(ctx, queue.NotifyAlert, AlertRequest{MentionID: mentionID}, media.JobOptions{
		Priority:       priority,
		Attempts:       5,
		BackoffDelay:   5 * time.Second,
		IdempotencyKey: "notify:" + mentionID,
	})
	if err != nil {
		return urgency, fmt.Errorf("enqueue alert for %s: %w", mentionID, err)
	}
	return urgency, nil
}
