package social

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/queue"
)

// CommentsRequest is the payload of an extract-social-comments job.
type CommentsRequest struct {
	MentionID   string `json:"mentionId"`
	MaxComments int    `json:"maxComments,omitempty"`
}

// CommentsAPI fetches post comments.
type CommentsAPI interface {
	TikTokComments(ctx context.Context, awemeID string, maxComments int) ([]media.SocialComment, error)
	InstagramComments(ctx context.Context, mediaID string, maxComments int) ([]media.SocialComment, error)
}

// CommentsConfig gates extraction.
type CommentsConfig struct {
	Enabled      bool
	TikTokMax    int
	InstagramMax int
	// Freshness skips posts extracted more recently than this.
	Freshness time.Duration
}

// CommentsExtractor handles extract-social-comments jobs.
type CommentsExtractor struct {
	api    CommentsAPI
	store  media.SocialStore
	clock  media.Clock
	cfg    CommentsConfig
	logger *zap.Logger
}

// NewCommentsExtractor builds the handler.
func NewCommentsExtractor(
	api CommentsAPI,
	store media.SocialStore,
	clock media.Clock,
	cfg CommentsConfig,
	logger *zap.Logger,
) *CommentsExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TikTokMax <= 0 {
		cfg.TikTokMax = 60
	}
	if cfg.InstagramMax <= 0 {
		cfg.InstagramMax = 30
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = time.Hour
	}
	return &CommentsExtractor{api: api, store: store, clock: clock, cfg: cfg, logger: logger.Named("comments")}
}

var videoIDPattern = regexp.MustCompile(`video/(\d+)`)

// tiktokVideoID prefers the numeric ID in the post URL.
func tiktokVideoID(m media.SocialMention) string {
	if match := videoIDPattern.FindStringSubmatch(m.URL); match != nil {
		return match[1]
	}
	return m.PostID
}

// Handle implements worker.Handler.
func (e *CommentsExtractor) Handle(ctx context.Context, job queue.Job) error {
	var req CommentsRequest
	if err := job.Decode(&req); err != nil {
		return fmt.Errorf("decode comments request: %w: %w", queue.ErrPermanent, err)
	}
	_, err := e.Extract(ctx, req)
	return err
}

// Extract fetches and stores comments for one social mention. It returns the
// number stored; skipped requests return zero and no error.
func (e *CommentsExtractor) Extract(ctx context.Context, req CommentsRequest) (int, error) {
	log := e.logger.With(zap.String("social_mention_id", req.MentionID))
	if !e.cfg.Enabled {
		log.Debug("comment extraction disabled")
		return 0, nil
	}
	m, err := e.store.Get(ctx, req.MentionID)
	if errors.Is(err, media.ErrNotFound) {
		log.Warn("social mention not found")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load social mention: %w", err)
	}
	if m.CommentsExtractedAt != nil && e.clock.Now().Sub(*m.CommentsExtractedAt) < e.cfg.Freshness {
		log.Debug("comments recently extracted", zap.Time("extracted_at", *m.CommentsExtractedAt))
		return 0, nil
	}

	var comments []media.SocialComment
	switch m.Platform {
	case media.PlatformTikTok:
		comments, err = e.api.TikTokComments(ctx, tiktokVideoID(m), capAt(req.MaxComments, e.cfg.TikTokMax))
	case media.PlatformInstagram:
		comments, err = e.api.InstagramComments(ctx, m.PostID, capAt(req.MaxComments, e.cfg.InstagramMax))
	default:
		log.Info("comment extraction unsupported", zap.String("platform", string(m.Platform)))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("fetch %s comments: %w", m.Platform, err)
	}
	if err := e.store.SaveComments(ctx, m.ID, comments, e.clock.Now()); err != nil {
		return 0, fmt.Errorf("save comments: %w", err)
	}
	log.Info("comments extracted", zap.Int("count", len(comments)))
	return len(comments), nil
}

// capAt returns requested bounded by limit; zero requested means limit.
func capAt(requested, limit int) int {
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}
