// Package ingest persists collected articles once and fans keyword matches
// out to the mention factory.
package ingest

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

// Result classifies what happened to an incoming article.
type Result string

// Ingestion results.
const (
	ResultCreated          Result = "created"
	ResultDuplicateURL     Result = "duplicate_url"
	ResultDuplicateContent Result = "duplicate_content"
	ResultTooOld           Result = "too_old"
	ResultInvalid          Result = "invalid"
)

// Outcome reports one ingestion.
type Outcome struct {
	Result    Result
	ArticleID string
	Mentions  int
}

// MentionMaker creates a mention for a keyword match.
type MentionMaker interface {
	FromMatch(ctx context.Context, article media.Article, client media.Client, keyword string) (media.Mention, bool, error)
}

// Ingester handles ingest-article jobs.
type Ingester struct {
	articles media.ArticleStore
	keywords media.KeywordStore
	mentions MentionMaker
	hasher   media.Hasher
	clock    media.Clock
	maxAge   time.Duration
	logger   *zap.Logger
}

// New builds an Ingester. Articles published more than maxAge ago are dropped.
func New(
	articles media.ArticleStore,
	keywords media.KeywordStore,
	mentions MentionMaker,
	hasher media.Hasher,
	clock media.Clock,
	maxAge time.Duration,
	logger *zap.Logger,
) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAge <= 0 {
		maxAge = 48 * time.Hour
	}
	return &Ingester{
		articles: articles,
		keywords: keywords,
		mentions: mentions,
		hasher:   hasher,
		clock:    clock,
		maxAge:   maxAge,
		logger:   logger.Named("ingest"),
	}
}

// Handle implements worker.Handler.
func (i *Ingester) Handle(ctx context.Context, job queue.Job) error {
	var a media.NormalizedArticle
	if err := job.Decode(&a); err != nil {
		return fmt.Errorf("decode article: %w: %w", queue.ErrPermanent, err)
	}
	_, err := i.Ingest(ctx, a)
	return err
}

// Ingest deduplicates, ages out, persists and matches one article. Re-running
// it for an already stored URL is a no-op.
func (i *Ingester) Ingest(ctx context.Context, in media.NormalizedArticle) (Outcome, error) {
	log := i.logger.With(zap.String("url", in.URL))
	if in.URL == "" {
		metrics.ObserveArticle(string(ResultInvalid))
		return Outcome{Result: ResultInvalid}, nil
	}

	exists, err := i.articles.ExistsByURL(ctx, in.URL)
	if err != nil {
		return Outcome{}, fmt.Errorf("check url: %w", err)
	}
	if exists {
		return i.skip(log, ResultDuplicateURL), nil
	}

	var hash string
	if in.Content != "" {
		if hash, err = i.hasher.Hash([]byte(in.Content)); err != nil {
			return Outcome{}, fmt.Errorf("hash content: %w", err)
		}
		dup, err := i.articles.ExistsByContentHash(ctx, hash)
		if err != nil {
			return Outcome{}, fmt.Errorf("check content hash: %w", err)
		}
		if dup {
			return i.skip(log, ResultDuplicateContent), nil
		}
	}

	if in.PublishedAt != nil && in.PublishedAt.Before(i.clock.Now().Add(-i.maxAge)) {
		return i.skip(log, ResultTooOld), nil
	}

	article, err := i.articles.Create(ctx, media.Article{
		URL:         in.URL,
		Title:       in.Title,
		Source:      in.Source,
		Content:     in.Content,
		ContentHash: hash,
		PublishedAt: in.PublishedAt,
	})
	if errors.Is(err, media.ErrDuplicate) {
		return i.skip(log, ResultDuplicateURL), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("save article: %w", err)
	}
	metrics.ObserveArticle(string(ResultCreated))

	out := Outcome{Result: ResultCreated, ArticleID: article.ID}
	matches, err := i.match(ctx, article)
	if err != nil {
		return out, err
	}
	for _, m := range matches {
		_, created, err := i.mentions.FromMatch(ctx, article, *m.Client, m.Word)
		if err != nil {
			// The article is stored, so a retry would stop at URL dedup.
			log.Error("create mention failed",
				zap.String("article_id", article.ID),
				zap.String("client_id", m.ClientID),
				zap.Error(err),
			)
			continue
		}
		if created {
			out.Mentions++
		}
	}
	log.Debug("article ingested",
		zap.String("article_id", article.ID),
		zap.Int("matches", len(matches)),
		zap.Int("mentions", out.Mentions),
	)
	return out, nil
}

func (i *Ingester) skip(log *zap.Logger, r Result) Outcome {
	metrics.ObserveArticle(string(r))
	log.Debug("article skipped", zap.String("result", string(r)))
	return Outcome{Result: r}
}

// match returns the first matching keyword of each client, in keyword order.
func (i *Ingester) match(ctx context.Context, article media.Article) ([]media.Keyword, error) {
	keywords, err := i.keywords.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load keywords: %w", err)
	}
	text := article.Text()
	seen := make(map[string]struct{})
	var out []media.Keyword
	for _, k := range keywords {
		if k.Client == nil || !k.Client.Active || !k.Active {
			continue
		}
		if _, ok := seen[k.ClientID]; ok {
			continue
		}
		if media.ContainsFolded(text, k.Word) {
			seen[k.ClientID] = struct{}{}
			out = append(out, k)
		}
	}
	return out, nil
}
