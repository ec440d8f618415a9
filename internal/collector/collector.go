// Package collector defines the source-collector contract and the runner that
// turns collected articles into ingest-article jobs.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/hash/sha256"
	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/metrics"
	"github.com/JakeFAU/mediawatch/internal/queue"
)

var (
	// ErrQuotaExceeded aborts the remaining requests of a collector run.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrUnknownCollector is returned by Runner.Run for an unregistered name.
	ErrUnknownCollector = errors.New("unknown collector")
)

// Collector produces normalized articles for a set of active keywords.
type Collector interface {
	Name() string
	Collect(ctx context.Context, keywords []media.Keyword) ([]media.NormalizedArticle, error)
}

// JobAdder enqueues a job and reports whether it was newly created.
type JobAdder interface {
	AddJob(ctx context.Context, queue string, payload any, opts media.JobOptions) (queue.Job, bool, error)
}

// ArticleKey is the ingest-article idempotency key for url: the SHA-256 of
// the full URL.
func ArticleKey(url string) string {
	sum, _ := sha256.New().Hash([]byte(url))
	return "article:" + sum
}

// UniqueWords returns the distinct keyword words in first-seen order.
func UniqueWords(keywords []media.Keyword) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k.Word == "" {
			continue
		}
		if _, ok := seen[k.Word]; ok {
			continue
		}
		seen[k.Word] = struct{}{}
		out = append(out, k.Word)
	}
	return out
}

// Batches splits words into chunks of at most size.
func Batches(words []string, size int) [][]string {
	if size <= 0 {
		size = len(words)
	}
	var out [][]string
	for start := 0; start < len(words); start += size {
		end := min(start+size, len(words))
		out = append(out, words[start:end])
	}
	return out
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Runner executes collectors by name and enqueues their output.
type Runner struct {
	collectors map[string]Collector
	keywords   media.KeywordStore
	enqueuer   JobAdder
	logger     *zap.Logger
}

// NewRunner registers collectors under their names.
func NewRunner(keywords media.KeywordStore, enqueuer JobAdder, logger *zap.Logger, collectors ...Collector) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		collectors: make(map[string]Collector, len(collectors)),
		keywords:   keywords,
		enqueuer:   enqueuer,
		logger:     logger.Named("collector"),
	}
	for _, c := range collectors {
		r.collectors[c.Name()] = c
	}
	return r
}

// Names lists the registered collectors.
func (r *Runner) Names() []string {
	out := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run collects with the named collector and enqueues one ingest job per
// distinct URL. The count excludes URLs whose ingest job is already pending. Collector failures are logged and yield zero articles so the
// schedule keeps running; only keyword loading and enqueue errors surface.
func (r *Runner) Run(ctx context.Context, name string) (int, error) {
	c, ok := r.collectors[name]
	if !ok {
		return 0, fmt.Errorf("run %q: %w", name, ErrUnknownCollector)
	}
	keywords, err := r.keywords.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("load keywords for %s: %w", name, err)
	}
	logger := r.logger.With(zap.String("collector", name))
	if len(keywords) == 0 {
		logger.Debug("no active keywords")
		metrics.ObserveCollectorRun(name, "empty", 0)
		return 0, nil
	}

	start := time.Now()
	articles, err := c.Collect(ctx, keywords)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("collect %s: %w", name, ctx.Err())
		}
		logger.Warn("collector failed", zap.Error(err))
		metrics.ObserveCollectorRun(name, "error", 0)
		if len(articles) == 0 {
			return 0, nil
		}
	}

	seen := make(map[string]struct{}, len(articles))
	var errs []error
	enqueued, pending := 0, 0
	for _, a := range articles {
		if a.URL == "" {
			continue
		}
		if _, dup := seen[a.URL]; dup {
			continue
		}
		seen[a.URL] = struct{}{}
		_, created, err := r.enqueuer.AddJob(ctx, queue.IngestArticle, a, media.JobOptions{IdempotencyKey: ArticleKey(a.URL)})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !created {
			pending++
			continue
		}
		enqueued++
	}
	metrics.ObserveCollectorRun(name, "ok", enqueued)
	logger.Info("collector run finished",
		zap.Int("articles", len(articles)),
		zap.Int("enqueued", enqueued),
		zap.Int("already_pending", pending),
		zap.Duration("duration", time.Since(start)),
	)
	if len(errs) > 0 {
		return enqueued, fmt.Errorf("enqueue %s articles: %w", name, errors.Join(errs...))
	}
	return enqueued, nil
}
