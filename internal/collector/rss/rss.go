// Package rss polls the configured news feeds and keeps per-source health.
package rss

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/mediawatch/internal/collector"
	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/metrics"
)

const maxFeedBytes = 10 << 20

// Feed is a statically configured fallback feed.
type Feed struct {
	Name string
	URL  string
}

// Config controls polling.
type Config struct {
	Timeout             time.Duration
	MaxRedirects        int
	Retries             int
	RetryDelay          time.Duration
	DeactivateThreshold int
	Concurrency         int
	UserAgent           string
	Fallback            []Feed
}

// Collector implements collector.Collector over RSS and Atom feeds.
type Collector struct {
	sources media.SourceStore
	clock   media.Clock
	cfg     Config
	client  *http.Client
	parser  *gofeed.Parser
	policy  *bluemonday.Policy
	logger  *zap.Logger
}

// New builds a feed collector.
func New(sources media.SourceStore, clock media.Clock, cfg Config, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; mediawatch/1.0)"
	}
	c := &Collector{
		sources: sources,
		clock:   clock,
		cfg:     cfg,
		parser:  gofeed.NewParser(),
		policy:  bluemonday.StrictPolicy(),
		logger:  logger.Named("rss"),
	}
	c.client = &http.Client{Timeout: cfg.Timeout, CheckRedirect: c.checkRedirect}
	return c
}

// Name implements collector.Collector.
func (c *Collector) Name() string { return "rss" }

func (c *Collector) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > c.cfg.MaxRedirects {
		return fmt.Errorf("stopped after %d redirects: %w", c.cfg.MaxRedirects, errRedirectLoop)
	}
	for _, prev := range via {
		if prev.URL.String() == req.URL.String() {
			return fmt.Errorf("revisited %s: %w", req.URL, errRedirectLoop)
		}
	}
	return nil
}

type source struct {
	id   string
	name string
	url  string
}

func (c *Collector) listSources(ctx context.Context) []source {
	stored, err := c.sources.ListActive(ctx)
	if err != nil {
		c.logger.Warn("list sources failed, using fallback feeds", zap.Error(err))
	}
	out := make([]source, 0, len(stored))
	for _, s := range stored {
		out = append(out, source{id: s.ID, name: s.Name, url: s.URL})
	}
	if len(out) > 0 {
		return out
	}
	for _, f := range c.cfg.Fallback {
		out = append(out, source{name: f.Name, url: f.URL})
	}
	return out
}

// Collect fetches every active feed and keeps items whose title or summary
// mentions a keyword. Failing feeds are counted against their source.
func (c *Collector) Collect(ctx context.Context, keywords []media.Keyword) ([]media.NormalizedArticle, error) {
	words := collector.UniqueWords(keywords)
	if len(words) == 0 {
		return nil, nil
	}
	sources := c.listSources(ctx)
	results := make([][]media.NormalizedArticle, len(sources))
	var (
		mu     sync.Mutex
		failed = map[ErrorType]int{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			feed, final, err := c.fetch(gctx, src.url)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				fe := classify(err)
				mu.Lock()
				failed[fe.Type]++
				mu.Unlock()
				metrics.ObserveSourceError(src.url, string(fe.Type))
				c.logger.Warn("feed failed",
					zap.String("source", src.name),
					zap.String("type", string(fe.Type)),
					zap.Error(err),
				)
				c.record(gctx, src, false)
				return nil
			}
			if src.id != "" && final != "" && final != src.url {
				if err := c.sources.UpdateURL(gctx, src.id, final); err != nil {
					c.logger.Warn("update feed url failed", zap.String("source", src.name), zap.Error(err))
				}
			}
			c.record(gctx, src, true)
			results[i] = c.match(feed, src.name, words)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collect feeds: %w", err)
	}

	if n, err := c.DeactivateFailing(ctx); err != nil {
		c.logger.Warn("deactivate sources failed", zap.Error(err))
	} else if n > 0 {
		c.logger.Warn("sources deactivated", zap.Int64("count", n))
	}

	var out []media.NormalizedArticle
	for _, r := range results {
		out = append(out, r...)
	}
	c.logger.Info("feeds polled",
		zap.Int("sources", len(sources)),
		zap.Any("failures", failed),
		zap.Int("matched", len(out)),
	)
	return out, nil
}

// DeactivateFailing disables sources at or above the error threshold.
func (c *Collector) DeactivateFailing(ctx context.Context) (int64, error) {
	if c.cfg.DeactivateThreshold <= 0 {
		return 0, nil
	}
	n, err := c.sources.DeactivateFailing(ctx, c.cfg.DeactivateThreshold)
	if err != nil {
		return 0, fmt.Errorf("deactivate failing sources: %w", err)
	}
	return n, nil
}

func (c *Collector) record(ctx context.Context, src source, ok bool) {
	if src.id == "" {
		return
	}
	var err error
	if ok {
		err = c.sources.RecordSuccess(ctx, src.id, c.clock.Now())
	} else {
		err = c.sources.RecordFailure(ctx, src.id)
	}
	if err != nil {
		c.logger.Warn("record source health failed", zap.String("source", src.name), zap.Error(err))
	}
}

// fetch retries fetchOnce with linear backoff. It returns the final URL after
// redirects.
func (c *Collector) fetch(ctx context.Context, url string) (*gofeed.Feed, string, error) {
	var last *FetchError
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		feed, final, err := c.fetchOnce(ctx, url)
		if err == nil {
			return feed, final, nil
		}
		last = classify(err)
		if !last.Retryable() || attempt == c.cfg.Retries {
			break
		}
		if err := collector.Sleep(ctx, c.cfg.RetryDelay*time.Duration(attempt+1)); err != nil {
			return nil, "", err
		}
	}
	return nil, "", last
}

func (c *Collector) fetchOnce(ctx context.Context, url string) (*gofeed.Feed, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", &FetchError{Type: ErrUnknown, Err: err}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml, */*")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &FetchError{Type: ErrHTTP, StatusCode: resp.StatusCode, Err: fmt.Errorf("status %s", resp.Status)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, "", classify(err)
	}
	if isHTML(resp.Header.Get("Content-Type"), body) {
		return nil, "", &FetchError{Type: ErrHTMLResponse, Err: fmt.Errorf("got html page %q", pageTitle(body))}
	}
	feed, err := c.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, "", &FetchError{Type: ErrParse, Err: err}
	}
	return feed, resp.Request.URL.String(), nil
}

func (c *Collector) match(feed *gofeed.Feed, sourceName string, words []string) []media.NormalizedArticle {
	var out []media.NormalizedArticle
	for _, item := range feed.Items {
		if item == nil || item.Link == "" || item.Title == "" {
			continue
		}
		snippet := c.plain(item.Description)
		if snippet == "" {
			snippet = c.plain(item.Content)
		}
		text := item.Title + " " + snippet
		if !matchesAny(text, words) {
			continue
		}
		a := media.NormalizedArticle{
			URL:     strings.TrimSpace(item.Link),
			Title:   strings.TrimSpace(item.Title),
			Source:  sourceName,
			Content: snippet,
		}
		switch {
		case item.PublishedParsed != nil:
			t := item.PublishedParsed.UTC()
			a.PublishedAt = &t
		case item.UpdatedParsed != nil:
			t := item.UpdatedParsed.UTC()
			a.PublishedAt = &t
		}
		out = append(out, a)
	}
	return out
}

// plain strips markup and collapses whitespace.
func (c *Collector) plain(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(html.UnescapeString(c.policy.Sanitize(s))), " ")
}

func matchesAny(text string, words []string) bool {
	for _, w := range words {
		if media.ContainsFolded(text, w) {
			return true
		}
	}
	return false
}

func isHTML(contentType string, body []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 200)])))
	if strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html") {
		return true
	}
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return false
	}
	return !strings.HasPrefix(head, "<?xml") && !strings.HasPrefix(head, "<rss") && !strings.HasPrefix(head, "<feed")
}

func pageTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
