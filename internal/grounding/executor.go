// Package grounding runs broad news searches for a client and turns the
// results into mentions. It also decides when such a search is due.
package grounding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/mediawatch/internal/collector"
	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/mention"
	"github.com/JakeFAU/mediawatch/internal/queue"
)

// Config tunes the executor.
type Config struct {
	// ExtraKeywords caps how many non-name keywords are searched as well.
	ExtraKeywords int
	// SearchPause separates consecutive extra-keyword searches.
	SearchPause time.Duration
	// DBSupplement caps stored articles added to the search results.
	DBSupplement int
	// PrefilterCutoff is the confidence an article that does not name the
	// client needs to become a mention.
	PrefilterCutoff float64
}

func (c Config) withDefaults() Config {
	if c.ExtraKeywords <= 0 {
		c.ExtraKeywords = 3
	}
	if c.SearchPause < 0 {
		c.SearchPause = 0
	}
	if c.DBSupplement <= 0 {
		c.DBSupplement = 20
	}
	if c.PrefilterCutoff <= 0 {
		c.PrefilterCutoff = 0.5
	}
	return c
}

// Executor runs grounding-execute jobs.
type Executor struct {
	clients   media.ClientStore
	keywords  media.KeywordStore
	articles  media.ArticleStore
	mentions  media.MentionStore
	factory   *mention.Factory
	prefilter media.Prefilter
	searchers []Searcher
	clock     media.Clock
	cfg       Config
	logger    *zap.Logger
}

// Stores groups the repositories the executor reads and writes.
type Stores struct {
	Clients  media.ClientStore
	Keywords media.KeywordStore
	Articles media.ArticleStore
	Mentions media.MentionStore
}

// NewExecutor builds an Executor. prefilter may be nil, in which case
// articles that do not name the client are dropped.
func NewExecutor(
	stores Stores,
	factory *mention.Factory,
	prefilter media.Prefilter,
	searchers []Searcher,
	clock media.Clock,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		clients:   stores.Clients,
		keywords:  stores.Keywords,
		articles:  stores.Articles,
		mentions:  stores.Mentions,
		factory:   factory,
		prefilter: prefilter,
		searchers: searchers,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		logger:    logger.Named("grounding"),
	}
}

// Handle implements worker.Handler. Search failures are recorded on the
// client rather than retried.
func (e *Executor) Handle(ctx context.Context, job queue.Job) error {
	var req media.GroundingRequest
	if err := job.Decode(&req); err != nil {
		return fmt.Errorf("decode grounding request: %w: %w", queue.ErrPermanent, err)
	}
	if req.ClientID == "" {
		return fmt.Errorf("grounding request without client: %w", queue.ErrPermanent)
	}
	_, err := e.Execute(ctx, req)
	return err
}

// found is a search result resolved to a stored article.
type found struct {
	article media.Article
	snippet string
}

// Execute searches for req.ClientName, stores what it finds and records the
// outcome on the client. The returned error is non-nil only when the outcome
// could not be recorded.
func (e *Executor) Execute(ctx context.Context, req media.GroundingRequest) (media.GroundingResult, error) {
	executedAt := e.clock.Now()
	if req.Trigger == "" {
		req.Trigger = media.TriggerManual
	}
	if req.Days <= 0 {
		req.Days = 7
	}
	logger := e.logger.With(
		zap.String("client_id", req.ClientID),
		zap.String("client", req.ClientName),
		zap.String("trigger", string(req.Trigger)),
	)

	result, err := e.run(ctx, req, logger)
	result.Trigger = req.Trigger
	result.ExecutedAt = executedAt
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		logger.Error("grounding failed", zap.Error(err))
		result = media.GroundingResult{Trigger: req.Trigger, ExecutedAt: executedAt, Error: err.Error()}
	} else {
		result.Success = true
		logger.Info("grounding complete",
			zap.Int("articles_found", result.ArticlesFound),
			zap.Int("mentions_created", result.MentionsCreated),
		)
	}

	if err := e.clients.UpdateGrounding(ctx, req.ClientID, executedAt, result); err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return result, nil
		}
		return result, fmt.Errorf("record grounding for %s: %w", req.ClientID, err)
	}
	return result, nil
}

func (e *Executor) run(ctx context.Context, req media.GroundingRequest, logger *zap.Logger) (media.GroundingResult, error) {
	client, err := e.clients.Get(ctx, req.ClientID)
	if err != nil {
		return media.GroundingResult{}, fmt.Errorf("load client: %w", err)
	}
	name := req.ClientName
	if name == "" {
		name = client.Name
	}

	hits := e.searchAll(ctx, name, logger)
	extra, err := e.extraTerms(ctx, client.ID, name)
	if err != nil {
		return media.GroundingResult{}, err
	}
	for _, term := range extra {
		if err := collector.Sleep(ctx, e.cfg.SearchPause); err != nil {
			return media.GroundingResult{}, err
		}
		hits = append(hits, e.searchAll(ctx, term, logger)...)
	}

	var articles []found
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		key := media.NormalizeURL(h.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		a, err := e.findOrCreate(ctx, h)
		if err != nil {
			return media.GroundingResult{}, err
		}
		articles = append(articles, found{article: a, snippet: h.Snippet})
	}
	fromSearch := len(articles)

	ids := make([]string, 0, len(articles))
	for _, f := range articles {
		ids = append(ids, f.article.ID)
	}
	since := e.clock.Now().AddDate(0, 0, -req.Days)
	stored, err := e.articles.SearchRecent(ctx, name, since, ids, e.cfg.DBSupplement)
	if err != nil {
		return media.GroundingResult{}, fmt.Errorf("search stored articles: %w", err)
	}
	for _, a := range stored {
		articles = append(articles, found{article: a, snippet: truncateRunes(a.Content, 300)})
	}
	logger.Debug("grounding candidates",
		zap.Int("from_search", fromSearch),
		zap.Int("from_store", len(stored)),
	)

	client.Name = name
	created := 0
	for _, f := range articles {
		ok, err := e.consider(ctx, client, f)
		if err != nil {
			if ctx.Err() != nil {
				return media.GroundingResult{}, ctx.Err()
			}
			logger.Warn("grounding mention failed", zap.String("article_id", f.article.ID), zap.Error(err))
			continue
		}
		if ok {
			created++
		}
	}
	return media.GroundingResult{ArticlesFound: len(articles), MentionsCreated: created}, nil
}

// searchAll runs every searcher for term concurrently. Individual failures
// are logged and contribute no hits.
func (e *Executor) searchAll(ctx context.Context, term string, logger *zap.Logger) []Hit {
	out := make([][]Hit, len(e.searchers))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range e.searchers {
		g.Go(func() error {
			hits, err := s.Search(gctx, term)
			if err != nil {
				logger.Warn("search failed", zap.String("searcher", s.Name()), zap.String("term", term), zap.Error(err))
				return nil
			}
			out[i] = hits
			return nil
		})
	}
	_ = g.Wait()
	var hits []Hit
	for _, h := range out {
		hits = append(hits, h...)
	}
	return hits
}

// extraTerms returns up to ExtraKeywords active keywords longer than three
// characters that differ from the client name.
func (e *Executor) extraTerms(ctx context.Context, clientID, name string) ([]string, error) {
	keywords, err := e.keywords.ListActiveForClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load keywords: %w", err)
	}
	var terms []string
	for _, w := range collector.UniqueWords(keywords) {
		if len([]rune(w)) <= 3 || strings.EqualFold(w, name) {
			continue
		}
		terms = append(terms, w)
		if len(terms) == e.cfg.ExtraKeywords {
			break
		}
	}
	return terms, nil
}

func (e *Executor) findOrCreate(ctx context.Context, h Hit) (media.Article, error) {
	a, err := e.articles.GetByURL(ctx, h.URL)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, media.ErrNotFound) {
		return media.Article{}, fmt.Errorf("find article: %w", err)
	}
	a, err = e.articles.Create(ctx, media.Article{
		URL:         h.URL,
		Title:       h.Title,
		Source:      h.Source,
		Content:     h.Snippet,
		PublishedAt: h.PublishedAt,
	})
	if errors.Is(err, media.ErrDuplicate) {
		return e.articles.GetByURL(ctx, h.URL)
	}
	if err != nil {
		return media.Article{}, fmt.Errorf("create article: %w", err)
	}
	return a, nil
}

// consider turns one candidate into a mention when it passes the name check
// or the prefilter. Prefilter errors drop the candidate.
func (e *Executor) consider(ctx context.Context, client media.Client, f found) (bool, error) {
	exists, err := e.mentions.Exists(ctx, f.article.ID, client.ID)
	if err != nil {
		return false, fmt.Errorf("check mention: %w", err)
	}
	if exists {
		return false, nil
	}
	if !media.ContainsFolded(f.article.Title+" "+f.snippet, client.Name) && !e.admit(ctx, client, f) {
		return false, nil
	}
	_, created, err := e.factory.Create(ctx, mention.Draft{
		Article:   f.article,
		Client:    client,
		Keyword:   client.Name,
		Snippet:   f.snippet,
		Sentiment: media.SentimentNeutral,
		Relevance: 6,
		Origin:    "grounding",
	})
	return created, err
}

func (e *Executor) admit(ctx context.Context, client media.Client, f found) bool {
	if e.prefilter == nil {
		return false
	}
	res, err := e.prefilter.Check(ctx, media.PrefilterInput{
		ArticleTitle:      f.article.Title,
		ArticleContent:    f.snippet,
		ClientName:        client.Name,
		ClientDescription: client.Description,
		Keyword:           client.Name,
	})
	if err != nil {
		e.logger.Debug("prefilter error, skipping candidate", zap.String("article_id", f.article.ID), zap.Error(err))
		return false
	}
	return res.Relevant && res.Confidence >= e.cfg.PrefilterCutoff
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
