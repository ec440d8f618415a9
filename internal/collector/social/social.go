// Package social sweeps Twitter, Instagram and TikTok through EnsembleData
// and stores what it finds as social mentions.
package social

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/collector"
	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/metrics"
)

// API is the subset of Client the collector calls.
type API interface {
	Configured() bool
	TwitterUserPosts(ctx context.Context, username string, maxPosts, maxAgeDays int) ([]Post, error)
	InstagramUserPosts(ctx context.Context, username string, maxPosts, maxAgeDays int) ([]Post, error)
	InstagramHashtagPosts(ctx context.Context, hashtag string, maxPosts, maxAgeDays int) ([]Post, error)
	TikTokUserPosts(ctx context.Context, username string, maxPosts, maxAgeDays int) ([]Post, error)
	TikTokHashtagPosts(ctx context.Context, hashtag string, maxPosts, maxAgeDays int) ([]Post, error)
	TikTokSearch(ctx context.Context, query string, maxPosts, maxAgeDays int) ([]Post, error)
}

// Config tunes the sweep.
type Config struct {
	MaxPosts    int
	MaxAgeDays  int
	CallDelay   time.Duration
	MaxKeywords int
}

// Options narrow a single-client run.
type Options struct {
	// Platforms limits handle and hashtag sweeps. Empty means all.
	Platforms    []media.Platform
	SkipHandles  bool
	SkipHashtags bool
	SkipKeywords bool
}

// Stats summarizes a run.
type Stats struct {
	Clients   int `json:"clients"`
	Sources   int `json:"sources"`
	Collected int `json:"collected"`
	New       int `json:"new"`
	Errors    int `json:"errors"`
}

func (s *Stats) add(o Stats) {
	s.Sources += o.Sources
	s.Collected += o.Collected
	s.New += o.New
	s.Errors += o.Errors
}

// Collector runs social sweeps.
type Collector struct {
	api      API
	clients  media.ClientStore
	keywords media.KeywordStore
	store    media.SocialStore
	notifier media.Notifier
	clock    media.Clock
	cfg      Config
	logger   *zap.Logger
}

// New builds a Collector.
func New(
	api API,
	clients media.ClientStore,
	keywords media.KeywordStore,
	store media.SocialStore,
	notifier media.Notifier,
	clock media.Clock,
	cfg Config,
	logger *zap.Logger,
) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = media.NopNotifier{}
	}
	if cfg.MaxPosts <= 0 {
		cfg.MaxPosts = 20
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = 5
	}
	return &Collector{
		api:      api,
		clients:  clients,
		keywords: keywords,
		store:    store,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("social"),
	}
}

// CollectAll sweeps every active client with social monitoring enabled.
// Per-source failures are counted, never fatal.
func (c *Collector) CollectAll(ctx context.Context) (Stats, error) {
	var stats Stats
	if !c.api.Configured() {
		c.logger.Debug("ensembledata not configured")
		return stats, nil
	}
	clients, err := c.clients.ListActive(ctx)
	if err != nil {
		return stats, fmt.Errorf("list clients: %w", err)
	}
	for _, client := range clients {
		if !client.Social.Enabled {
			continue
		}
		s, err := c.collect(ctx, client, Options{})
		if err != nil {
			return stats, err
		}
		stats.Clients++
		stats.add(s)
	}
	status := "ok"
	if stats.Errors > 0 {
		status = "partial"
	}
	metrics.ObserveCollectorRun("social", status, stats.New)
	c.logger.Info("social sweep finished",
		zap.Int("clients", stats.Clients),
		zap.Int("collected", stats.Collected),
		zap.Int("new", stats.New),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

// CollectClient sweeps one client on demand.
func (c *Collector) CollectClient(ctx context.Context, clientID string, opts Options) (Stats, error) {
	if !c.api.Configured() {
		return Stats{}, ErrNotConfigured
	}
	client, err := c.clients.Get(ctx, clientID)
	if err != nil {
		return Stats{}, fmt.Errorf("load client %s: %w", clientID, err)
	}
	stats, err := c.collect(ctx, client, opts)
	stats.Clients = 1
	return stats, err
}

type fetchFunc func(ctx context.Context) ([]Post, error)

// collect only returns an error when ctx ends.
func (c *Collector) collect(ctx context.Context, client media.Client, opts Options) (Stats, error) {
	var stats Stats
	run := func(kind media.SocialSourceType, value string, fetch fetchFunc) error {
		if err := collector.Sleep(ctx, c.cfg.CallDelay); err != nil {
			return err
		}
		stats.Sources++
		posts, err := fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Errors++
			metrics.ObserveSourceError("ensembledata", string(kind))
			c.logger.Warn("social source failed",
				zap.String("client_id", client.ID),
				zap.String("source_type", string(kind)),
				zap.String("source", value),
				zap.Error(err),
			)
			return nil
		}
		stats.Collected += len(posts)
		stats.New += c.save(ctx, client, kind, value, posts)
		return nil
	}

	platforms := client.Social.Platforms
	if len(opts.Platforms) > 0 {
		platforms = opts.Platforms
	}
	enabled := func(p media.Platform) bool {
		return len(platforms) == 0 || slices.Contains(platforms, p)
	}

	if !opts.SkipHandles {
		for _, h := range client.Social.Handles {
			for _, target := range c.handleTargets(h, enabled) {
				if err := run(media.SourceHandle, target.handle, target.fetch); err != nil {
					return stats, err
				}
			}
		}
	}
	if !opts.SkipHashtags {
		for _, tag := range client.Social.Hashtags {
			if enabled(media.PlatformInstagram) {
				if err := run(media.SourceHashtag, tag, func(ctx context.Context) ([]Post, error) {
					return c.api.InstagramHashtagPosts(ctx, tag, c.cfg.MaxPosts, c.cfg.MaxAgeDays)
				}); err != nil {
					return stats, err
				}
			}
			if enabled(media.PlatformTikTok) {
				if err := run(media.SourceHashtag, tag, func(ctx context.Context) ([]Post, error) {
					return c.api.TikTokHashtagPosts(ctx, tag, c.cfg.MaxPosts, c.cfg.MaxAgeDays)
				}); err != nil {
					return stats, err
				}
			}
		}
	}
	if !opts.SkipKeywords && enabled(media.PlatformTikTok) {
		words, err := c.searchTerms(ctx, client.ID)
		if err != nil {
			stats.Errors++
			c.logger.Warn("load keywords failed", zap.String("client_id", client.ID), zap.Error(err))
		}
		for _, w := range words {
			if err := run(media.SourceKeyword, w, func(ctx context.Context) ([]Post, error) {
				return c.api.TikTokSearch(ctx, w, c.cfg.MaxPosts, c.cfg.MaxAgeDays)
			}); err != nil {
				return stats, err
			}
		}
	}
	return stats, nil
}

type handleTarget struct {
	handle string
	fetch  fetchFunc
}

// handleTargets expands a configured handle. "tiktok:acme" pins a platform;
// a bare "acme" is swept on every enabled platform.
func (c *Collector) handleTargets(raw string, enabled func(media.Platform) bool) []handleTarget {
	platforms := []media.Platform{media.PlatformTwitter, media.PlatformInstagram, media.PlatformTikTok}
	handle := raw
	if prefix, rest, ok := strings.Cut(raw, ":"); ok {
		p := media.Platform(strings.ToUpper(prefix))
		if slices.Contains(platforms, p) {
			platforms = []media.Platform{p}
			handle = rest
		}
	}
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return nil
	}
	var out []handleTarget
	for _, p := range platforms {
		if !enabled(p) {
			continue
		}
		var fetch fetchFunc
		switch p {
		case media.PlatformTwitter:
			fetch = func(ctx context.Context) ([]Post, error) {
				return c.api.TwitterUserPosts(ctx, handle, c.cfg.MaxPosts, c.cfg.MaxAgeDays)
			}
		case media.PlatformInstagram:
			fetch = func(ctx context.Context) ([]Post, error) {
				return c.api.InstagramUserPosts(ctx, handle, c.cfg.MaxPosts, c.cfg.MaxAgeDays)
			}
		case media.PlatformTikTok:
			fetch = func(ctx context.Context) ([]Post, error) {
				return c.api.TikTokUserPosts(ctx, handle, c.cfg.MaxPosts, c.cfg.MaxAgeDays)
			}
		}
		out = append(out, handleTarget{handle: handle, fetch: fetch})
	}
	return out
}

// searchTerms returns the client's NAME and BRAND keywords, capped.
func (c *Collector) searchTerms(ctx context.Context, clientID string) ([]string, error) {
	keywords, err := c.keywords.ListActiveForClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keywords {
		if k.Type != media.KeywordName && k.Type != media.KeywordBrand {
			continue
		}
		if slices.Contains(out, k.Word) {
			continue
		}
		out = append(out, k.Word)
		if len(out) == c.cfg.MaxKeywords {
			break
		}
	}
	return out, nil
}

// save stores posts, refreshing counters of known ones, and returns how many
// were new.
func (c *Collector) save(
	ctx context.Context,
	client media.Client,
	kind media.SocialSourceType,
	value string,
	posts []Post,
) int {
	created := 0
	for _, p := range posts {
		if p.PostID == "" {
			continue
		}
		m, err := c.store.Create(ctx, media.SocialMention{
			ClientID:    client.ID,
			Platform:    p.Platform,
			PostID:      p.PostID,
			URL:         p.URL,
			Author:      p.Author,
			AuthorName:  p.AuthorName,
			Content:     p.Content,
			PostedAt:    p.PostedAt,
			Likes:       p.Likes,
			Comments:    p.Comments,
			Shares:      p.Shares,
			Views:       p.Views,
			SourceType:  kind,
			SourceValue: value,
		})
		if errors.Is(err, media.ErrDuplicate) {
			if err := c.store.UpdateEngagement(ctx, p.Platform, p.PostID, p.Likes, p.Comments, p.Shares, p.Views); err != nil {
				c.logger.Warn("update engagement failed", zap.String("post_id", p.PostID), zap.Error(err))
			}
			continue
		}
		if err != nil {
			c.logger.Warn("save social post failed", zap.String("post_id", p.PostID), zap.Error(err))
			continue
		}
		created++
		metrics.ObserveMention("social")
		c.notifier.Notify(media.Event{
			Channel:   media.ChannelSocialNew,
			ID:        m.ID,
			ClientID:  client.ID,
			OrgID:     client.OrgID,
			Title:     truncate(p.Content, 100),
			Platform:  p.Platform,
			Source:    p.Author,
			Timestamp: c.clock.Now(),
		})
	}
	return created
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
