// Package gdelt queries the GDELT DOC 2.0 article list for keyword batches.
package gdelt

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/collector"
	"github.com/JakeFAU/mediawatch/internal/media"
)

// DefaultBaseURL is the public DOC API endpoint.
const DefaultBaseURL = "https://api.gdeltproject.org/api/v2/doc/doc"

// Config controls batching and the query window.
type Config struct {
	BaseURL    string
	BatchSize  int
	BatchPause time.Duration
	Timespan   string
	MaxRecords int
	Timeout    time.Duration
	UserAgent  string
}

// Collector implements collector.Collector.
type Collector struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a GDELT collector.
func New(cfg Config, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 50
	}
	if cfg.Timespan == "" {
		cfg.Timespan = "15min"
	}
	return &Collector{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger.Named("gdelt")}
}

// Name implements collector.Collector.
func (c *Collector) Name() string { return "gdelt" }

type response struct {
	Articles []struct {
		URL      string `json:"url"`
		Title    string `json:"title"`
		SeenDate string `json:"seendate"`
		Domain   string `json:"domain"`
	} `json:"articles"`
}

// Collect runs one OR query per keyword batch. A failed batch is skipped.
func (c *Collector) Collect(ctx context.Context, keywords []media.Keyword) ([]media.NormalizedArticle, error) {
	batches := collector.Batches(collector.UniqueWords(keywords), c.cfg.BatchSize)
	seen := make(map[string]struct{})
	var out []media.NormalizedArticle
	for i, batch := range batches {
		if i > 0 {
			if err := collector.Sleep(ctx, c.cfg.BatchPause); err != nil {
				return out, err
			}
		}
		var resp response
		if err := collector.GetJSON(ctx, c.client, c.queryURL(batch), c.cfg.UserAgent, &resp); err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			c.logger.Warn("batch failed", zap.Int("batch", i+1), zap.Int("batches", len(batches)), zap.Error(err))
			continue
		}
		for _, a := range resp.Articles {
			if a.URL == "" {
				continue
			}
			if _, dup := seen[a.URL]; dup {
				continue
			}
			seen[a.URL] = struct{}{}
			title := a.Title
			if title == "" {
				title = "Sin titulo"
			}
			out = append(out, media.NormalizedArticle{
				URL:         a.URL,
				Title:       title,
				Source:      a.Domain,
				PublishedAt: parseSeenDate(a.SeenDate),
			})
		}
	}
	return out, nil
}

func (c *Collector) queryURL(batch []string) string {
	quoted := make([]string, len(batch))
	for i, w := range batch {
		quoted[i] = strconv.Quote(w)
	}
	q := url.Values{}
	q.Set("query", "("+strings.Join(quoted, " OR ")+") sourcelang:spanish")
	q.Set("mode", "artlist")
	q.Set("maxrecords", strconv.Itoa(c.cfg.MaxRecords))
	q.Set("format", "json")
	q.Set("timespan", c.cfg.Timespan)
	return c.cfg.BaseURL + "?" + q.Encode()
}

// parseSeenDate accepts both YYYYMMDDHHmmss and YYYYMMDDTHHmmssZ.
func parseSeenDate(s string) *time.Time {
	s = strings.NewReplacer("T", "", "Z", "").Replace(s)
	t, err := time.Parse("20060102150405", s)
	if err != nil {
		return nil
	}
	return &t
}

