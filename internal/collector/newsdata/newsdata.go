// Package newsdata queries the NewsData.io news endpoint.
package newsdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/collector"
	"github.com/JakeFAU/mediawatch/internal/media"
)

// DefaultBaseURL is the NewsData.io latest-news endpoint.
const DefaultBaseURL = "https://newsdata.io/api/1/news"

// Config holds credentials and batching.
type Config struct {
	APIKey     string
	BaseURL    string
	BatchSize  int
	MaxAgeDays int
	Timeout    time.Duration
	UserAgent  string
}

// Collector implements collector.Collector.
type Collector struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a NewsData collector.
func New(cfg Config, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	return &Collector{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger.Named("newsdata")}
}

// Name implements collector.Collector.
func (c *Collector) Name() string { return "newsdata" }

type response struct {
	Results []struct {
		Link        string `json:"link"`
		Title       string `json:"title"`
		SourceID    string `json:"source_id"`
		Description string `json:"description"`
		Content     string `json:"content"`
		PubDate     string `json:"pubDate"`
	} `json:"results"`
}

// Collect issues one OR query per batch of keywords. A 429 or 403 stops the
// run and returns what was gathered with collector.ErrQuotaExceeded.
func (c *Collector) Collect(ctx context.Context, keywords []media.Keyword) ([]media.NormalizedArticle, error) {
	if c.cfg.APIKey == "" {
		c.logger.Debug("api key not configured")
		return nil, nil
	}
	var out []media.NormalizedArticle
	for _, batch := range collector.Batches(collector.UniqueWords(keywords), c.cfg.BatchSize) {
		var resp response
		err := collector.GetJSON(ctx, c.client, c.queryURL(batch), c.cfg.UserAgent, &resp)
		var status *collector.StatusError
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return out, ctx.Err()
		case errors.As(err, &status) && status.Quota():
			return out, fmt.Errorf("newsdata %d: %w", status.StatusCode, collector.ErrQuotaExceeded)
		default:
			c.logger.Warn("batch failed", zap.Strings("keywords", batch), zap.Error(err))
			continue
		}
		for _, r := range resp.Results {
			if r.Link == "" {
				continue
			}
			a := media.NormalizedArticle{
				URL:     r.Link,
				Title:   r.Title,
				Source:  r.SourceID,
				Content: r.Description,
			}
			if a.Title == "" {
				a.Title = "Sin titulo"
			}
			if a.Source == "" {
				a.Source = "NewsData"
			}
			if a.Content == "" {
				a.Content = r.Content
			}
			a.PublishedAt = parsePubDate(r.PubDate)
			out = append(out, a)
		}
	}
	return out, nil
}

func (c *Collector) queryURL(batch []string) string {
	q := url.Values{}
	q.Set("apikey", c.cfg.APIKey)
	q.Set("q", strings.Join(batch, " OR "))
	q.Set("language", "es")
	q.Set("size", "10")
	if c.cfg.MaxAgeDays > 0 {
		q.Set("timeframe", strconv.Itoa(c.cfg.MaxAgeDays*24))
	}
	return c.cfg.BaseURL + "?" + q.Encode()
}

// parsePubDate reads the "2006-01-02 15:04:05" UTC stamps NewsData returns.
func parsePubDate(s string) *time.Time {
	for _, layout := range []string{time.DateTime, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
