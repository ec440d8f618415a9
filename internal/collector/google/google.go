// Package google queries the Programmable Search (Custom Search JSON) API.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/collector"
	"github.com/JakeFAU/mediawatch/internal/media"
)

// DefaultBaseURL is the Custom Search endpoint.
const DefaultBaseURL = "https://www.googleapis.com/customsearch/v1"

// Config holds credentials and limits.
type Config struct {
	APIKey      string
	CX          string
	BaseURL     string
	MaxKeywords int
	MaxAgeDays  int
	Timeout     time.Duration
	UserAgent   string
}

// Collector implements collector.Collector.
type Collector struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a search collector.
func New(cfg Config, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = 8
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 2
	}
	return &Collector{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger.Named("google")}
}

// Name implements collector.Collector.
func (c *Collector) Name() string { return "google" }

type response struct {
	Items []struct {
		Link        string `json:"link"`
		Title       string `json:"title"`
		DisplayLink string `json:"displayLink"`
		Snippet     string `json:"snippet"`
		Pagemap     struct {
			Metatags []map[string]string `json:"metatags"`
		} `json:"pagemap"`
	} `json:"items"`
}

var dateTags = []string{"article:published_time", "og:article:published_time", "date", "publisheddate"}

// Collect searches the first MaxKeywords words one at a time.
func (c *Collector) Collect(ctx context.Context, keywords []media.Keyword) ([]media.NormalizedArticle, error) {
	if c.cfg.APIKey == "" || c.cfg.CX == "" {
		c.logger.Debug("custom search not configured")
		return nil, nil
	}
	words := collector.UniqueWords(keywords)
	if len(words) > c.cfg.MaxKeywords {
		words = words[:c.cfg.MaxKeywords]
	}
	var out []media.NormalizedArticle
	for _, word := range words {
		var resp response
		err := collector.GetJSON(ctx, c.client, c.queryURL(word), c.cfg.UserAgent, &resp)
		var status *collector.StatusError
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return out, ctx.Err()
		case errors.As(err, &status) && status.Quota():
			return out, fmt.Errorf("custom search %d: %w", status.StatusCode, collector.ErrQuotaExceeded)
		default:
			c.logger.Warn("search failed", zap.String("keyword", word), zap.Error(err))
			continue
		}
		for _, item := range resp.Items {
			if item.Link == "" {
				continue
			}
			a := media.NormalizedArticle{
				URL:     item.Link,
				Title:   item.Title,
				Source:  item.DisplayLink,
				Content: item.Snippet,
			}
			if a.Source == "" {
				a.Source = "Google"
			}
			if len(item.Pagemap.Metatags) > 0 {
				a.PublishedAt = publishedFrom(item.Pagemap.Metatags[0])
			}
			out = append(out, a)
		}
	}
	return out, nil
}

func (c *Collector) queryURL(word string) string {
	q := url.Values{}
	q.Set("key", c.cfg.APIKey)
	q.Set("cx", c.cfg.CX)
	q.Set("q", strconv.Quote(word)+" noticias")
	q.Set("lr", "lang_es")
	q.Set("sort", "date")
	q.Set("dateRestrict", "d"+strconv.Itoa(c.cfg.MaxAgeDays))
	q.Set("num", "5")
	return c.cfg.BaseURL + "?" + q.Encode()
}

func publishedFrom(tags map[string]string) *time.Time {
	for _, key := range dateTags {
		raw := tags[key]
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", time.DateOnly} {
			if t, err := time.Parse(layout, raw); err == nil {
				return &t
			}
		}
	}
	return nil
}
