package grounding

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/mediawatch/internal/media"
)

// Default search endpoints.
const (
	DefaultGoogleNewsURL = "https://news.google.com/rss/search"
	DefaultBingNewsURL   = "https://www.bing.com/news/search"
)

const maxFeedBytes = 5 << 20

// Hit is one search result.
type Hit struct {
	Title       string
	Source      string
	URL         string
	Snippet     string
	PublishedAt *time.Time
}

// Searcher runs a quoted news search for a term.
type Searcher interface {
	Name() string
	Search(ctx context.Context, term string) ([]Hit, error)
}

// feedFetcher downloads and parses a news RSS feed.
type feedFetcher struct {
	http      *http.Client
	parser    *gofeed.Parser
	policy    *bluemonday.Policy
	userAgent string
}

func newFeedFetcher(client *http.Client, userAgent string) feedFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return feedFetcher{
		http:      client,
		parser:    gofeed.NewParser(),
		policy:    bluemonday.StrictPolicy(),
		userAgent: userAgent,
	}
}

func (f feedFetcher) fetch(ctx context.Context, endpoint string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml, */*")
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get feed: status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	feed, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

func (f feedFetcher) plain(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(html.UnescapeString(f.policy.Sanitize(s))), " ")
}

func published(item *gofeed.Item) *time.Time {
	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		return &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		return &t
	}
	return nil
}

func quoted(term string) string {
	return `"` + term + `"`
}

// GoogleNews searches the Google News RSS endpoint (Spanish, Mexico edition).
type GoogleNews struct {
	baseURL string
	feeds   feedFetcher
}

// NewGoogleNews builds a GoogleNews searcher.
func NewGoogleNews(baseURL string, client *http.Client, userAgent string) *GoogleNews {
	if baseURL == "" {
		baseURL = DefaultGoogleNewsURL
	}
	return &GoogleNews{baseURL: baseURL, feeds: newFeedFetcher(client, userAgent)}
}

// Name implements Searcher.
func (g *GoogleNews) Name() string { return "google_news" }

// Search implements Searcher.
func (g *GoogleNews) Search(ctx context.Context, term string) ([]Hit, error) {
	q := url.Values{}
	q.Set("q", quoted(term))
	q.Set("hl", "es-419")
	q.Set("gl", "MX")
	q.Set("ceid", "MX:es-419")
	feed, err := g.feeds.fetch(ctx, g.baseURL+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("google news %q: %w", term, err)
	}
	hits := make([]Hit, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || item.Link == "" || item.Title == "" {
			continue
		}
		source := ""
		if item.Author != nil {
			source = strings.TrimSpace(item.Author.Name)
		}
		if source == "" {
			source = sourceFromTitle(item.Title)
		}
		hits = append(hits, Hit{
			Title:       cleanTitle(item.Title),
			Source:      source,
			URL:         g.resolve(ctx, item.Link),
			Snippet:     g.feeds.plain(item.Description),
			PublishedAt: published(item),
		})
	}
	return hits, nil
}

// resolve turns a Google News redirect link into the publisher URL, falling
// back to a HEAD request that follows redirects.
func (g *GoogleNews) resolve(ctx context.Context, link string) string {
	target := ExtractGoogleURL(link)
	if !strings.Contains(target, "news.google.com") {
		return target
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return link
	}
	if g.feeds.userAgent != "" {
		req.Header.Set("User-Agent", g.feeds.userAgent)
	}
	resp, err := g.feeds.http.Do(req)
	if err != nil {
		return link
	}
	_ = resp.Body.Close()
	return resp.Request.URL.String()
}

var (
	articlePath = regexp.MustCompile(`/articles/([^?/]+)`)
	embeddedURL = regexp.MustCompile(`https?://[A-Za-z0-9\-._~:/?#\[\]@!$&()*+,;=%]+`)
)

// ExtractGoogleURL pulls the publisher URL out of a Google News link, either
// from its url parameter or from the base64 article token. It returns link
// unchanged when neither works.
func ExtractGoogleURL(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if target := u.Query().Get("url"); target != "" {
		return target
	}
	m := articlePath.FindStringSubmatch(u.Path)
	if m == nil {
		return link
	}
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding, base64.StdEncoding} {
		decoded, err := enc.DecodeString(m[1])
		if err != nil {
			continue
		}
		if found := embeddedURL.Find(decoded); found != nil {
			return string(found)
		}
	}
	return link
}

// sourceFromTitle reads the " - Source" suffix Google News appends.
func sourceFromTitle(title string) string {
	if i := strings.LastIndex(title, " - "); i >= 0 {
		return strings.TrimSpace(title[i+3:])
	}
	return "Google News"
}

func cleanTitle(title string) string {
	if i := strings.LastIndex(title, " - "); i >= 0 {
		return strings.TrimSpace(title[:i])
	}
	return title
}

// BingNews searches the Bing News RSS endpoint.
type BingNews struct {
	baseURL string
	feeds   feedFetcher
}

// NewBingNews builds a BingNews searcher.
func NewBingNews(baseURL string, client *http.Client, userAgent string) *BingNews {
	if baseURL == "" {
		baseURL = DefaultBingNewsURL
	}
	return &BingNews{baseURL: baseURL, feeds: newFeedFetcher(client, userAgent)}
}

// Name implements Searcher.
func (b *BingNews) Name() string { return "bing_news" }

// Search implements Searcher.
func (b *BingNews) Search(ctx context.Context, term string) ([]Hit, error) {
	q := url.Values{}
	q.Set("q", quoted(term))
	q.Set("format", "rss")
	feed, err := b.feeds.fetch(ctx, b.baseURL+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("bing news %q: %w", term, err)
	}
	hits := make([]Hit, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || item.Link == "" || item.Title == "" {
			continue
		}
		target := ExtractBingURL(item.Link)
		hits = append(hits, Hit{
			Title:       strings.TrimSpace(item.Title),
			Source:      media.HostOf(target, "Bing News"),
			URL:         target,
			Snippet:     b.feeds.plain(item.Description),
			PublishedAt: published(item),
		})
	}
	return hits, nil
}

// ExtractBingURL unwraps Bing's apiclick redirect.
func ExtractBingURL(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if target := u.Query().Get("url"); target != "" {
		return target
	}
	return link
}
