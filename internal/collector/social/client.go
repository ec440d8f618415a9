package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/mediawatch/internal/collector"
	"github.com/JakeFAU/mediawatch/internal/media"
)

// DefaultBaseURL is the EnsembleData API root.
const DefaultBaseURL = "https://ensembledata.com/apis"

// ErrNotConfigured is returned when no API token is set.
var ErrNotConfigured = errors.New("ensembledata token not configured")

// Post is a platform-neutral social post.
type Post struct {
	Platform   media.Platform
	PostID     string
	URL        string
	Content    string
	Author     string
	AuthorName string
	Followers  int
	Likes      int
	Comments   int
	Shares     int
	Views      int
	PostedAt   *time.Time
}

// Client calls the EnsembleData REST API. Every endpoint is a GET carrying
// the token as a query parameter and answers {"data": ...}.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
	clock     media.Clock
	// pause separates paginated comment requests.
	pause time.Duration
}

// NewClient builds an API client.
func NewClient(baseURL, token string, timeout time.Duration, userAgent string, clock media.Clock) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		userAgent: userAgent,
		http:      &http.Client{Timeout: timeout},
		clock:     clock,
		pause:     500 * time.Millisecond,
	}
}

// Configured reports whether a token is set.
func (c *Client) Configured() bool { return c.token != "" }

type envelope[T any] struct {
	Data T `json:"data"`
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("token", c.token)
	return collector.GetJSON(ctx, c.http, c.baseURL+endpoint+"?"+params.Encode(), c.userAgent, out)
}

func (c *Client) cutoff(maxAgeDays int) time.Time {
	return c.clock.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
}

// keepRecent drops posts older than maxAgeDays; undated posts are kept.
// The API returns whole pages that may straddle the requested window.
func (c *Client) keepRecent(posts []Post, maxAgeDays int) []Post {
	if maxAgeDays <= 0 {
		return posts
	}
	cutoff := c.cutoff(maxAgeDays)
	out := posts[:0]
	for _, p := range posts {
		if p.PostedAt == nil || !p.PostedAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

func unix(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// flexInt decodes numbers that arrive as JSON numbers or numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*f = flexInt(n)
	return nil
}

// flexString decodes IDs that arrive as strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}

func first[T comparable](vals ...T) T {
	var zero T
	for _, v := range vals {
		if v != zero {
			return v
		}
	}
	return zero
}

// ---- Twitter ----

type tweet struct {
	ID        flexString `json:"id"`
	Text      string     `json:"text"`
	CreatedAt string     `json:"created_at"`
	Author    struct {
		Username       string  `json:"username"`
		Name           string  `json:"name"`
		FollowersCount flexInt `json:"followers_count"`
	} `json:"author"`
	Metrics struct {
		Likes       flexInt `json:"like_count"`
		Retweets    flexInt `json:"retweet_count"`
		Replies     flexInt `json:"reply_count"`
		Quotes      flexInt `json:"quote_count"`
		Impressions flexInt `json:"impression_count"`
	} `json:"public_metrics"`
}

func (t tweet) post() Post {
	p := Post{
		Platform:   media.PlatformTwitter,
		PostID:     string(t.ID),
		URL:        fmt.Sprintf("https://twitter.com/%s/status/%s", t.Author.Username, t.ID),
		Content:    t.Text,
		Author:     t.Author.Username,
		AuthorName: t.Author.Name,
		Followers:  int(t.Author.FollowersCount),
		Likes:      int(t.Metrics.Likes),
		Comments:   int(t.Metrics.Replies),
		Shares:     int(t.Metrics.Retweets + t.Metrics.Quotes),
		Views:      int(t.Metrics.Impressions),
	}
	for _, layout := range []string{time.RFC3339, time.RubyDate} {
		if ts, err := time.Parse(layout, t.CreatedAt); err == nil {
			ts = ts.UTC()
			p.PostedAt = &ts
			break
		}
	}
	return p
}

// TwitterUserPosts resolves username to an ID and lists its recent tweets.
func (c *Client) TwitterUserPosts(ctx context.Context, username string, maxPosts, maxAgeDays int) ([]Post, error) {
	var info envelope[struct {
		ID flexString `json:"id"`
	}]
	if err := c.get(ctx, "/twitter/user/info", url.Values{"name": {username}}, &info); err != nil {
		return nil, fmt.Errorf("twitter user %s: %w", username, err)
	}
	if info.Data.ID == "" {
		return nil, nil
	}
	var resp envelope[struct {
		Data []tweet `json:"data"`
	}]
	if err := c.get(ctx, "/twitter/user/tweets", url.Values{"id": {string(info.Data.ID)}}, &resp); err != nil {
		return nil, fmt.Errorf("twitter tweets %s: %w", username, err)
	}
	posts := make([]Post, 0, len(resp.Data.Data))
	for _, t := range limit(resp.Data.Data, maxPosts) {
		posts = append(posts, t.post())
	}
	return c.keepRecent(posts, maxAgeDays), nil
}

// ---- Instagram ----

type igNode struct {
	ID        flexString `json:"id"`
	Shortcode string     `json:"shortcode"`
	Caption   struct {
		Edges []struct {
			Node struct {
				Text string `json:"text"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"edge_media_to_caption"`
	TakenAt flexInt `json:"taken_at_timestamp"`
	Owner   struct {
		Username string `json:"username"`
	} `json:"owner"`
	LikedBy struct {
		Count flexInt `json:"count"`
	} `json:"edge_liked_by"`
	PreviewLike struct {
		Count flexInt `json:"count"`
	} `json:"edge_media_preview_like"`
	CommentCount struct {
		Count flexInt `json:"count"`
	} `json:"edge_media_to_comment"`
	VideoViews flexInt `json:"video_view_count"`
}

func (n igNode) post() Post {
	p := Post{
		Platform: media.PlatformInstagram,
		PostID:   string(n.ID),
		URL:      "https://instagram.com/p/" + n.Shortcode,
		Author:   n.Owner.Username,
		Likes:    int(first(n.LikedBy.Count, n.PreviewLike.Count)),
		Comments: int(n.CommentCount.Count),
		Views:    int(n.VideoViews),
		PostedAt: unix(int64(n.TakenAt)),
	}
	if len(n.Caption.Edges) > 0 {
		p.Content = n.Caption.Edges[0].Node.Text
	}
	return p
}

type igPosts struct {
	Posts []struct {
		Node igNode `json:"node"`
	} `json:"posts"`
}

func (r igPosts) posts(n int) []Post {
	out := make([]Post, 0, len(r.Posts))
	for _, w := range limit(r.Posts, n) {
		out = append(out, w.Node.post())
	}
	return out
}

// InstagramUserPosts resolves username to its pk and lists recent posts.
func (c *Client) InstagramUserPosts(ctx context.Context, username string, maxPosts, maxAgeDays int) ([]Post, error) {
	var info envelope[struct {
		PK flexString `json:"pk"`
	}]
	if err := c.get(ctx, "/instagram/user/info", url.Values{"username": {username}}, &info); err != nil {
		return nil, fmt.Errorf("instagram user %s: %w", username, err)
	}
	if info.Data.PK == "" {
		return nil, nil
	}
	params := url.Values{"user_id": {string(info.Data.PK)}, "depth": {"1"}}
	if maxAgeDays > 0 {
		params.Set("oldest_timestamp", strconv.FormatInt(c.cutoff(maxAgeDays).Unix(), 10))
	}
	var resp envelope[igPosts]
	if err := c.get(ctx, "/instagram/user/posts", params, &resp); err != nil {
		return nil, fmt.Errorf("instagram posts %s: %w", username, err)
	}
	return c.keepRecent(resp.Data.posts(maxPosts), maxAgeDays), nil
}

// InstagramHashtagPosts lists recent posts for a hashtag.
func (c *Client) InstagramHashtagPosts(ctx context.Context, hashtag string, maxPosts, maxAgeDays int) ([]Post, error) {
	tag := strings.TrimPrefix(hashtag, "#")
	var resp envelope[igPosts]
	if err := c.get(ctx, "/instagram/hashtag/posts", url.Values{"name": {tag}}, &resp); err != nil {
		return nil, fmt.Errorf("instagram hashtag %s: %w", tag, err)
	}
	return c.keepRecent(resp.Data.posts(maxPosts), maxAgeDays), nil
}

// ---- TikTok ----

type ttAuthor struct {
	UniqueID      string  `json:"uniqueId"`
	UniqueIDSnake string  `json:"unique_id"`
	Nickname      string  `json:"nickname"`
	FollowerCount flexInt `json:"followerCount"`
	FollowerSnake flexInt `json:"follower_count"`
}

type ttStats struct {
	Diggs         flexInt `json:"diggCount"`
	DiggsSnake    flexInt `json:"digg_count"`
	Comments      flexInt `json:"commentCount"`
	CommentsSnake flexInt `json:"comment_count"`
	Shares        flexInt `json:"shareCount"`
	SharesSnake   flexInt `json:"share_count"`
	Plays         flexInt `json:"playCount"`
	PlaysSnake    flexInt `json:"play_count"`
}

// ttPost accepts both the camelCase and snake_case shapes the API returns.
type ttPost struct {
	ID              flexString `json:"id"`
	AwemeID         flexString `json:"aweme_id"`
	Desc            string     `json:"desc"`
	CreateTime      flexInt    `json:"createTime"`
	CreateTimeSnake flexInt    `json:"create_time"`
	Author          ttAuthor   `json:"author"`
	Stats           *ttStats   `json:"stats"`
	Statistics      *ttStats   `json:"statistics"`
	// keyword search wraps results as {aweme_info: {...}}
	AwemeInfo *ttPost `json:"aweme_info"`
}

func (t ttPost) post() Post {
	if t.AwemeInfo != nil {
		return t.AwemeInfo.post()
	}
	stats := t.Stats
	if stats == nil {
		stats = t.Statistics
	}
	if stats == nil {
		stats = &ttStats{}
	}
	id := string(first(t.ID, t.AwemeID))
	handle := first(t.Author.UniqueID, t.Author.UniqueIDSnake, "unknown")
	return Post{
		Platform:   media.PlatformTikTok,
		PostID:     id,
		URL:        fmt.Sprintf("https://tiktok.com/@%s/video/%s", handle, id),
		Content:    t.Desc,
		Author:     handle,
		AuthorName: t.Author.Nickname,
		Followers:  int(first(t.Author.FollowerCount, t.Author.FollowerSnake)),
		Likes:      int(first(stats.Diggs, stats.DiggsSnake)),
		Comments:   int(first(stats.Comments, stats.CommentsSnake)),
		Shares:     int(first(stats.Shares, stats.SharesSnake)),
		Views:      int(first(stats.Plays, stats.PlaysSnake)),
		PostedAt:   unix(int64(first(t.CreateTime, t.CreateTimeSnake))),
	}
}

// ttList is the list payload; the API nests it under data or aweme_list.
type ttList struct {
	Data      []ttPost `json:"data"`
	AwemeList []ttPost `json:"aweme_list"`
}

func (l ttList) posts(n int) []Post {
	items := l.Data
	if len(items) == 0 {
		items = l.AwemeList
	}
	out := make([]Post, 0, len(items))
	for _, p := range limit(items, n) {
		out = append(out, p.post())
	}
	return out
}

// TikTokUserPosts lists recent videos of a user.
func (c *Client) TikTokUserPosts(ctx context.Context, username string, maxPosts, maxAgeDays int) ([]Post, error) {
	params := url.Values{"username": {username}, "depth": {"1"}}
	if maxAgeDays > 0 {
		params.Set("oldest_createtime", strconv.FormatInt(c.cutoff(maxAgeDays).Unix(), 10))
	}
	var resp envelope[ttList]
	if err := c.get(ctx, "/tt/user/posts", params, &resp); err != nil {
		return nil, fmt.Errorf("tiktok posts %s: %w", username, err)
	}
	return c.keepRecent(resp.Data.posts(maxPosts), maxAgeDays), nil
}

// TikTokHashtagPosts lists recent videos for a hashtag.
func (c *Client) TikTokHashtagPosts(ctx context.Context, hashtag string, maxPosts, maxAgeDays int) ([]Post, error) {
	tag := strings.TrimPrefix(hashtag, "#")
	var resp envelope[ttList]
	if err := c.get(ctx, "/tt/hashtag/posts", url.Values{"name": {tag}}, &resp); err != nil {
		return nil, fmt.Errorf("tiktok hashtag %s: %w", tag, err)
	}
	return c.keepRecent(resp.Data.posts(maxPosts), maxAgeDays), nil
}

// TikTokSearch runs a keyword search over the nearest supported period.
func (c *Client) TikTokSearch(ctx context.Context, query string, maxPosts, maxAgeDays int) ([]Post, error) {
	params := url.Values{"name": {query}, "period": {period(maxAgeDays)}}
	var resp envelope[ttList]
	if err := c.get(ctx, "/tt/keyword/search", params, &resp); err != nil {
		return nil, fmt.Errorf("tiktok search %q: %w", query, err)
	}
	return c.keepRecent(resp.Data.posts(maxPosts), maxAgeDays), nil
}

// period maps a day window to the values the search endpoint accepts.
func period(days int) string {
	switch {
	case days <= 0:
		return "7"
	case days <= 1:
		return "1"
	case days <= 7:
		return "7"
	case days <= 30:
		return "30"
	case days <= 90:
		return "90"
	}
	return "180"
}

// ---- Comments ----

// TikTokComments pages through a video's comments, 30 per request.
func (c *Client) TikTokComments(ctx context.Context, awemeID string, maxComments int) ([]media.SocialComment, error) {
	var out []media.SocialComment
	cursor := ""
	for page := 0; len(out) < maxComments; page++ {
		params := url.Values{"aweme_id": {awemeID}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp envelope[struct {
			Comments []struct {
				CID        flexString `json:"cid"`
				Text       string     `json:"text"`
				CreateTime flexInt    `json:"create_time"`
				Diggs      flexInt    `json:"digg_count"`
				Replies    flexInt    `json:"reply_comment_total"`
				User       struct {
					UniqueID string `json:"unique_id"`
					Nickname string `json:"nickname"`
				} `json:"user"`
			} `json:"comments"`
			NextCursor flexString `json:"nextCursor"`
		}]
		if err := c.get(ctx, "/tt/post/comments", params, &resp); err != nil {
			if page == 0 {
				return nil, fmt.Errorf("tiktok comments %s: %w", awemeID, err)
			}
			break
		}
		if len(resp.Data.Comments) == 0 {
			break
		}
		for _, cm := range resp.Data.Comments {
			if len(out) >= maxComments {
				break
			}
			out = append(out, media.SocialComment{
				Author:     cm.User.UniqueID,
				AuthorName: cm.User.Nickname,
				Text:       cm.Text,
				Likes:      int(cm.Diggs),
				Replies:    int(cm.Replies),
				PostedAt:   unix(int64(cm.CreateTime)),
			})
		}
		cursor = string(resp.Data.NextCursor)
		if cursor == "" || cursor == "0" {
			break
		}
		if err := collector.Sleep(ctx, c.pause); err != nil {
			return out, err
		}
	}
	return out, nil
}

// InstagramComments pages through a post's most popular comments.
func (c *Client) InstagramComments(ctx context.Context, mediaID string, maxComments int) ([]media.SocialComment, error) {
	var out []media.SocialComment
	cursor := ""
	for page := 0; len(out) < maxComments; page++ {
		params := url.Values{"media_id": {mediaID}, "cursor": {cursor}, "sorting": {"popular"}}
		var resp envelope[struct {
			Comments []struct {
				Node struct {
					PK        flexString `json:"pk"`
					Text      string     `json:"text"`
					CreatedAt flexInt    `json:"created_at"`
					Likes     flexInt    `json:"comment_like_count"`
					Replies   flexInt    `json:"child_comment_count"`
					User      struct {
						Username string `json:"username"`
						FullName string `json:"full_name"`
					} `json:"user"`
				} `json:"node"`
			} `json:"comments"`
			NextCursor string `json:"nextCursor"`
		}]
		if err := c.get(ctx, "/instagram/post/comments", params, &resp); err != nil {
			if page == 0 {
				return nil, fmt.Errorf("instagram comments %s: %w", mediaID, err)
			}
			break
		}
		if len(resp.Data.Comments) == 0 {
			break
		}
		for _, w := range resp.Data.Comments {
			if len(out) >= maxComments {
				break
			}
			n := w.Node
			out = append(out, media.SocialComment{
				Author:     n.User.Username,
				AuthorName: n.User.FullName,
				Text:       n.Text,
				Likes:      int(n.Likes),
				Replies:    int(n.Replies),
				PostedAt:   unix(int64(n.CreatedAt)),
			})
		}
		if resp.Data.NextCursor == "" {
			break
		}
		cursor = resp.Data.NextCursor
		if err := collector.Sleep(ctx, c.pause); err != nil {
			return out, err
		}
	}
	return out, nil
}
