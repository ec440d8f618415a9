package social

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type counterIDs struct {
	mu sync.Mutex
	n  int
}

func (g *counterIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type recorder struct {
	mu     sync.Mutex
	events []media.Event
}

func (r *recorder) Notify(e media.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (h *hitCounter) inc(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits[path]++
}

func (h *hitCounter) count(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

// fakeAPI serves canned EnsembleData payloads keyed by path.
func fakeAPI(t *testing.T, routes map[string]string) (*httptest.Server, *hitCounter) {
	t.Helper()
	hits := &hitCounter{hits: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		hits.inc(r.URL.Path)
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func ts(d time.Duration) int64 { return now.Add(-d).Unix() }

func TestTikTokUserPostsDecodesAndDropsOldPosts(t *testing.T) {
	t.Parallel()
	srv, _ := fakeAPI(t, map[string]string{
		"/tt/user/posts": fmt.Sprintf(`{"data":{"data":[
			{"aweme_id":"111","desc":"Acme lanza producto","create_time":%d,
			 "author":{"unique_id":"acme","nickname":"Acme MX"},
			 "statistics":{"digg_count":10,"comment_count":"3","share_count":1,"play_count":900}},
			{"id":"222","desc":"viejo","createTime":%d,"author":{"uniqueId":"acme"},"stats":{"diggCount":1}}
		]}}`, ts(time.Hour), ts(10*24*time.Hour)),
	})
	api := NewClient(srv.URL, "secret", time.Second, "", fixedClock{now: now})

	posts, err := api.TikTokUserPosts(context.Background(), "acme", 20, 2)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	p := posts[0]
	require.Equal(t, "111", p.PostID)
	require.Equal(t, "https://tiktok.com/@acme/video/111", p.URL)
	require.Equal(t, "Acme MX", p.AuthorName)
	require.Equal(t, 10, p.Likes)
	require.Equal(t, 3, p.Comments)
	require.Equal(t, 900, p.Views)
	require.Equal(t, ts(time.Hour), p.PostedAt.Unix())
}

func TestClientRequiresToken(t *testing.T) {
	t.Parallel()
	api := NewClient("http://127.0.0.1:0", "", time.Second, "", fixedClock{now: now})
	require.False(t, api.Configured())
	_, err := api.TikTokSearch(context.Background(), "acme", 5, 2)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestInstagramUserPostsResolvesPK(t *testing.T) {
	t.Parallel()
	srv, _ := fakeAPI(t, map[string]string{
		"/instagram/user/info": `{"data":{"pk":"987","username":"acme"}}`,
		"/instagram/user/posts": fmt.Sprintf(`{"data":{"posts":[{"node":{
			"id":"555","shortcode":"AbC","taken_at_timestamp":%d,"owner":{"username":"acme"},
			"edge_media_to_caption":{"edges":[{"node":{"text":"Hola Acme"}}]},
			"edge_media_preview_like":{"count":42},"edge_media_to_comment":{"count":7}}}]}}`, ts(time.Hour)),
	})
	api := NewClient(srv.URL, "secret", time.Second, "", fixedClock{now: now})

	posts, err := api.InstagramUserPosts(context.Background(), "acme", 20, 2)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "https://instagram.com/p/AbC", posts[0].URL)
	require.Equal(t, "Hola Acme", posts[0].Content)
	require.Equal(t, 42, posts[0].Likes)
	require.Equal(t, 7, posts[0].Comments)
}

func seedClient(db *memory.DB) media.Client {
	client := media.Client{
		ID:     "client-1",
		OrgID:  "org-1",
		Name:   "Acme",
		Active: true,
		Social: media.SocialConfig{
			Enabled:  true,
			Handles:  []string{"tiktok:@acme"},
			Hashtags: []string{"#acme"},
		},
	}
	db.PutClient(client)
	db.PutKeyword(media.Keyword{ID: "k1", Word: "Acme", Type: media.KeywordName, ClientID: client.ID, Active: true})
	db.PutKeyword(media.Keyword{ID: "k2", Word: "energia", Type: media.KeywordTopic, ClientID: client.ID, Active: true})
	return client
}

func TestCollectAllSavesNewPostsAndRefreshesKnownOnes(t *testing.T) {
	t.Parallel()
	post := func(id string, likes int) string {
		return fmt.Sprintf(`{"aweme_id":%q,"desc":"Acme en tendencia","create_time":%d,
			"author":{"unique_id":"fan"},"statistics":{"digg_count":%d}}`, id, ts(time.Hour), likes)
	}
	srv, hits := fakeAPI(t, map[string]string{
		"/tt/user/posts":           `{"data":{"data":[` + post("1", 5) + `]}}`,
		"/tt/hashtag/posts":        `{"data":{"aweme_list":[` + post("1", 6) + `,` + post("2", 1) + `]}}`,
		"/tt/keyword/search":       `{"data":{"data":[{"type":1,"aweme_info":` + post("3", 2) + `}]}}`,
		"/instagram/hashtag/posts": `{"data":{"posts":[]}}`,
	})
	clock := fixedClock{now: now}
	db := memory.New(&counterIDs{}, clock)
	client := seedClient(db)
	events := &recorder{}
	c := New(NewClient(srv.URL, "secret", time.Second, "", clock), db.Clients(), db.Keywords(), db.Social(),
		events, clock, Config{MaxAgeDays: 2}, nil)

	stats, err := c.CollectAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Clients)
	require.Equal(t, 4, stats.Sources)
	require.Equal(t, 4, stats.Collected)
	require.Equal(t, 3, stats.New)
	require.Zero(t, stats.Errors)

	require.Equal(t, 1, hits.count("/tt/keyword/search"), "only NAME and BRAND keywords are searched")

	require.Len(t, events.events, 3)
	evt := events.events[0]
	require.Equal(t, media.ChannelSocialNew, evt.Channel)
	require.Equal(t, client.ID, evt.ClientID)
	require.Equal(t, "org-1", evt.OrgID)
	require.Equal(t, media.PlatformTikTok, evt.Platform)
	require.Equal(t, "fan", evt.Source)

	stored, err := db.Social().Get(context.Background(), evt.ID)
	require.NoError(t, err)
	require.Equal(t, media.SourceHandle, stored.SourceType)
	require.Equal(t, "acme", stored.SourceValue)
	require.Equal(t, 6, stored.Likes, "hashtag sweep refreshed engagement of the known post")

	again, err := c.CollectAll(context.Background())
	require.NoError(t, err)
	require.Zero(t, again.New)
	require.Len(t, events.events, 3)
}

func TestCollectCountsSourceErrorsWithoutStopping(t *testing.T) {
	t.Parallel()
	srv, _ := fakeAPI(t, map[string]string{
		"/tt/keyword/search": `{"data":{"data":[]}}`,
	})
	clock := fixedClock{now: now}
	db := memory.New(&counterIDs{}, clock)
	seedClient(db)
	c := New(NewClient(srv.URL, "secret", time.Second, "", clock), db.Clients(), db.Keywords(), db.Social(),
		nil, clock, Config{}, nil)

	stats, err := c.CollectClient(context.Background(), "client-1", Options{Platforms: []media.Platform{media.PlatformTikTok}})
	require.NoError(t, err)
	require.Equal(t, 3, stats.Sources)
	require.Equal(t, 2, stats.Errors)
}

func TestCollectClientSkipsUnconfiguredAPI(t *testing.T) {
	t.Parallel()
	clock := fixedClock{now: now}
	db := memory.New(&counterIDs{}, clock)
	c := New(NewClient("", "", time.Second, "", clock), db.Clients(), db.Keywords(), db.Social(), nil, clock, Config{}, nil)

	stats, err := c.CollectAll(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Clients)

	_, err = c.CollectClient(context.Background(), "client-1", Options{})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestHandleTargets(t *testing.T) {
	t.Parallel()
	c := New(nil, nil, nil, nil, nil, fixedClock{}, Config{}, nil)
	all := func(media.Platform) bool { return true }

	require.Len(t, c.handleTargets("@acme", all), 3)
	require.Len(t, c.handleTargets("instagram:acme", all), 1)
	require.Equal(t, "acme", c.handleTargets("instagram:acme", all)[0].handle)
	require.Empty(t, c.handleTargets("tiktok:", all))
	noTwitter := func(p media.Platform) bool { return p != media.PlatformTwitter }
	require.Len(t, c.handleTargets("acme", noTwitter), 2)
}
