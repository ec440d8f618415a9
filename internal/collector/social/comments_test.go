package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/queue"
	"github.com/JakeFAU/mediawatch/internal/storage/memory"
)

type requestLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *requestLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *requestLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func tiktokCommentsServer(t *testing.T, seen *requestLog) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.add(r.URL.Query().Get("aweme_id") + "@" + r.URL.Query().Get("cursor"))
		var comments []string
		for i := 0; i < 30; i++ {
			comments = append(comments, fmt.Sprintf(
				`{"cid":"c%d","text":"comentario","create_time":%d,"digg_count":2,"user":{"unique_id":"u%d","nickname":"U"}}`,
				i, now.Unix(), i))
		}
		next := `"30"`
		if r.URL.Query().Get("cursor") != "" {
			next = `0`
		}
		_, _ = fmt.Fprintf(w, `{"data":{"comments":[%s],"nextCursor":%s}}`, strings.Join(comments, ","), next)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newExtractor(t *testing.T, srvURL string, cfg CommentsConfig) (*CommentsExtractor, *memory.DB) {
	t.Helper()
	clock := fixedClock{now: now}
	db := memory.New(&counterIDs{}, clock)
	api := NewClient(srvURL, "secret", time.Second, "", clock)
	api.pause = 0
	return NewCommentsExtractor(api, db.Social(), clock, cfg, nil), db
}

func TestExtractTikTokCommentsUsesVideoIDAndCap(t *testing.T) {
	t.Parallel()
	seen := &requestLog{}
	srv := tiktokCommentsServer(t, seen)
	e, db := newExtractor(t, srv.URL, CommentsConfig{Enabled: true, TikTokMax: 45})

	m, err := db.Social().Create(context.Background(), media.SocialMention{
		Platform: media.PlatformTikTok,
		PostID:   "internal-1",
		URL:      "https://tiktok.com/@acme/video/7300000000001",
	})
	require.NoError(t, err)

	payload, err := json.Marshal(CommentsRequest{MentionID: m.ID})
	require.NoError(t, err)
	require.NoError(t, e.Handle(context.Background(), queue.Job{Payload: payload}))

	require.Equal(t, []string{"7300000000001@", "7300000000001@30"}, seen.all())
	comments := db.Comments(m.ID)
	require.Len(t, comments, 45)
	require.Equal(t, "u0", comments[0].Author)

	stored, err := db.Social().Get(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CommentsExtractedAt)

	n, err := e.Extract(context.Background(), CommentsRequest{MentionID: m.ID})
	require.NoError(t, err)
	require.Zero(t, n, "extracted within the last hour")
	require.Len(t, seen.all(), 2)
}

func TestExtractSkips(t *testing.T) {
	t.Parallel()
	seen := &requestLog{}
	srv := tiktokCommentsServer(t, seen)

	disabled, db := newExtractor(t, srv.URL, CommentsConfig{})
	m, err := db.Social().Create(context.Background(), media.SocialMention{Platform: media.PlatformTikTok, PostID: "1"})
	require.NoError(t, err)
	n, err := disabled.Extract(context.Background(), CommentsRequest{MentionID: m.ID})
	require.NoError(t, err)
	require.Zero(t, n)

	e, db := newExtractor(t, srv.URL, CommentsConfig{Enabled: true})
	tweet, err := db.Social().Create(context.Background(), media.SocialMention{Platform: media.PlatformTwitter, PostID: "2"})
	require.NoError(t, err)
	n, err = e.Extract(context.Background(), CommentsRequest{MentionID: tweet.ID})
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = e.Extract(context.Background(), CommentsRequest{MentionID: "missing"})
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, seen.all())
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	t.Parallel()
	e, _ := newExtractor(t, "http://127.0.0.1:0", CommentsConfig{Enabled: true})
	err := e.Handle(context.Background(), queue.Job{Payload: json.RawMessage(`{`)})
	require.ErrorIs(t, err, queue.ErrPermanent)
}

func TestCapAt(t *testing.T) {
	t.Parallel()
	require.Equal(t, 60, capAt(0, 60))
	require.Equal(t, 10, capAt(10, 60))
	require.Equal(t, 60, capAt(100, 60))
}
