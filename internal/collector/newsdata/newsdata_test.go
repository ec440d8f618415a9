package newsdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediawatch/internal/collector"
	"github.com/JakeFAU/mediawatch/internal/media"
)

func words(n int) []media.Keyword {
	out := make([]media.Keyword, n)
	for i := range out {
		out[i] = media.Keyword{Word: fmt.Sprintf("w%d", i)}
	}
	return out
}

func TestCollectJoinsBatches(t *testing.T) {
	t.Parallel()
	var lastQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery.Store(r.URL.Query().Get("q") + "|" + r.URL.Query().Get("language"))
		_, _ = fmt.Fprint(w, `{"results":[{"link":"https://n.mx/a","title":"","source_id":"","description":"d","pubDate":"2026-03-10 08:00:00"}]}`)
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	got, err := c.Collect(context.Background(), words(5))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "w0 OR w1 OR w2 OR w3 OR w4|es", lastQuery.Load())
	require.Equal(t, "Sin titulo", got[0].Title)
	require.Equal(t, "NewsData", got[0].Source)
	require.NotNil(t, got[0].PublishedAt)
}

func TestCollectAbortsOnQuota(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	_, err := c.Collect(context.Background(), words(12))
	require.ErrorIs(t, err, collector.ErrQuotaExceeded)
	require.EqualValues(t, 1, hits.Load())
}

func TestCollectWithoutKeyIsNoop(t *testing.T) {
	t.Parallel()
	got, err := New(Config{}, nil).Collect(context.Background(), words(3))
	require.NoError(t, err)
	require.Empty(t, got)
}
