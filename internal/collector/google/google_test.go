package google

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediawatch/internal/collector"
	"github.com/JakeFAU/mediawatch/internal/media"
)

func TestCollectCapsKeywordsAndReadsMetatags(t *testing.T) {
	t.Parallel()
	var (
		mu      sync.Mutex
		queries []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q")+"|"+r.URL.Query().Get("dateRestrict"))
		mu.Unlock()
		_, _ = fmt.Fprint(w, `{"items":[{"link":"https://g.mx/x","title":"X","displayLink":"g.mx",
			"pagemap":{"metatags":[{"article:published_time":"2026-03-09T10:00:00Z"}]}}]}`)
	}))
	defer srv.Close()

	var kws []media.Keyword
	for i := 0; i < 10; i++ {
		kws = append(kws, media.Keyword{Word: fmt.Sprintf("w%d", i)})
	}
	c := New(Config{APIKey: "k", CX: "cx", BaseURL: srv.URL, MaxAgeDays: 2}, nil)
	got, err := c.Collect(context.Background(), kws)
	require.NoError(t, err)
	require.Len(t, queries, 8)
	require.Equal(t, `"w0" noticias|d2`, queries[0])
	require.Len(t, got, 8)
	require.Equal(t, time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC), *got[0].PublishedAt)
}

func TestCollectStopsOnForbidden(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", CX: "cx", BaseURL: srv.URL}, nil)
	_, err := c.Collect(context.Background(), []media.Keyword{{Word: "a"}, {Word: "b"}})
	require.ErrorIs(t, err, collector.ErrQuotaExceeded)
	require.EqualValues(t, 1, hits.Load())
}
