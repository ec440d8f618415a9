package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/collector/social"
	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/queue"
	"github.com/JakeFAU/mediawatch/internal/storage/memory"
)

func TestServer_TriggerGrounding_QueuesManualRun(t *testing.T) {
	t.Parallel()

	srv, enq, _ := newTestServer(t, Options{})
	rec := serve(srv, http.MethodPost, "/v1/clients/c1/grounding", `{"days":14}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, enq.jobs, 1)
	job := enq.jobs[0]
	require.Equal(t, queue.GroundingExecute, job.queue)
	req, ok := job.payload.(media.GroundingRequest)
	require.True(t, ok)
	require.Equal(t, media.GroundingRequest{
		ClientID:     "c1",
		ClientName:   "Acme",
		Industry:     "alimentos",
		Days:         14,
		ArticleCount: 10,
		Trigger:      media.TriggerManual,
	}, req)
	require.Equal(t, 2, job.opts.Attempts)
}

func TestServer_TriggerGrounding_EmptyBodyUsesDefaults(t *testing.T) {
	t.Parallel()

	srv, enq, _ := newTestServer(t, Options{})
	rec := serve(srv, http.MethodPost, "/v1/clients/c1/grounding", "")

	require.Equal(t, http.StatusAccepted, rec.Code)
	req := enq.jobs[0].payload.(media.GroundingRequest)
	require.Equal(t, 7, req.Days)
	require.Equal(t, media.TriggerManual, req.Trigger)
}

func TestServer_TriggerGrounding_Errors(t *testing.T) {
	t.Parallel()

	srv, enq, _ := newTestServer(t, Options{})

	rec := serve(srv, http.MethodPost, "/v1/clients/missing/grounding", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(srv, http.MethodPost, "/v1/clients/c1/grounding", `{"trigger":"weekly"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(srv, http.MethodPost, "/v1/clients/c1/grounding", "{invalid")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, enq.jobs)
}

func TestServer_CollectSocial(t *testing.T) {
	t.Parallel()

	srv, _, soc := newTestServer(t, Options{})
	rec := serve(srv, http.MethodPost, "/v1/clients/c1/social", `{"platforms":["TIKTOK"],"hashtags":false}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats social.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	require.Equal(t, 3, stats.New)
	require.Equal(t, "c1", soc.clientID)
	require.Equal(t, social.Options{
		Platforms:    []media.Platform{media.PlatformTikTok},
		SkipHashtags: true,
	}, soc.opts)
}

func TestServer_CollectSocial_Errors(t *testing.T) {
	t.Parallel()

	srv, _, soc := newTestServer(t, Options{})

	rec := serve(srv, http.MethodPost, "/v1/clients/c1/social", `{"platforms":["MYSPACE"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	soc.err = social.ErrNotConfigured
	rec = serve(srv, http.MethodPost, "/v1/clients/c1/social", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	soc.err = fmt.Errorf("load client x: %w", media.ErrNotFound)
	rec = serve(srv, http.MethodPost, "/v1/clients/x/social", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RunCollector(t *testing.T) {
	t.Parallel()

	srv, enq, _ := newTestServer(t, Options{})

	rec := serve(srv, http.MethodPost, "/v1/collectors/gdelt/run", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, queue.CollectGDELT, enq.jobs[0].queue)
	require.Equal(t, "manual:gdelt", enq.jobs[0].opts.IdempotencyKey)

	rec = serve(srv, http.MethodPost, "/v1/collectors/altavista/run", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, enq.jobs, 1)
}

func TestServer_ExtractComments(t *testing.T) {
	t.Parallel()

	srv, enq, _ := newTestServer(t, Options{})
	rec := serve(srv, http.MethodPost, "/v1/social/sm-1/comments", `{"maxComments":15}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, queue.ExtractSocialComments, enq.jobs[0].queue)
	require.Equal(t, social.CommentsRequest{MentionID: "sm-1", MaxComments: 15}, enq.jobs[0].payload)

	rec = serve(srv, http.MethodPost, "/v1/social/sm-1/comments", `{"maxComments":-1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_QueueCounts(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, Options{})
	rec := serve(srv, http.MethodGet, "/v1/queues", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Queues map[string]map[string]int `json:"queues"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, 4, body.Queues[queue.IngestArticle]["waiting"])
	require.Contains(t, body.Queues, queue.AnalyzeMention)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, Options{})
	require.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/readyz", "").Code)

	deps := testDeps(t)
	deps.Ready = func(context.Context) error { return errors.New("db down") }
	down := NewServer(deps, Options{}, zap.NewNop())
	require.Equal(t, http.StatusServiceUnavailable, serve(down, http.MethodGet, "/readyz", "").Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, Options{APIKey: "secret"})

	require.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusForbidden, serve(srv, http.MethodGet, "/v1/queues", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/queues", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/v1/queues?api_key=secret", "").Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, Options{})
	rec := serve(srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, Options{})
	rec := serve(srv, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type enqueued struct {
	queue   string
	payload any
	opts    media.JobOptions
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []enqueued
}

func (f *fakeEnqueuer) Add(_ context.Context, q string, payload any, opts media.JobOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, enqueued{queue: q, payload: payload, opts: opts})
	return nil
}

type fakeSocial struct {
	clientID string
	opts     social.Options
	err      error
}

func (f *fakeSocial) CollectClient(_ context.Context, clientID string, opts social.Options) (social.Stats, error) {
	f.clientID, f.opts = clientID, opts
	if f.err != nil {
		return social.Stats{}, f.err
	}
	return social.Stats{Clients: 1, Sources: 2, Collected: 5, New: 3}, nil
}

type fakeQueues map[string]queue.Counts

func (f fakeQueues) Counts(_ context.Context, q string) (queue.Counts, error) {
	return f[q], nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	db := memory.New(&seqIDs{}, fixedClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)})
	db.PutClient(media.Client{ID: "c1", Name: "Acme", Industry: "alimentos", Active: true})
	return Deps{
		Clients:  db.Clients(),
		Enqueuer: &fakeEnqueuer{},
		Queues: fakeQueues{
			queue.IngestArticle:  {queue.StateWaiting: 4, queue.StateActive: 1},
			queue.AnalyzeMention: {},
		},
		Social:     &fakeSocial{},
		QueueNames: []string{queue.IngestArticle, queue.AnalyzeMention},
	}
}

func newTestServer(t *testing.T, opts Options) (*Server, *fakeEnqueuer, *fakeSocial) {
	t.Helper()
	deps := testDeps(t)
	return NewServer(deps, opts, zap.NewNop()), deps.Enqueuer.(*fakeEnqueuer), deps.Social.(*fakeSocial)
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}
