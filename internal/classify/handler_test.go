package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/queue"
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

type stubAnalyzer struct {
	out media.Analysis
	err error
	got media.AnalysisInput
}

func (s *stubAnalyzer) Analyze(_ context.Context, in media.AnalysisInput) (media.Analysis, error) {
	s.got = in
	return s.out, s.err
}

type added struct {
	queue   string
	payload any
	opts    media.JobOptions
}

type fakeEnqueuer struct{ jobs []added }

func (f *fakeEnqueuer) Add(_ context.Context, q string, payload any, opts media.JobOptions) error {
	f.jobs = append(f.jobs, added{queue: q, payload: payload, opts: opts})
	return nil
}

type recorder struct{ events []media.Event }

func (r *recorder) Notify(e media.Event) { r.events = append(r.events, e) }

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, source string) (*memory.DB, string) {
	t.Helper()
	db := memory.New(&counterIDs{}, fixedClock{now: now})
	db.PutClient(media.Client{ID: "c1", OrgID: "o1", Name: "Acme", Industry: "Retail", Active: true})
	a, err := db.Articles().Create(context.Background(), media.Article{
		URL: "https://news.example/acme", Title: "Acme retira lote", Source: source, Content: "Acme anuncio...",
	})
	require.NoError(t, err)
	m, err := db.MentionStore().Create(context.Background(), media.Mention{ArticleID: a.ID, ClientID: "c1", KeywordMatched: "Acme"})
	require.NoError(t, err)
	return db, m.ID
}

func TestAnalyzeCriticalQueuesPriorityAlert(t *testing.T) {
	t.Parallel()
	db, id := seed(t, "BBC News")
	analyzer := &stubAnalyzer{out: media.Analysis{
		Summary: "Retiro de producto", Sentiment: media.SentimentNegative, Relevance: 9, SuggestedAction: "Comunicado",
	}}
	enq := &fakeEnqueuer{}
	rec := &recorder{}
	h := NewHandler(db.MentionStore(), analyzer, enq, rec, fixedClock{now: now}, nil)

	urgency, err := h.Analyze(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, media.UrgencyCritical, urgency)
	require.Equal(t, "Retail", analyzer.got.ClientIndustry)
	require.Equal(t, "Acme", analyzer.got.Keyword)

	detail, err := db.MentionStore().GetDetail(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, media.SentimentNegative, detail.Mention.Sentiment)
	require.Equal(t, 9, detail.Mention.Relevance)
	require.Equal(t, media.UrgencyCritical, detail.Mention.Urgency)
	require.Equal(t, "Comunicado", detail.Mention.AIAction)

	require.Len(t, enq.jobs, 1)
	require.Equal(t, queue.NotifyAlert, enq.jobs[0].queue)
	require.Equal(t, 1, enq.jobs[0].opts.Priority)
	require.Equal(t, AlertRequest{MentionID: id}, enq.jobs[0].payload)

	require.Len(t, rec.events, 2)
	require.Equal(t, media.ChannelMentionAnalyzed, rec.events[0].Channel)
	require.Equal(t, "o1", rec.events[0].OrgID)
	require.Equal(t, media.ChannelCrisisNew, rec.events[1].Channel)
}

func TestAnalyzeHighUsesSecondPriority(t *testing.T) {
	t.Parallel()
	db, id := seed(t, "Diario Local")
	enq := &fakeEnqueuer{}
	h := NewHandler(db.MentionStore(), &stubAnalyzer{out: media.Analysis{Sentiment: media.SentimentNegative, Relevance: 3}}, enq, nil, fixedClock{now: now}, nil)

	urgency, err := h.Analyze(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, media.UrgencyHigh, urgency)
	require.Len(t, enq.jobs, 1)
	require.Equal(t, 2, enq.jobs[0].opts.Priority)
}

func TestAnalyzeMediumDoesNotAlert(t *testing.T) {
	t.Parallel()
	db, id := seed(t, "Diario Local")
	enq := &fakeEnqueuer{}
	rec := &recorder{}
	h := NewHandler(db.MentionStore(), &stubAnalyzer{out: media.Analysis{Sentiment: media.SentimentPositive, Relevance: 5}}, enq, rec, fixedClock{now: now}, nil)

	urgency, err := h.Analyze(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, media.UrgencyMedium, urgency)
	require.Empty(t, enq.jobs)
	require.Len(t, rec.events, 1)
}

func TestAnalyzerErrorsPropagateForRetry(t *testing.T) {
	t.Parallel()
	db, id := seed(t, "Diario Local")
	boom := errors.New("model offline")
	h := NewHandler(db.MentionStore(), &stubAnalyzer{err: boom}, &fakeEnqueuer{}, nil, fixedClock{now: now}, nil)

	_, err := h.Analyze(context.Background(), id)
	require.ErrorIs(t, err, boom)
}

func TestHandleSkipsMissingMention(t *testing.T) {
	t.Parallel()
	db, _ := seed(t, "Diario Local")
	analyzer := &stubAnalyzer{}
	h := NewHandler(db.MentionStore(), analyzer, &fakeEnqueuer{}, nil, fixedClock{now: now}, nil)

	payload, err := json.Marshal(map[string]string{"mentionId": "gone"})
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), queue.Job{Payload: payload}))
	require.Empty(t, analyzer.got.ClientName)

	err = h.Handle(context.Background(), queue.Job{Payload: json.RawMessage(`{`)})
	require.ErrorIs(t, err, queue.ErrPermanent)
}
