package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
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

type fakeSender struct {
	sent []Message
	err  error
}

func (f *fakeSender) SendMessage(_ context.Context, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, group string) (*memory.DB, string) {
	t.Helper()
	db := memory.New(&counterIDs{}, fixedClock{now: now})
	db.PutClient(media.Client{ID: "c1", Name: "Acme", TelegramGroupID: group, Active: true})
	published := now.Add(-3 * time.Hour)
	a, err := db.Articles().Create(context.Background(), media.Article{
		URL: "https://news.example/acme", Title: "Acme retira lote", Source: "BBC News", PublishedAt: &published,
	})
	require.NoError(t, err)
	m, err := db.MentionStore().Create(context.Background(), media.Mention{ArticleID: a.ID, ClientID: "c1", KeywordMatched: "Acme"})
	require.NoError(t, err)
	require.NoError(t, db.MentionStore().UpdateAnalysis(context.Background(), m.ID, media.Analysis{
		Summary: "Retiro de producto", Sentiment: media.SentimentNegative, Relevance: 9, SuggestedAction: "Emitir comunicado",
	}, media.UrgencyCritical))
	return db, m.ID
}

func TestAlertSendsAndMarksNotified(t *testing.T) {
	t.Parallel()
	db, id := seed(t, "-100123")
	sender := &fakeSender{}
	a := NewAlerter(db.MentionStore(), sender, fixedClock{now: now}, nil)

	sent, err := a.Alert(context.Background(), id)
	require.NoError(t, err)
	require.True(t, sent)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	require.Equal(t, "-100123", msg.ChatID)
	require.Contains(t, msg.Text, "🔴 ALERTA | Acme")
	require.Contains(t, msg.Text, "📡 BBC News · hace 3h")
	require.Contains(t, msg.Text, "Sentimiento: Negativo")
	require.Contains(t, msg.Text, "Relevancia: 9/10")
	require.Contains(t, msg.Text, "\"Emitir comunicado\"")
	require.Equal(t, "https://news.example/acme", msg.Keyboard[0][0].URL)

	detail, err := db.MentionStore().GetDetail(context.Background(), id)
	require.NoError(t, err)
	require.True(t, detail.Mention.ClientNotified)
	require.Equal(t, now, *detail.Mention.NotifiedAt)

	sent, err = a.Alert(context.Background(), id)
	require.NoError(t, err)
	require.False(t, sent, "already notified")
	require.Len(t, sender.sent, 1)
}

func TestAlertSkipsClientWithoutGroup(t *testing.T) {
	t.Parallel()
	db, id := seed(t, "")
	sender := &fakeSender{}

	sent, err := NewAlerter(db.MentionStore(), sender, fixedClock{now: now}, nil).Alert(context.Background(), id)
	require.NoError(t, err)
	require.False(t, sent)
	require.Empty(t, sender.sent)
}

func TestAlertSendFailureIsRetryable(t *testing.T) {
	t.Parallel()
	db, id := seed(t, "-100123")
	boom := errors.New("telegram down")
	a := NewAlerter(db.MentionStore(), &fakeSender{err: boom}, fixedClock{now: now}, nil)

	_, err := a.Alert(context.Background(), id)
	require.ErrorIs(t, err, boom)
	detail, err := db.MentionStore().GetDetail(context.Background(), id)
	require.NoError(t, err)
	require.False(t, detail.Mention.ClientNotified)
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	t.Parallel()
	db, _ := seed(t, "-1")
	a := NewAlerter(db.MentionStore(), &fakeSender{}, fixedClock{now: now}, nil)
	err := a.Handle(context.Background(), queue.Job{Payload: json.RawMessage(`"x`)})
	require.ErrorIs(t, err, queue.ErrPermanent)
}

func TestTimeAgo(t *testing.T) {
	t.Parallel()
	require.Equal(t, "ahora", TimeAgo(30*time.Second))
	require.Equal(t, "hace 5 min", TimeAgo(5*time.Minute))
	require.Equal(t, "hace 2h", TimeAgo(150*time.Minute))
	require.Equal(t, "hace 3d", TimeAgo(80*time.Hour))
}

func TestTelegramSendMessage(t *testing.T) {
	t.Parallel()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	tg := NewTelegram(srv.URL, "TOKEN", time.Second)
	err := tg.SendMessage(context.Background(), Message{
		ChatID:   "42",
		Text:     "hola",
		Keyboard: [][]Button{{{Text: "Leer", URL: "https://x.example"}}},
	})
	require.NoError(t, err)
	require.Equal(t, "42", got["chat_id"])
	require.Equal(t, "hola", got["text"])
	require.Contains(t, got, "reply_markup")

	require.NoError(t, tg.Send(context.Background(), "42", "*watchdog*"))
	require.Equal(t, "Markdown", got["parse_mode"])
}

func TestTelegramReportsAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	t.Cleanup(srv.Close)

	err := NewTelegram(srv.URL, "TOKEN", time.Second).Send(context.Background(), "1", "x")
	require.ErrorContains(t, err, "chat not found")

	err = NewTelegram(srv.URL, "", time.Second).Send(context.Background(), "1", "x")
	require.ErrorIs(t, err, ErrNotConfigured)
}
