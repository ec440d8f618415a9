package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/classify"
	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/metrics"
	"github.com/JakeFAU/mediawatch/internal/queue"
)

// MessageSender sends a rich Telegram message.
type MessageSender interface {
	SendMessage(ctx context.Context, msg Message) error
}

// Alerter runs notify-alert jobs.
type Alerter struct {
	mentions media.MentionStore
	sender   MessageSender
	clock    media.Clock
	logger   *zap.Logger
}

// NewAlerter builds an Alerter.
func NewAlerter(mentions media.MentionStore, sender MessageSender, clock media.Clock, logger *zap.Logger) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerter{mentions: mentions, sender: sender, clock: clock, logger: logger.Named("notify")}
}

// Handle implements worker.Handler.
func (a *Alerter) Handle(ctx context.Context, job queue.Job) error {
	var req classify.AlertRequest
	if err := job.Decode(&req); err != nil {
		return fmt.Errorf("decode alert request: %w: %w", queue.ErrPermanent, err)
	}
	_, err := a.Alert(ctx, req.MentionID)
	return err
}

// Alert sends the alert for one mention and marks it notified. It reports
// whether a message went out; already notified mentions and clients without
// a Telegram group are skipped.
func (a *Alerter) Alert(ctx context.Context, mentionID string) (bool, error) {
	detail, err := a.mentions.GetDetail(ctx, mentionID)
	if errors.Is(err, media.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load mention %s: %w", mentionID, err)
	}
	if detail.Mention.ClientNotified {
		return false, nil
	}
	group := detail.Client.TelegramGroupID
	if group == "" {
		a.logger.Warn("client has no telegram group", zap.String("client", detail.Client.Name))
		metrics.ObserveAlert("client", "skipped")
		return false, nil
	}

	now := a.clock.Now()
	err = a.sender.SendMessage(ctx, Message{
		ChatID:   group,
		Text:     FormatAlert(detail, now),
		Keyboard: alertKeyboard(detail),
	})
	if err != nil {
		metrics.ObserveAlert("client", "error")
		return false, fmt.Errorf("send alert for %s: %w", mentionID, err)
	}
	metrics.ObserveAlert("client", "sent")
	if err := a.mentions.MarkNotified(ctx, mentionID, now); err != nil {
		return true, fmt.Errorf("mark %s notified: %w", mentionID, err)
	}
	a.logger.Info("alert sent",
		zap.String("mention_id", mentionID),
		zap.String("client_id", detail.Client.ID),
		zap.String("urgency", string(detail.Mention.Urgency)),
	)
	return true, nil
}

// FormatAlert renders the client alert text.
func FormatAlert(d media.MentionDetail, now time.Time) string {
	when := d.Mention.CreatedAt
	if d.Article.PublishedAt != nil {
		when = *d.Article.PublishedAt
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s ALERTA | %s\n", urgencyIcon(d.Mention.Urgency), d.Client.Name)
	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Fprintf(&b, "📰 %s\n", d.Article.Title)
	fmt.Fprintf(&b, "📡 %s · %s\n", d.Article.Source, TimeAgo(now.Sub(when)))
	fmt.Fprintf(&b, "📊 Sentimiento: %s\n", sentimentLabel(d.Mention.Sentiment))
	fmt.Fprintf(&b, "⚡ Relevancia: %d/10\n", d.Mention.Relevance)
	if d.Mention.AISummary != "" {
		fmt.Fprintf(&b, "\n💬 Resumen IA:\n\"%s\"\n", d.Mention.AISummary)
	}
	if d.Mention.AIAction != "" {
		fmt.Fprintf(&b, "\n🎯 Accion sugerida:\n\"%s\"\n", d.Mention.AIAction)
	}
	return b.String()
}

func alertKeyboard(d media.MentionDetail) [][]Button {
	return [][]Button{
		{
			{Text: "📖 Leer articulo", URL: d.Article.URL},
			{Text: "✅ Crear tarea", Data: "create_task:" + d.Mention.ID},
		},
		{
			{Text: "📢 Informar cliente", Data: "notify_client:" + d.Mention.ID},
			{Text: "🔇 Ignorar", Data: "ignore_mention:" + d.Mention.ID},
		},
	}
}

// TimeAgo renders an elapsed duration the way alerts show it.
func TimeAgo(d time.Duration) string {
	minutes := int(d / time.Minute)
	switch {
	case minutes < 1:
		return "ahora"
	case minutes < 60:
		return fmt.Sprintf("hace %d min", minutes)
	case minutes < 24*60:
		return fmt.Sprintf("hace %dh", minutes/60)
	default:
		return fmt.Sprintf("hace %dd", minutes/(24*60))
	}
}

func urgencyIcon(u media.Urgency) string {
	switch u {
	case media.UrgencyCritical:
		return "🔴"
	case media.UrgencyHigh:
		return "🟠"
	case media.UrgencyMedium:
		return "🟡"
	case media.UrgencyLow:
		return "🟢"
	}
	return "🟢"
}

func sentimentLabel(s media.Sentiment) string {
	switch s {
	case media.SentimentPositive:
		return "Positivo"
	case media.SentimentNegative:
		return "Negativo"
	case media.SentimentMixed:
		return "Mixto"
	case media.SentimentNeutral:
		return "Neutral"
	}
	return "Neutral"
}
