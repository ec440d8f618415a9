// Package watchdog alerts an operator when the pipeline stops producing
// mentions.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/metrics"
	"github.com/JakeFAU/mediawatch/internal/queue"
)

// AlertKey marks that an alert went out and the cooldown is running.
const AlertKey = "watchdog:alert:sent"

// Status is the outcome of one check.
type Status string

// Check outcomes.
const (
	StatusSkipped  Status = "skipped"
	StatusHealthy  Status = "healthy"
	StatusAlerted  Status = "alerted"
	StatusCooldown Status = "cooldown"
)

// Config tunes the check.
type Config struct {
	Threshold   time.Duration
	Cooldown    time.Duration
	AdminChatID string
}

// Watchdog runs watchdog-mentions jobs.
type Watchdog struct {
	mentions media.MentionStore
	kv       media.KV
	sender   media.AlertSender
	clock    media.Clock
	cfg      Config
	logger   *zap.Logger
}

// New builds a Watchdog. Zero durations default to six hours.
func New(mentions media.MentionStore, kv media.KV, sender media.AlertSender, clock media.Clock, cfg Config, logger *zap.Logger) *Watchdog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 6 * time.Hour
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 6 * time.Hour
	}
	return &Watchdog{mentions: mentions, kv: kv, sender: sender, clock: clock, cfg: cfg, logger: logger.Named("watchdog")}
}

// Handle implements worker.Handler.
func (w *Watchdog) Handle(ctx context.Context, _ queue.Job) error {
	_, err := w.Check(ctx)
	return err
}

// Check compares the newest mention against the threshold. An alert is sent
// at most once per cooldown; a healthy check clears the cooldown. A failed
// send is logged and leaves the cooldown unset so the next check retries.
func (w *Watchdog) Check(ctx context.Context) (Status, error) {
	if w.cfg.AdminChatID == "" {
		w.logger.Debug("no admin chat configured")
		return StatusSkipped, nil
	}
	latest, err := w.mentions.LatestCreatedAt(ctx)
	if err != nil {
		return "", fmt.Errorf("latest mention: %w", err)
	}

	var gap time.Duration
	if latest != nil {
		gap = w.clock.Now().Sub(*latest)
		if gap < w.cfg.Threshold {
			if err := w.kv.Delete(ctx, AlertKey); err != nil {
				return StatusHealthy, fmt.Errorf("clear watchdog flag: %w", err)
			}
			return StatusHealthy, nil
		}
	}

	sent, err := w.kv.Exists(ctx, AlertKey)
	if err != nil {
		return "", fmt.Errorf("read watchdog flag: %w", err)
	}
	if sent {
		w.logger.Info("mentions stalled, alert already sent", zap.Duration("gap", gap))
		return StatusCooldown, nil
	}

	if err := w.sender.Send(ctx, w.cfg.AdminChatID, Message(latest, gap)); err != nil {
		metrics.ObserveAlert("watchdog", "error")
		w.logger.Error("watchdog alert failed", zap.Error(err))
		return StatusAlerted, nil
	}
	metrics.ObserveAlert("watchdog", "sent")
	if err := w.kv.Set(ctx, AlertKey, "1", w.cfg.Cooldown); err != nil {
		return StatusAlerted, fmt.Errorf("set watchdog flag: %w", err)
	}
	w.logger.Warn("mentions stalled, operator alerted", zap.Duration("gap", gap))
	return StatusAlerted, nil
}

// Message renders the operator alert. latest is nil when no mention exists.
func Message(latest *time.Time, gap time.Duration) string {
	since := "nunca (0 menciones en DB)"
	if latest != nil {
		since = fmt.Sprintf("%.1f horas", gap.Hours())
	}
	return "⚠️ *WATCHDOG: Sin menciones nuevas*\n\n" +
		"No se han creado menciones en las últimas *" + since + "*.\n\n" +
		"Esto puede indicar que los workers están congelados o que los collectors no están funcionando.\n\n" +
		"🔧 Acciones sugeridas:\n" +
		"• Verificar logs de workers\n" +
		"• Revisar estado de los contenedores\n" +
		"• Verificar conectividad con APIs externas"
}
