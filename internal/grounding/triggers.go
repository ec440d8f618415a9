package grounding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/queue"
)

const defaultArticleCount = 10

// Request builds the grounding-execute payload for client.
func Request(client media.Client, trigger media.GroundingTrigger, days int) media.GroundingRequest {
	count := client.GroundingArticleCount
	if count <= 0 {
		count = defaultArticleCount
	}
	return media.GroundingRequest{
		ClientID:     client.ID,
		ClientName:   client.Name,
		Industry:     client.Industry,
		Days:         days,
		ArticleCount: count,
		Trigger:      trigger,
	}
}

// Enqueue schedules a grounding-execute job after delay.
func Enqueue(ctx context.Context, enq media.Enqueuer, req media.GroundingRequest, delay time.Duration) error {
	return enqueue(ctx, enq, req, delay, "")
}

// WeeklyKey identifies the weekly search of one client on one day.
func WeeklyKey(clientID string, day time.Time) string {
	return "grounding:weekly:" + clientID + ":" + day.Format(time.DateOnly)
}

func enqueue(ctx context.Context, enq media.Enqueuer, req media.GroundingRequest, delay time.Duration, key string) error {
	err := enq.Add(ctx, queue.GroundingExecute, req, media.JobOptions{
		Delay:          delay,
		Attempts:       2,
		BackoffDelay:   10 * time.Second,
		IdempotencyKey: key,
	})
	if err != nil {
		return fmt.Errorf("enqueue grounding for %s: %w", req.ClientID, err)
	}
	return nil
}

// TriggerConfig tunes the scheduled triggers.
type TriggerConfig struct {
	// WeeklyStagger spaces consecutive weekly jobs.
	WeeklyStagger time.Duration
	// LowVolumeStagger spaces consecutive low-volume jobs.
	LowVolumeStagger time.Duration
	// LowVolumeCooldown skips clients grounded more recently than this.
	LowVolumeCooldown time.Duration
}

func (c TriggerConfig) withDefaults() TriggerConfig {
	if c.WeeklyStagger <= 0 {
		c.WeeklyStagger = time.Minute
	}
	if c.LowVolumeStagger <= 0 {
		c.LowVolumeStagger = 30 * time.Second
	}
	if c.LowVolumeCooldown <= 0 {
		c.LowVolumeCooldown = 12 * time.Hour
	}
	return c
}

// Triggers decides which clients need a grounding search.
type Triggers struct {
	clients  media.ClientStore
	mentions media.MentionStore
	enqueuer media.Enqueuer
	clock    media.Clock
	cfg      TriggerConfig
	logger   *zap.Logger
}

// NewTriggers builds the weekly and low-volume triggers.
func NewTriggers(
	clients media.ClientStore,
	mentions media.MentionStore,
	enqueuer media.Enqueuer,
	clock media.Clock,
	cfg TriggerConfig,
	logger *zap.Logger,
) *Triggers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Triggers{
		clients:  clients,
		mentions: mentions,
		enqueuer: enqueuer,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("grounding"),
	}
}

// Weekly queues a 7-day search for every active client whose weekly day is
// today and that has not been grounded yet today.
func (t *Triggers) Weekly(ctx context.Context) (int, error) {
	now := t.clock.Now()
	clients, err := t.clients.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list clients: %w", err)
	}
	queued := 0
	for _, c := range clients {
		if !c.WeeklyGroundingEnabled || c.WeeklyGroundingDay != int(now.Weekday()) {
			continue
		}
		if c.LastGroundingAt != nil && sameDay(*c.LastGroundingAt, now) {
			t.logger.Debug("already grounded today", zap.String("client", c.Name))
			continue
		}
		delay := time.Duration(queued) * t.cfg.WeeklyStagger
		if err := enqueue(ctx, t.enqueuer, Request(c, media.TriggerWeekly, 7), delay, WeeklyKey(c.ID, now)); err != nil {
			return queued, err
		}
		queued++
	}
	t.logger.Info("weekly grounding scheduled", zap.Int("queued", queued), zap.Int("day", int(now.Weekday())))
	return queued, nil
}

// CheckRequest is the payload of a grounding-check job. An empty ClientID
// checks every active client.
type CheckRequest struct {
	ClientID string `json:"clientId,omitempty"`
}

// LowVolume queues a 14-day search for each active client whose mention
// count stayed below its daily minimum for its whole threshold window.
// Clients grounded within the cooldown are skipped; per-client errors are
// logged and do not stop the sweep.
func (t *Triggers) LowVolume(ctx context.Context) (checked, triggered int, err error) {
	now := t.clock.Now()
	clients, err := t.clients.ListActive(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list clients: %w", err)
	}
	for _, c := range clients {
		checked++
		if c.LastGroundingAt != nil && now.Sub(*c.LastGroundingAt) < t.cfg.LowVolumeCooldown {
			t.logger.Debug("grounded recently", zap.String("client", c.Name))
			continue
		}
		low, err := t.isLow(ctx, c, now)
		if err != nil {
			t.logger.Warn("low volume check failed", zap.String("client", c.Name), zap.Error(err))
			continue
		}
		if !low {
			continue
		}
		req := Request(c, media.TriggerAutoLowMentions, 14)
		if err := Enqueue(ctx, t.enqueuer, req, time.Duration(triggered)*t.cfg.LowVolumeStagger); err != nil {
			t.logger.Warn("low volume enqueue failed", zap.String("client", c.Name), zap.Error(err))
			continue
		}
		triggered++
	}
	t.logger.Info("low volume check complete", zap.Int("checked", checked), zap.Int("triggered", triggered))
	return checked, triggered, nil
}

// CheckClient runs the low-volume condition for one client without the
// cooldown and reports whether a search was queued.
func (t *Triggers) CheckClient(ctx context.Context, clientID string) (bool, error) {
	c, err := t.clients.Get(ctx, clientID)
	if err != nil {
		return false, fmt.Errorf("load client %s: %w", clientID, err)
	}
	if !c.Active {
		return false, nil
	}
	low, err := t.isLow(ctx, c, t.clock.Now())
	if err != nil || !low {
		return false, err
	}
	return true, Enqueue(ctx, t.enqueuer, Request(c, media.TriggerAutoLowMentions, 14), 0)
}

func (t *Triggers) isLow(ctx context.Context, c media.Client, now time.Time) (bool, error) {
	if c.ConsecutiveDaysThreshold <= 0 || c.MinDailyMentions <= 0 {
		return false, nil
	}
	counts, err := t.mentions.DailyCounts(ctx, c.ID, c.ConsecutiveDaysThreshold, now)
	if err != nil {
		return false, fmt.Errorf("daily counts: %w", err)
	}
	for _, n := range counts {
		if n >= c.MinDailyMentions {
			return false, nil
		}
	}
	return true, nil
}

// HandleWeekly implements worker.Handler for grounding-weekly.
func (t *Triggers) HandleWeekly(ctx context.Context, _ queue.Job) error {
	_, err := t.Weekly(ctx)
	return err
}

// HandleCheck implements worker.Handler for grounding-check.
func (t *Triggers) HandleCheck(ctx context.Context, job queue.Job) error {
	var req CheckRequest
	if len(job.Payload) > 0 {
		if err := job.Decode(&req); err != nil {
			return fmt.Errorf("decode grounding check: %w: %w", queue.ErrPermanent, err)
		}
	}
	if req.ClientID != "" {
		_, err := t.CheckClient(ctx, req.ClientID)
		return err
	}
	_, _, err := t.LowVolume(ctx)
	return err
}

func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
