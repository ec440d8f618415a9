// Package scheduler turns cron patterns into recurring queue jobs.
//
// Every process may run a scheduler against the same broker: each tick is
// enqueued with the idempotency key repeat:<name>:<unix>, so concurrent
// schedulers collapse onto one pending job.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/media"
)

// Entry describes one registered recurring job.
type Entry struct {
	Name    string
	Queue   string
	Pattern string
	Next    time.Time
}

type entry struct {
	Entry
	payload  any
	schedule cron.Schedule
}

// Scheduler enqueues jobs whose cron time has passed.
type Scheduler struct {
	mu       sync.Mutex
	entries  map[string]*entry
	enqueuer media.Enqueuer
	clock    media.Clock
	interval time.Duration
	logger   *zap.Logger
}

// New builds a Scheduler that checks for due entries every interval.
func New(enqueuer media.Enqueuer, clock media.Clock, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		entries:  make(map[string]*entry),
		enqueuer: enqueuer,
		clock:    clock,
		interval: interval,
		logger:   logger.Named("scheduler"),
	}
}

// ScheduleRecurring registers or replaces the entry called name.
// Re-registering with the same pattern keeps the pending fire time.
func (s *Scheduler) ScheduleRecurring(name, queue, pattern string, payload any) error {
	schedule, err := cron.ParseStandard(pattern)
	if err != nil {
		return fmt.Errorf("parse cron %q for %s: %w", pattern, name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[name]; ok && cur.Pattern == pattern && cur.Queue == queue {
		cur.payload = payload
		return nil
	}
	s.entries[name] = &entry{
		Entry: Entry{
			Name:    name,
			Queue:   queue,
			Pattern: pattern,
			Next:    schedule.Next(s.clock.Now()),
		},
		payload:  payload,
		schedule: schedule,
	}
	s.logger.Info("recurring job registered",
		zap.String("name", name),
		zap.String("queue", queue),
		zap.String("cron", pattern),
	)
	return nil
}

// Remove drops the entry called name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Entries lists registered entries sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunDue enqueues every entry whose fire time has passed and returns how many
// jobs were submitted. Missed ticks collapse into one.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.clock.Now()

	type due struct {
		name, queue string
		at          time.Time
		payload     any
	}
	var fire []due
	s.mu.Lock()
	for _, e := range s.entries {
		if e.Next.After(now) {
			continue
		}
		fire = append(fire, due{name: e.Name, queue: e.Queue, at: e.Next, payload: e.payload})
		e.Next = e.schedule.Next(now)
	}
	s.mu.Unlock()

	submitted := 0
	for _, d := range fire {
		key := "repeat:" + d.name + ":" + strconv.FormatInt(d.at.Unix(), 10)
		if err := s.enqueuer.Add(ctx, d.queue, d.payload, media.JobOptions{IdempotencyKey: key}); err != nil {
			s.logger.Error("recurring enqueue failed", zap.String("name", d.name), zap.Error(err))
			continue
		}
		submitted++
		s.logger.Debug("recurring job enqueued", zap.String("name", d.name), zap.String("key", key))
	}
	return submitted
}

// Run checks for due entries until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}
