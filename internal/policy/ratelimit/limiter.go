// Package ratelimit implements per-queue token buckets expressed as
// "at most Max jobs per Window".
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/mediawatch/internal/metrics"
)

// Rule caps throughput at Max events per Window. A zero Rule is unlimited.
type Rule struct {
	Max    int
	Window time.Duration
}

// Unlimited reports whether the rule imposes no limit.
func (r Rule) Unlimited() bool {
	return r.Max <= 0 || r.Window <= 0
}

// Limiter manages one token bucket per key.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rules    map[string]Rule
}

// New creates a Limiter with the given per-key rules.
func New(rules map[string]Rule) *Limiter {
	copied := make(map[string]Rule, len(rules))
	for k, v := range rules {
		copied[k] = v
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rules:    copied,
	}
}

// Set installs or replaces the rule for key.
func (l *Limiter) Set(key string, rule Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules[key] = rule
	delete(l.limiters, key)
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	rule := l.rules[key]
	var lim *rate.Limiter
	if rule.Unlimited() {
		lim = rate.NewLimiter(rate.Inf, 1)
	} else {
		lim = rate.NewLimiter(rate.Every(rule.Window/time.Duration(rule.Max)), rule.Max)
	}
	l.limiters[key] = lim
	return lim
}

// Wait blocks until key may proceed or ctx ends.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	start := time.Now()
	if err := l.bucket(key).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(key, d)
	}
	return nil
}

// Allow reports whether key may proceed now without waiting.
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}
