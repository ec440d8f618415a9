// Package kv provides the small key-value store used for cooldown flags.
package kv

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/mediawatch/internal/media"
)

type entry struct {
	value   string
	expires time.Time
}

// Memory is a process-local media.KV with lazy expiry.
type Memory struct {
	mu    sync.Mutex
	clock media.Clock
	data  map[string]entry
}

// NewMemory returns an empty store.
func NewMemory(clock media.Clock) *Memory {
	return &Memory{clock: clock, data: make(map[string]entry)}
}

// Exists implements media.KV.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return false, nil
	}
	if !e.expires.IsZero() && !m.clock.Now().Before(e.expires) {
		delete(m.data, key)
		return false, nil
	}
	return true, nil
}

// Set implements media.KV. A non-positive ttl never expires.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expires = m.clock.Now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

// Delete implements media.KV.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
