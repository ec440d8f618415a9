// Package memory provides an in-process job broker for local development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/queue"
)

// Broker keeps jobs in maps guarded by a mutex. Nothing survives a restart.
type Broker struct {
	mu        sync.Mutex
	jobs      map[string]*entry
	keys      map[string]string
	completed map[string]int
	seq       uint64
	closed    bool
	clock     media.Clock
	ids       media.IDGenerator
}

type entry struct {
	job queue.Job
	seq uint64
}

// NewBroker constructs an empty Broker.
func NewBroker(clock media.Clock, ids media.IDGenerator) *Broker {
	return &Broker{
		jobs:      make(map[string]*entry),
		keys:      make(map[string]string),
		completed: make(map[string]int),
		clock:     clock,
		ids:       ids,
	}
}

func keyOf(q, k string) string {
	return q + "\x00" + k
}

// Enqueue stores a job unless its idempotency key is still pending.
func (b *Broker) Enqueue(
	_ context.Context,
	q, name string,
	payload json.RawMessage,
	opts queue.Options,
) (queue.Job, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return queue.Job{}, false, queue.ErrClosed
	}
	if opts.IdempotencyKey != "" {
		if id, ok := b.keys[keyOf(q, opts.IdempotencyKey)]; ok {
			if e, ok := b.jobs[id]; ok && e.job.State.Pending() {
				return e.job, false, nil
			}
		}
	}
	id, err := b.ids.NewID()
	if err != nil {
		return queue.Job{}, false, fmt.Errorf("generate job id: %w", err)
	}
	now := b.clock.Now()
	state := queue.StateWaiting
	if opts.Delay > 0 {
		state = queue.StateDelayed
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	b.seq++
	job := queue.Job{
		ID:             id,
		Queue:          q,
		Name:           name,
		Payload:        append(json.RawMessage(nil), payload...),
		State:          state,
		Attempts:       attempts,
		Backoff:        opts.Backoff,
		Priority:       opts.Priority,
		IdempotencyKey: opts.IdempotencyKey,
		RunAt:          now.Add(opts.Delay),
		CreatedAt:      now,
	}
	b.jobs[id] = &entry{job: job, seq: b.seq}
	if opts.IdempotencyKey != "" {
		b.keys[keyOf(q, opts.IdempotencyKey)] = id
	}
	return job, true, nil
}

// Reserve claims the ready job with the lowest priority, then earliest run time.
func (b *Broker) Reserve(_ context.Context, q string) (queue.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return queue.Job{}, queue.ErrClosed
	}
	now := b.clock.Now()
	var best *entry
	for _, e := range b.jobs {
		if e.job.Queue != q {
			continue
		}
		if e.job.State != queue.StateWaiting && e.job.State != queue.StateDelayed {
			continue
		}
		if e.job.RunAt.After(now) {
			continue
		}
		if best == nil || less(e, best) {
			best = e
		}
	}
	if best == nil {
		return queue.Job{}, queue.ErrNoJob
	}
	best.job.State = queue.StateActive
	best.job.AttemptsMade++
	return best.job, nil
}

func less(a, b *entry) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority < b.job.Priority
	}
	if !a.job.RunAt.Equal(b.job.RunAt) {
		return a.job.RunAt.Before(b.job.RunAt)
	}
	return a.seq < b.seq
}

// Complete drops the job and frees its idempotency key.
func (b *Broker) Complete(_ context.Context, job queue.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.jobs[job.ID]
	if !ok {
		return fmt.Errorf("complete job %s: %w", job.ID, media.ErrNotFound)
	}
	delete(b.jobs, job.ID)
	if e.job.IdempotencyKey != "" {
		delete(b.keys, keyOf(e.job.Queue, e.job.IdempotencyKey))
	}
	b.completed[e.job.Queue]++
	return nil
}

// Retry schedules the job to run again at runAt.
func (b *Broker) Retry(_ context.Context, job queue.Job, runAt time.Time, errText string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.jobs[job.ID]
	if !ok {
		return fmt.Errorf("retry job %s: %w", job.ID, media.ErrNotFound)
	}
	e.job.State = queue.StateDelayed
	e.job.RunAt = runAt
	e.job.LastError = errText
	return nil
}

// Release makes the job ready now and undoes the attempt counted by Reserve.
func (b *Broker) Release(_ context.Context, job queue.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.jobs[job.ID]
	if !ok {
		return fmt.Errorf("release job %s: %w", job.ID, media.ErrNotFound)
	}
	e.job.State = queue.StateWaiting
	e.job.RunAt = b.clock.Now()
	if e.job.AttemptsMade > 0 {
		e.job.AttemptsMade--
	}
	return nil
}

// Fail marks the job failed. Failed jobs stay visible in Counts.
func (b *Broker) Fail(_ context.Context, job queue.Job, errText string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.jobs[job.ID]
	if !ok {
		return fmt.Errorf("fail job %s: %w", job.ID, media.ErrNotFound)
	}
	now := b.clock.Now()
	e.job.State = queue.StateFailed
	e.job.LastError = errText
	e.job.FinishedAt = &now
	if e.job.IdempotencyKey != "" {
		delete(b.keys, keyOf(e.job.Queue, e.job.IdempotencyKey))
	}
	return nil
}

// Counts tallies jobs in q by state.
func (b *Broker) Counts(_ context.Context, q string) (queue.Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	counts := queue.Counts{}
	for _, e := range b.jobs {
		if e.job.Queue == q {
			counts[e.job.State]++
		}
	}
	if n := b.completed[q]; n > 0 {
		counts[queue.StateCompleted] = n
	}
	return counts, nil
}

// Get returns a copy of a stored job.
func (b *Broker) Get(id string) (queue.Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.jobs[id]
	if !ok {
		return queue.Job{}, false
	}
	return e.job, true
}

// Jobs returns copies of every stored job in q.
func (b *Broker) Jobs(q string) []queue.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []queue.Job
	for _, e := range b.jobs {
		if e.job.Queue == q {
			out = append(out, e.job)
		}
	}
	return out
}

// Close rejects further operations.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
