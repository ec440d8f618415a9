// Package queue defines the durable job store abstraction: named queues with
// delayed jobs, priorities, retry with backoff and idempotency keys.
// Brokers live in the memory and postgres subpackages; consumers live in
// the worker package.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNoJob is returned by Reserve when no job is ready.
	ErrNoJob = errors.New("no job ready")
	// ErrClosed is returned once a broker has been closed.
	ErrClosed = errors.New("broker closed")
)

// State is the lifecycle state of a job.
type State string

// Job states.
const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Pending reports whether the job still counts against its idempotency key.
func (s State) Pending() bool {
	return s == StateWaiting || s == StateDelayed || s == StateActive
}

// BackoffType selects how retry delays grow.
type BackoffType string

// Backoff types.
const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff configures retry delays.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Options are per-job settings supplied at enqueue time.
type Options struct {
	Delay          time.Duration
	Attempts       int
	Backoff        Backoff
	Priority       int
	IdempotencyKey string
}

// Job is a unit of work stored in a named queue.
type Job struct {
	ID             string
	Queue          string
	Name           string
	Payload        json.RawMessage
	State          State
	Attempts       int
	AttemptsMade   int
	Backoff        Backoff
	Priority       int
	IdempotencyKey string
	RunAt          time.Time
	CreatedAt      time.Time
	FinishedAt     *time.Time
	LastError      string
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// Counts summarizes a queue by state.
type Counts map[State]int

// Broker stores and hands out jobs.
type Broker interface {
	// Enqueue stores a job. When opts.IdempotencyKey matches a pending job the
	// existing job is returned with created=false.
	Enqueue(ctx context.Context, queue, name string, payload json.RawMessage, opts Options) (job Job, created bool, err error)
	// Reserve claims the next ready job or returns ErrNoJob.
	Reserve(ctx context.Context, queue string) (Job, error)
	Complete(ctx context.Context, job Job) error
	// Retry puts an active job back to wait until runAt.
	Retry(ctx context.Context, job Job, runAt time.Time, errText string) error
	// Release returns an active job that never ran to completion to the
	// waiting state and gives back the attempt Reserve counted.
	Release(ctx context.Context, job Job) error
	Fail(ctx context.Context, job Job, errText string) error
	Counts(ctx context.Context, queue string) (Counts, error)
	Close() error
}
