// Package postgres implements a durable job broker on a Postgres table.
// Workers claim jobs with FOR UPDATE SKIP LOCKED so any number of processes
// can share one queue. A claimed job holds a lease; when the lease runs out
// before the job finishes (the worker died) the job is claimed again, or
// failed if it has no attempts left.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/queue"
	store "github.com/JakeFAU/mediawatch/internal/storage/postgres"
)

const jobColumns = `id, queue, name, payload, state, attempts, attempts_made, backoff_type,
	backoff_delay_ms, priority, idempotency_key, run_at, created_at, finished_at, last_error`

// DefaultLease is how long a reserved job stays claimed when its queue has no
// explicit lease.
const DefaultLease = 15 * time.Minute

// Broker stores jobs in the jobs table.
type Broker struct {
	db     store.DB
	clock  media.Clock
	ids    media.IDGenerator
	lease  time.Duration
	leases map[string]time.Duration
}

// Option configures a Broker.
type Option func(*Broker)

// WithLease sets the lease for jobs reserved from q. It should exceed the
// queue's handler timeout.
func WithLease(q string, d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.leases[q] = d
		}
	}
}

// WithDefaultLease sets the lease for queues without their own.
func WithDefaultLease(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.lease = d
		}
	}
}

// NewBroker wraps an open pool. The broker does not own db.
func NewBroker(db store.DB, clock media.Clock, ids media.IDGenerator, opts ...Option) *Broker {
	b := &Broker{db: db, clock: clock, ids: ids, lease: DefaultLease, leases: map[string]time.Duration{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) leaseFor(q string) time.Duration {
	if d, ok := b.leases[q]; ok {
		return d
	}
	return b.lease
}

// Enqueue inserts a job. A pending job with the same idempotency key wins.
func (b *Broker) Enqueue(
	ctx context.Context,
	q, name string,
	payload json.RawMessage,
	opts queue.Options,
) (queue.Job, bool, error) {
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
	if payload == nil {
		payload = json.RawMessage("null")
	}
	var key *string
	if opts.IdempotencyKey != "" {
		key = &opts.IdempotencyKey
	}
	row := b.db.QueryRow(ctx, `
INSERT INTO jobs (id, queue, name, payload, state, attempts, attempts_made, backoff_type,
	backoff_delay_ms, priority, idempotency_key, run_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,$9,$10,$11,$12)
ON CONFLICT (queue, idempotency_key) WHERE state IN ('waiting','delayed','active') DO NOTHING
RETURNING `+jobColumns,
		id, q, name, []byte(payload), string(state), attempts, string(opts.Backoff.Type),
		opts.Backoff.Delay.Milliseconds(), opts.Priority, key, now.Add(opts.Delay), now,
	)
	job, err := scanJob(row)
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || key == nil {
		return queue.Job{}, false, fmt.Errorf("insert job: %w", err)
	}
	existing, err := scanJob(b.db.QueryRow(ctx, `
SELECT `+jobColumns+` FROM jobs
WHERE queue = $1 AND idempotency_key = $2 AND state IN ('waiting','delayed','active')`,
		q, *key,
	))
	if err != nil {
		return queue.Job{}, false, fmt.Errorf("load pending job: %w", err)
	}
	return existing, false, nil
}

// Reserve claims the next ready job in q. Jobs whose lease expired are
// claimed again; those without attempts left are failed first.
func (b *Broker) Reserve(ctx context.Context, q string) (queue.Job, error) {
	now := b.clock.Now()
	if _, err := b.db.Exec(ctx, `
UPDATE jobs SET state = 'failed', finished_at = $2, last_error = 'lease expired', locked_until = NULL
WHERE queue = $1 AND state = 'active' AND locked_until <= $2 AND attempts_made >= attempts`,
		q, now,
	); err != nil {
		return queue.Job{}, fmt.Errorf("expire stale jobs: %w", err)
	}

	job, err := scanJob(b.db.QueryRow(ctx, `
UPDATE jobs SET state = 'active', attempts_made = attempts_made + 1, locked_until = $3
WHERE id = (
	SELECT id FROM jobs
	WHERE queue = $1 AND (
		(state IN ('waiting','delayed') AND run_at <= $2)
		OR (state = 'active' AND locked_until <= $2)
	)
	ORDER BY priority, run_at, created_at
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING `+jobColumns,
		q, now, now.Add(b.leaseFor(q)),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.Job{}, queue.ErrNoJob
	}
	if err != nil {
		return queue.Job{}, fmt.Errorf("reserve job: %w", err)
	}
	return job, nil
}

// Complete marks the job completed.
func (b *Broker) Complete(ctx context.Context, job queue.Job) error {
	return b.finish(ctx, job, queue.StateCompleted, "")
}

// Fail marks the job failed.
func (b *Broker) Fail(ctx context.Context, job queue.Job, errText string) error {
	return b.finish(ctx, job, queue.StateFailed, errText)
}

func (b *Broker) finish(ctx context.Context, job queue.Job, state queue.State, errText string) error {
	tag, err := b.db.Exec(ctx,
		`UPDATE jobs SET state = $1, finished_at = $2, last_error = NULLIF($3, ''), locked_until = NULL WHERE id = $4`,
		string(state), b.clock.Now(), errText, job.ID,
	)
	if err != nil {
		return fmt.Errorf("mark job %s %s: %w", job.ID, state, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark job %s %s: %w", job.ID, state, media.ErrNotFound)
	}
	return nil
}

// Retry parks the job until runAt.
func (b *Broker) Retry(ctx context.Context, job queue.Job, runAt time.Time, errText string) error {
	tag, err := b.db.Exec(ctx,
		`UPDATE jobs SET state = 'delayed', run_at = $1, last_error = $2, locked_until = NULL WHERE id = $3`,
		runAt, errText, job.ID,
	)
	if err != nil {
		return fmt.Errorf("retry job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("retry job %s: %w", job.ID, media.ErrNotFound)
	}
	return nil
}

// Release makes an active job ready again without spending an attempt.
func (b *Broker) Release(ctx context.Context, job queue.Job) error {
	tag, err := b.db.Exec(ctx, `
UPDATE jobs SET state = 'waiting', run_at = $1, attempts_made = GREATEST(attempts_made - 1, 0), locked_until = NULL
WHERE id = $2 AND state = 'active'`,
		b.clock.Now(), job.ID,
	)
	if err != nil {
		return fmt.Errorf("release job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("release job %s: %w", job.ID, media.ErrNotFound)
	}
	return nil
}

// Counts groups the jobs in q by state.
func (b *Broker) Counts(ctx context.Context, q string) (queue.Counts, error) {
	rows, err := b.db.Query(ctx, `SELECT state, count(*) FROM jobs WHERE queue = $1 GROUP BY state`, q)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	counts := queue.Counts{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[queue.State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job counts: %w", err)
	}
	return counts, nil
}

// Close is a no-op; the pool belongs to the caller.
func (b *Broker) Close() error {
	return nil
}

func scanJob(row pgx.Row) (queue.Job, error) {
	var (
		job         queue.Job
		payload     []byte
		state       string
		backoffType string
		backoffMs   int64
		key         *string
		lastError   *string
	)
	err := row.Scan(
		&job.ID,
		&job.Queue,
		&job.Name,
		&payload,
		&state,
		&job.Attempts,
		&job.AttemptsMade,
		&backoffType,
		&backoffMs,
		&job.Priority,
		&key,
		&job.RunAt,
		&job.CreatedAt,
		&job.FinishedAt,
		&lastError,
	)
	if err != nil {
		return queue.Job{}, err
	}
	job.Payload = payload
	job.State = queue.State(state)
	job.Backoff = queue.Backoff{Type: queue.BackoffType(backoffType), Delay: time.Duration(backoffMs) * time.Millisecond}
	if key != nil {
		job.IdempotencyKey = *key
	}
	if lastError != nil {
		job.LastError = *lastError
	}
	return job, nil
}
