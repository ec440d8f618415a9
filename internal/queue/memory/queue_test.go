package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

func newBroker() (*Broker, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	return NewBroker(clk, &seqIDs{}), clk
}

func TestBrokerEnqueueReserveComplete(t *testing.T) {
	t.Parallel()

	b, _ := newBroker()
	ctx := context.Background()

	job, created, err := b.Enqueue(ctx, "ingest-article", "ingest", json.RawMessage(`{"url":"u"}`), queue.Options{Attempts: 3})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, queue.StateWaiting, job.State)

	got, err := b.Reserve(ctx, "ingest-article")
	require.NoError(t, err)
	require.Equal(t, job.ID, got.ID)
	require.Equal(t, 1, got.AttemptsMade)
	require.Equal(t, queue.StateActive, got.State)

	_, err = b.Reserve(ctx, "ingest-article")
	require.ErrorIs(t, err, queue.ErrNoJob)

	require.NoError(t, b.Complete(ctx, got))
	counts, err := b.Counts(ctx, "ingest-article")
	require.NoError(t, err)
	require.Equal(t, 1, counts[queue.StateCompleted])
	require.Zero(t, counts[queue.StateActive])
}

func TestBrokerIdempotencyKeyWhilePending(t *testing.T) {
	t.Parallel()

	b, _ := newBroker()
	ctx := context.Background()
	opts := queue.Options{IdempotencyKey: "article:abc"}

	first, created, err := b.Enqueue(ctx, "ingest-article", "ingest", nil, opts)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := b.Enqueue(ctx, "ingest-article", "ingest", nil, opts)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)

	// same key on another queue is independent
	_, created, err = b.Enqueue(ctx, "analyze-mention", "analyze", nil, opts)
	require.NoError(t, err)
	require.True(t, created)

	reserved, err := b.Reserve(ctx, "ingest-article")
	require.NoError(t, err)
	require.NoError(t, b.Complete(ctx, reserved))

	_, created, err = b.Enqueue(ctx, "ingest-article", "ingest", nil, opts)
	require.NoError(t, err)
	require.True(t, created, "key is reusable once the job finished")
}

func TestBrokerDelayedJobsWaitForRunAt(t *testing.T) {
	t.Parallel()

	b, clk := newBroker()
	ctx := context.Background()

	job, _, err := b.Enqueue(ctx, "grounding-execute", "g", nil, queue.Options{Delay: time.Minute})
	require.NoError(t, err)
	require.Equal(t, queue.StateDelayed, job.State)

	_, err = b.Reserve(ctx, "grounding-execute")
	require.ErrorIs(t, err, queue.ErrNoJob)

	clk.Advance(time.Minute)
	got, err := b.Reserve(ctx, "grounding-execute")
	require.NoError(t, err)
	require.Equal(t, job.ID, got.ID)
}

func TestBrokerPriorityOrdering(t *testing.T) {
	t.Parallel()

	b, _ := newBroker()
	ctx := context.Background()

	low, _, err := b.Enqueue(ctx, "notify-alert", "alert", nil, queue.Options{Priority: 2})
	require.NoError(t, err)
	high, _, err := b.Enqueue(ctx, "notify-alert", "alert", nil, queue.Options{Priority: 1})
	require.NoError(t, err)

	first, err := b.Reserve(ctx, "notify-alert")
	require.NoError(t, err)
	require.Equal(t, high.ID, first.ID)
	second, err := b.Reserve(ctx, "notify-alert")
	require.NoError(t, err)
	require.Equal(t, low.ID, second.ID)
}

func TestBrokerRetryAndFail(t *testing.T) {
	t.Parallel()

	b, clk := newBroker()
	ctx := context.Background()

	_, _, err := b.Enqueue(ctx, "analyze-mention", "analyze", nil, queue.Options{Attempts: 2, IdempotencyKey: "m1"})
	require.NoError(t, err)

	got, err := b.Reserve(ctx, "analyze-mention")
	require.NoError(t, err)
	require.NoError(t, b.Retry(ctx, got, clk.Now().Add(5*time.Second), "boom"))

	_, err = b.Reserve(ctx, "analyze-mention")
	require.ErrorIs(t, err, queue.ErrNoJob)

	clk.Advance(5 * time.Second)
	got, err = b.Reserve(ctx, "analyze-mention")
	require.NoError(t, err)
	require.Equal(t, 2, got.AttemptsMade)
	require.NoError(t, b.Fail(ctx, got, "boom again"))

	stored, ok := b.Get(got.ID)
	require.True(t, ok)
	require.Equal(t, queue.StateFailed, stored.State)
	require.Equal(t, "boom again", stored.LastError)

	counts, err := b.Counts(ctx, "analyze-mention")
	require.NoError(t, err)
	require.Equal(t, 1, counts[queue.StateFailed])
}

func TestBrokerClose(t *testing.T) {
	t.Parallel()

	b, _ := newBroker()
	require.NoError(t, b.Close())
	_, _, err := b.Enqueue(context.Background(), "q", "n", nil, queue.Options{})
	require.ErrorIs(t, err, queue.ErrClosed)
	_, err = b.Reserve(context.Background(), "q")
	require.ErrorIs(t, err, queue.ErrClosed)
}

func TestBrokerReleaseGivesBackAttempt(t *testing.T) {
	t.Parallel()

	b, _ := newBroker()
	ctx := context.Background()
	job, _, err := b.Enqueue(ctx, "notify-alert", "notify", json.RawMessage(`{}`), queue.Options{Attempts: 1})
	require.NoError(t, err)

	reserved, err := b.Reserve(ctx, "notify-alert")
	require.NoError(t, err)
	require.Equal(t, 1, reserved.AttemptsMade)

	require.NoError(t, b.Release(ctx, reserved))
	again, err := b.Reserve(ctx, "notify-alert")
	require.NoError(t, err)
	require.Equal(t, job.ID, again.ID)
	require.Equal(t, 1, again.AttemptsMade)

	require.ErrorIs(t, b.Release(ctx, queue.Job{ID: "missing"}), media.ErrNotFound)
}
