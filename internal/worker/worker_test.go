package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/policy/ratelimit"
	"github.com/JakeFAU/mediawatch/internal/queue"
	"github.com/JakeFAU/mediawatch/internal/queue/memory"
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

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%d", s.n.Add(1)), nil
}

func newBroker() (*memory.Broker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return memory.NewBroker(clock, &seqIDs{}), clock
}

func enqueue(t *testing.T, b *memory.Broker, q string, opts queue.Options) queue.Job {
	t.Helper()
	job, created, err := b.Enqueue(context.Background(), q, q, []byte(`{}`), opts)
	require.NoError(t, err)
	require.True(t, created)
	return job
}

func TestWorkerCompletesJob(t *testing.T) {
	t.Parallel()

	b, clock := newBroker()
	enqueue(t, b, "ingest-article", queue.Options{Attempts: 3})

	var calls atomic.Int32
	w := New(b, HandlerFunc(func(context.Context, queue.Job) error {
		calls.Add(1)
		return nil
	}), nil, clock, Config{Queue: "ingest-article", PollInterval: 5 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		counts, _ := b.Counts(context.Background(), "ingest-article")
		return counts[queue.StateCompleted] == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), calls.Load())
}

func TestWorkerRetriesWithBackoffThenFails(t *testing.T) {
	t.Parallel()

	b, clock := newBroker()
	job := enqueue(t, b, "analyze-mention", queue.Options{
		Attempts: 2,
		Backoff:  queue.Backoff{Type: queue.BackoffExponential, Delay: 5 * time.Second},
	})

	var calls atomic.Int32
	w := New(b, HandlerFunc(func(context.Context, queue.Job) error {
		calls.Add(1)
		return errors.New("model unavailable")
	}), nil, clock, Config{Queue: "analyze-mention", PollInterval: 5 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		got, _ := b.Get(job.ID)
		return got.State == queue.StateDelayed
	}, time.Second, 5*time.Millisecond)
	got, _ := b.Get(job.ID)
	require.Equal(t, clock.Now().Add(5*time.Second), got.RunAt)
	require.Equal(t, "model unavailable", got.LastError)

	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		got, _ := b.Get(job.ID)
		return got.State == queue.StateFailed
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(2), calls.Load())
}

func TestWorkerPermanentErrorSkipsRetry(t *testing.T) {
	t.Parallel()

	b, clock := newBroker()
	job := enqueue(t, b, "notify-alert", queue.Options{Attempts: 5})

	w := New(b, HandlerFunc(func(context.Context, queue.Job) error {
		return fmt.Errorf("decode payload: %w", queue.ErrPermanent)
	}), nil, clock, Config{Queue: "notify-alert", PollInterval: 5 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		got, _ := b.Get(job.ID)
		return got.State == queue.StateFailed
	}, time.Second, 5*time.Millisecond)
	got, _ := b.Get(job.ID)
	require.Equal(t, 1, got.AttemptsMade)
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	t.Parallel()

	b, clock := newBroker()
	job := enqueue(t, b, "grounding-execute", queue.Options{Attempts: 1})

	w := New(b, HandlerFunc(func(context.Context, queue.Job) error {
		panic("nil client")
	}), nil, clock, Config{Queue: "grounding-execute", PollInterval: 5 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		got, _ := b.Get(job.ID)
		return got.State == queue.StateFailed
	}, time.Second, 5*time.Millisecond)
	got, _ := b.Get(job.ID)
	require.Contains(t, got.LastError, "handler panic: nil client")
}

func TestWorkerConcurrencyBound(t *testing.T) {
	t.Parallel()

	b, clock := newBroker()
	for i := 0; i < 6; i++ {
		enqueue(t, b, "ingest-article", queue.Options{})
	}

	var active, peak atomic.Int32
	release := make(chan struct{})
	w := New(b, HandlerFunc(func(context.Context, queue.Job) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return nil
	}), nil, clock, Config{Queue: "ingest-article", Concurrency: 3, PollInterval: 5 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool { return active.Load() == 3 }, time.Second, 5*time.Millisecond)
	close(release)
	require.Eventually(t, func() bool {
		counts, _ := b.Counts(context.Background(), "ingest-article")
		return counts[queue.StateCompleted] == 6
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(3), peak.Load())
}

func TestWorkerStopsWhenBrokerCloses(t *testing.T) {
	t.Parallel()

	b, clock := newBroker()
	w := New(b, HandlerFunc(func(context.Context, queue.Job) error { return nil }),
		nil, clock, Config{Queue: "collect-rss", PollInterval: 5 * time.Millisecond}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	require.NoError(t, b.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after broker close")
	}
}

func TestWorkerShutdownWhileThrottledKeepsAttempt(t *testing.T) {
	t.Parallel()

	b, clock := newBroker()
	job := enqueue(t, b, "grounding-execute", queue.Options{Attempts: 1})

	limiter := ratelimit.New(map[string]ratelimit.Rule{"grounding-execute": {Max: 1, Window: time.Hour}})
	require.True(t, limiter.Allow("grounding-execute"))

	var ran atomic.Bool
	w := New(b, HandlerFunc(func(context.Context, queue.Job) error {
		ran.Store(true)
		return nil
	}), limiter, clock, Config{Queue: "grounding-execute", PollInterval: 5 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, _ := b.Get(job.ID)
		return got.State == queue.StateActive
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	got, ok := b.Get(job.ID)
	require.True(t, ok)
	require.False(t, ran.Load())
	require.Equal(t, queue.StateWaiting, got.State)
	require.Zero(t, got.AttemptsMade)
}
