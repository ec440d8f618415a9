// Package worker implements the queue consumer loop: reserve a job, run its
// handler, then complete, retry or fail it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/metrics"
	"github.com/JakeFAU/mediawatch/internal/policy/ratelimit"
	"github.com/JakeFAU/mediawatch/internal/queue"
)

// Handler processes one job. Returning queue.ErrPermanent (wrapped) skips retries.
type Handler interface {
	Handle(ctx context.Context, job queue.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job queue.Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job queue.Job) error {
	return f(ctx, job)
}

// Config controls Worker behavior.
type Config struct {
	Queue        string
	Concurrency  int
	PollInterval time.Duration
	// Timeout bounds a single handler run. Zero means no bound.
	Timeout time.Duration
}

// Worker consumes one queue with a fixed number of goroutines.
type Worker struct {
	broker  queue.Broker
	handler Handler
	limiter *ratelimit.Limiter
	clock   media.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker. limiter may be nil.
func New(
	broker queue.Broker,
	handler Handler,
	limiter *ratelimit.Limiter,
	clock media.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		broker:  broker,
		handler: handler,
		limiter: limiter,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.With(zap.String("queue", cfg.Queue)),
	}
}

// Queue returns the consumed queue name.
func (w *Worker) Queue() string {
	return w.cfg.Queue
}

// Run blocks, consuming jobs until the context finishes or the broker closes.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := w.broker.Reserve(ctx, w.cfg.Queue)
		switch {
		case err == nil:
			w.processJob(ctx, job)
			continue
		case errors.Is(err, queue.ErrClosed):
			return
		case errors.Is(err, queue.ErrNoJob):
		default:
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue reserve failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job queue.Job) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, w.cfg.Queue); err != nil {
			// Shutting down while throttled; hand the job back untouched.
			w.release(job)
			return
		}
	}

	metrics.IncActiveWorkers(w.cfg.Queue)
	defer metrics.DecActiveWorkers(w.cfg.Queue)

	start := time.Now()
	w.logger.Debug("job started", zap.String("job_id", job.ID), zap.Int("attempt", job.AttemptsMade))
	err := w.invoke(ctx, job)
	w.finish(ctx, job, err, time.Since(start))
}

func (w *Worker) invoke(ctx context.Context, job queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}
	return w.handler.Handle(ctx, job)
}

func (w *Worker) finish(ctx context.Context, job queue.Job, err error, took time.Duration) {
	// Broker calls must survive shutdown so the job is not left active.
	bctx := context.WithoutCancel(ctx)
	fields := []zap.Field{zap.String("job_id", job.ID), zap.Duration("took", took)}

	if err == nil {
		if cerr := w.broker.Complete(bctx, job); cerr != nil {
			w.logger.Error("complete job failed", append(fields, zap.Error(cerr))...)
		}
		metrics.ObserveJob(w.cfg.Queue, string(queue.StateCompleted), took)
		w.logger.Debug("job completed", fields...)
		return
	}

	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		w.release(job)
		metrics.ObserveJob(w.cfg.Queue, "interrupted", took)
		return
	}

	fields = append(fields, zap.Int("attempt", job.AttemptsMade), zap.Int("attempts", job.Attempts), zap.Error(err))
	if queue.ShouldRetry(job, err) {
		delay := queue.NextDelay(job)
		if rerr := w.broker.Retry(bctx, job, w.clock.Now().Add(delay), err.Error()); rerr != nil {
			w.logger.Error("retry job failed", append(fields, zap.NamedError("retry_error", rerr))...)
		}
		metrics.ObserveJob(w.cfg.Queue, "retried", took)
		w.logger.Warn("job failed, retrying", append(fields, zap.Duration("delay", delay))...)
		return
	}

	if ferr := w.broker.Fail(bctx, job, err.Error()); ferr != nil {
		w.logger.Error("fail job failed", append(fields, zap.NamedError("fail_error", ferr))...)
	}
	metrics.ObserveJob(w.cfg.Queue, string(queue.StateFailed), took)
	w.logger.Error("job failed", fields...)
}

// release makes an interrupted job immediately ready again. The attempt
// counted at Reserve is given back since the handler never finished.
func (w *Worker) release(job queue.Job) {
	if err := w.broker.Release(context.Background(), job); err != nil {
		w.logger.Error("release job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}
