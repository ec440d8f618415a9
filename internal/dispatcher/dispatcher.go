// Package dispatcher runs one worker per queue and waits for all of them.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/worker"
)

// Dispatcher fans out queue work to a set of workers.
type Dispatcher struct {
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		workers: workers,
		logger:  logger,
	}
}

// Queues lists the queues served, in registration order.
func (d *Dispatcher) Queues() []string {
	out := make([]string, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, w.Queue())
	}
	return out
}

// Run starts all workers and blocks until every one has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher starting", zap.Strings("queues", d.Queues()))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}
