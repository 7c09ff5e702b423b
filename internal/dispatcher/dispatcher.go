// Package dispatcher owns the lookahead worker pool.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/worker"
)

// Config sizes the pool.
type Config struct {
	Workers    int
	StaleAfter time.Duration
}

// Dispatcher runs a fixed set of workers over one prefetch queue.
type Dispatcher struct {
	workers []*worker.Worker
	logger  *zap.Logger
}

// New builds cfg.Workers workers (at least one) that drain queue into warmer.
func New(queue comic.Queue, warmer comic.Warmer, clock comic.Clock, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := max(cfg.Workers, 1)
	workers := make([]*worker.Worker, 0, n)
	for i := range n {
		workers = append(workers, worker.New(i+1, queue, warmer, clock, worker.Config{StaleAfter: cfg.StaleAfter}, logger))
	}
	return &Dispatcher{workers: workers, logger: logger.Named("dispatcher")}
}

// Run blocks until every worker has returned, which happens when ctx ends or
// the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Go(func() { w.Run(ctx) })
	}
	wg.Wait()
	d.logger.Info("all workers stopped", zap.Int("workers", len(d.workers)))
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}
