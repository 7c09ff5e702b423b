// Package worker drains the prefetch queue and warms the navigation cache.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/metrics"
	"github.com/JakeFAU/comic-cacher/internal/queue/memory"
)

// Config controls worker behaviour.
type Config struct {
	// StaleAfter skips tasks that waited in the queue longer than this. Zero disables the check.
	StaleAfter time.Duration
}

// Worker processes prefetch tasks one at a time.
type Worker struct {
	id     int
	queue  comic.Queue
	warmer comic.Warmer
	clock  comic.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, queue comic.Queue, warmer comic.Warmer, clock comic.Clock, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  queue,
		warmer: warmer,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run processes tasks until the context is canceled or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task comic.PrefetchTask) {
	logger := w.logger.With(
		zap.Int("series", task.Series.ID),
		zap.String("direction", string(task.Direction)),
		zap.String("from", comic.FormatDate(task.From)),
	)
	if w.stale(task) {
		logger.Debug("skipping stale prefetch task", zap.Time("submitted", task.Submitted))
		metrics.ObservePrefetch("stale")
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("prefetch task panicked", zap.Error(fmt.Errorf("panic: %v", r)))
			metrics.ObservePrefetch("panicked")
		}
	}()

	logger.Debug("warming cache", zap.Int("remaining", task.Remaining))
	w.warmer.Warm(ctx, task)
	metrics.ObservePrefetch("completed")
}

func (w *Worker) stale(task comic.PrefetchTask) bool {
	if w.cfg.StaleAfter <= 0 || w.clock == nil || task.Submitted.IsZero() {
		return false
	}
	return w.clock.Now().Sub(task.Submitted) > w.cfg.StaleAfter
}
