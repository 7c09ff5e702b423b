// Package cache memoises navigation results and warms the entries a reader is
// likely to ask for next.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/metrics"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultTTL            = 30 * time.Minute
	DefaultMaxEntries     = 1024
	DefaultLookaheadCount = 3
)

// Resolver answers one navigation step. The engine satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, series comic.Series, direction comic.Direction, from time.Time) (comic.NavigationResult, error)
}

// Config controls expiry, size and lookahead.
type Config struct {
	TTL              time.Duration
	MaxEntries       int
	LookaheadEnabled bool
	LookaheadCount   int
	// ResolveTimeout bounds a shared resolution, which outlives any one caller.
	ResolveTimeout time.Duration
}

type key struct {
	seriesID  int
	direction comic.Direction
	date      time.Time
}

func (k key) String() string {
	return fmt.Sprintf("%d|%s|%s", k.seriesID, k.direction, comic.FormatDate(k.date))
}

type entry struct {
	result   comic.NavigationResult
	storedAt time.Time
}

// PredictiveCache wraps a Resolver with a bounded TTL cache and background lookahead.
type PredictiveCache struct {
	cfg      Config
	resolver Resolver
	queue    comic.Queue
	clock    comic.Clock
	logger   *zap.Logger

	group singleflight.Group

	mu       sync.Mutex
	entries  map[key]entry
	inflight map[key]int
}

// New constructs a PredictiveCache. queue may be nil when lookahead is disabled.
func New(cfg Config, resolver Resolver, queue comic.Queue, clock comic.Clock, logger *zap.Logger) (*PredictiveCache, error) {
	if resolver == nil {
		return nil, errors.New("cache: resolver is required")
	}
	if clock == nil {
		return nil, errors.New("cache: clock is required")
	}
	if cfg.LookaheadEnabled && queue == nil {
		return nil, errors.New("cache: lookahead requires a queue")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.LookaheadCount <= 0 {
		cfg.LookaheadCount = DefaultLookaheadCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PredictiveCache{
		cfg:      cfg,
		resolver: resolver,
		queue:    queue,
		clock:    clock,
		logger:   logger.Named("cache"),
		entries:  make(map[key]entry),
		inflight: make(map[key]int),
	}, nil
}

// Get returns the navigation result for one step, resolving it on a miss and
// scheduling lookahead when the step found a strip.
func (c *PredictiveCache) Get(ctx context.Context, series comic.Series, direction comic.Direction, from time.Time) (comic.NavigationResult, error) {
	k := key{seriesID: series.ID, direction: direction, date: comic.Day(from)}
	if result, ok := c.lookup(k); ok {
		metrics.ObserveCacheLookup(true)
		return result, nil
	}
	metrics.ObserveCacheLookup(false)

	c.markInflight(k, 1)
	result, err := c.resolve(ctx, k, series, direction, from)
	c.markInflight(k, -1)
	if err != nil {
		return comic.NavigationResult{}, err
	}
	if result.Found {
		c.schedule(series, direction, result.CurrentDate)
	}
	return result, nil
}

// Warm walks task.Remaining steps from task.From, populating the cache. It
// never returns an error; failures end the walk.
func (c *PredictiveCache) Warm(ctx context.Context, task comic.PrefetchTask) {
	from := task.From
	logger := c.logger.With(
		zap.Int("series", task.Series.ID),
		zap.String("direction", string(task.Direction)),
	)
	for i := 0; i < task.Remaining; i++ {
		if ctx.Err() != nil {
			return
		}
		k := key{seriesID: task.Series.ID, direction: task.Direction, date: comic.Day(from)}
		if cached, ok := c.lookup(k); ok {
			if !cached.Found {
				return
			}
			from = cached.CurrentDate
			continue
		}
		if c.isInflight(k) {
			logger.Debug("lookahead coalesced with foreground request", zap.String("from", comic.FormatDate(from)))
			metrics.ObservePrefetch("coalesced")
			return
		}
		result, err := c.resolve(ctx, k, task.Series, task.Direction, from)
		if err != nil {
			logger.Warn("lookahead resolution failed", zap.String("from", comic.FormatDate(from)), zap.Error(err))
			metrics.ObservePrefetch("failed")
			return
		}
		metrics.ObservePrefetch("resolved")
		if !result.Found {
			return
		}
		from = result.CurrentDate
	}
}

// Invalidate drops every entry for seriesID and returns how many were removed.
func (c *PredictiveCache) Invalidate(seriesID int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k := range c.entries {
		if k.seriesID == seriesID {
			delete(c.entries, k)
			removed++
		}
	}
	metrics.SetCacheEntries(len(c.entries))
	return removed
}

// Len reports the number of stored entries, expired or not.
func (c *PredictiveCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *PredictiveCache) resolve(ctx context.Context, k key, series comic.Series, direction comic.Direction, from time.Time) (comic.NavigationResult, error) {
	ch := c.group.DoChan(k.String(), func() (any, error) {
		shared := context.WithoutCancel(ctx)
		if c.cfg.ResolveTimeout > 0 {
			var cancel context.CancelFunc
			shared, cancel = context.WithTimeout(shared, c.cfg.ResolveTimeout)
			defer cancel()
		}
		result, err := c.resolver.Resolve(shared, series, direction, from)
		if err != nil {
			return comic.NavigationResult{}, err
		}
		c.store(k, result)
		return result, nil
	})
	select {
	case <-ctx.Done():
		return comic.NavigationResult{}, fmt.Errorf("resolve %s: %w", k, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return comic.NavigationResult{}, fmt.Errorf("resolve %s: %w", k, res.Err)
		}
		return res.Val.(comic.NavigationResult), nil
	}
}

func (c *PredictiveCache) schedule(series comic.Series, direction comic.Direction, from time.Time) {
	if !c.cfg.LookaheadEnabled {
		return
	}
	task := comic.PrefetchTask{
		Series:    series,
		Direction: direction,
		From:      from,
		Remaining: c.cfg.LookaheadCount,
		Submitted: c.clock.Now(),
	}
	if c.queue.TryEnqueue(task) {
		metrics.ObservePrefetch("enqueued")
		return
	}
	metrics.ObservePrefetch("dropped")
	c.logger.Info("prefetch queue full, dropping lookahead",
		zap.Int("series", series.ID),
		zap.String("direction", string(direction)),
		zap.String("from", comic.FormatDate(from)),
	)
}

func (c *PredictiveCache) lookup(k key) (comic.NavigationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		return comic.NavigationResult{}, false
	}
	if c.expired(e) {
		delete(c.entries, k)
		metrics.SetCacheEntries(len(c.entries))
		return comic.NavigationResult{}, false
	}
	return e.result, true
}

func (c *PredictiveCache) store(k key, result comic.NavigationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[k]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		c.evictLocked()
	}
	c.entries[k] = entry{result: result, storedAt: c.clock.Now()}
	metrics.SetCacheEntries(len(c.entries))
}

// evictLocked removes expired entries, or the oldest entry when none have expired.
func (c *PredictiveCache) evictLocked() {
	var (
		oldestKey key
		oldestAt  time.Time
		found     bool
		removed   bool
	)
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
			removed = true
			continue
		}
		if !found || e.storedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.storedAt, true
		}
	}
	if !removed && found {
		delete(c.entries, oldestKey)
	}
}

func (c *PredictiveCache) expired(e entry) bool {
	return c.clock.Now().Sub(e.storedAt) >= c.cfg.TTL
}

func (c *PredictiveCache) markInflight(k key, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[k] += delta
	if c.inflight[k] <= 0 {
		delete(c.inflight, k)
	}
}

func (c *PredictiveCache) isInflight(k key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[k] > 0
}
