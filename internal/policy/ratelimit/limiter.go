// Package ratelimit keeps strategies polite towards each strip site with one
// token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/comic-cacher/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// Limiter hands out per-host tokens.
type Limiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

// New creates a Limiter. A non-positive rate disables limiting.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Limiter{
		limit: limit,
		burst: max(cfg.Burst, 1),
		hosts: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the host of rawURL may be contacted again or ctx ends.
// A canceled wait gives its token back.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := metrics.SanitizeSite(rawURL)
	res := l.bucket(host).Reserve()
	if !res.OK() {
		return fmt.Errorf("rate limit wait: burst exceeded for %s", host)
	}
	delay := res.Delay()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		metrics.ObserveRateLimitDelay(host, delay)
		return nil
	case <-ctx.Done():
		res.Cancel()
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	}
}

// Hosts reports how many hosts have been seen.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.hosts[host]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.hosts[host] = b
	}
	return b
}
