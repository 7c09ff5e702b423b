package downloader

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/comic"
)

// Registry resolves strategies by source name and shields callers from their failures.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]comic.DownloadStrategy
	timeout    time.Duration
	logger     *zap.Logger
}

// NewRegistry builds a Registry with a per-call network timeout.
func NewRegistry(timeout time.Duration, logger *zap.Logger, strategies ...comic.DownloadStrategy) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		strategies: make(map[string]comic.DownloadStrategy),
		timeout:    timeout,
		logger:     logger,
	}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the strategy for its source.
func (r *Registry) Register(s comic.DownloadStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[normalize(s.Source())] = s
}

// Sources lists registered source names in sorted order.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the strategy for source.
func (r *Registry) Lookup(source string) (comic.DownloadStrategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[normalize(source)]
	return s, ok
}

// DownloadComic runs the strategy for req.Source. It never returns an error:
// failures, including panics, come back as unsuccessful results.
func (r *Registry) DownloadComic(ctx context.Context, req comic.DownloadRequest) (result comic.DownloadResult) {
	strategy, ok := r.Lookup(req.Source)
	if !ok {
		return comic.Failed(comic.FailureUnknownSource, fmt.Sprintf("no strategy for source %s", req.Source))
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("download strategy panicked",
				zap.String("source", req.Source),
				zap.String("series", req.SeriesName),
				zap.Any("panic", rec),
			)
			result = comic.Failed(comic.FailureNetwork, fmt.Sprintf("strategy panic: %v", rec))
		}
	}()

	res, err := strategy.DownloadComic(ctx, req)
	if err != nil {
		return comic.Failed(Classify(err), err.Error())
	}
	if !res.Success {
		if res.Failure == comic.FailureNone {
			res.Failure = comic.FailureNetwork
		}
		return res
	}
	if len(res.Image) == 0 {
		return comic.Failed(comic.FailureParsing, "strategy returned an empty image")
	}
	return res
}

// DownloadAvatar fetches the series avatar. Any failure yields ok=false.
func (r *Registry) DownloadAvatar(ctx context.Context, series comic.Series) (data []byte, ok bool) {
	strategy, found := r.Lookup(series.Source)
	if !found {
		return nil, false
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("avatar strategy panicked", zap.String("source", series.Source), zap.Any("panic", rec))
			data, ok = nil, false
		}
	}()

	data, ok, err := strategy.DownloadAvatar(ctx, series.ID, series.Name, series.SourceIdentifier)
	if err != nil {
		r.logger.Debug("avatar download failed",
			zap.String("source", series.Source),
			zap.String("series", series.Name),
			zap.Error(err),
		)
		return nil, false
	}
	if !ok || len(data) == 0 {
		return nil, false
	}
	return data, true
}

func (r *Registry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func normalize(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}
