package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/cache"
	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/engine"
	"github.com/JakeFAU/comic-cacher/internal/pipeline"
)

// Navigator serves navigation requests. Stepping forward or backward goes
// through the predictive cache; extremes and exact dates go to the engine.
type Navigator struct {
	engine *engine.Engine
	cache  *cache.PredictiveCache
}

// First returns the oldest strip, downloading the start date when nothing is cached.
func (n *Navigator) First(ctx context.Context, series comic.Series) (comic.NavigationResult, error) {
	return n.engine.First(ctx, series)
}

// Last returns the newest strip, downloading today's when nothing is cached.
func (n *Navigator) Last(ctx context.Context, series comic.Series) (comic.NavigationResult, error) {
	return n.engine.Last(ctx, series)
}

// At returns the strip for date.
func (n *Navigator) At(ctx context.Context, series comic.Series, date time.Time) (comic.NavigationResult, error) {
	return n.engine.At(ctx, series, date)
}

// Next returns the strip after from.
func (n *Navigator) Next(ctx context.Context, series comic.Series, from time.Time) (comic.NavigationResult, error) {
	return n.cache.Get(ctx, series, comic.Forward, from)
}

// Previous returns the strip before from.
func (n *Navigator) Previous(ctx context.Context, series comic.Series, from time.Time) (comic.NavigationResult, error) {
	return n.cache.Get(ctx, series, comic.Backward, from)
}

// Navigate runs op (first, last, at, next, previous) for the series with id.
func (a *App) Navigate(ctx context.Context, id int, op string, date time.Time) (comic.NavigationResult, error) {
	series, err := a.Series(id)
	if err != nil {
		return comic.NavigationResult{}, err
	}
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "first":
		return a.navigator.First(ctx, series)
	case "last":
		return a.navigator.Last(ctx, series)
	case "at":
		return a.navigator.At(ctx, series, date)
	case "next":
		return a.navigator.Next(ctx, series, date)
	case "previous", "prev":
		return a.navigator.Previous(ctx, series, date)
	default:
		return comic.NavigationResult{}, fmt.Errorf("unknown navigation op %q", op)
	}
}

// Series looks up a configured series by id.
func (a *App) Series(id int) (comic.Series, error) {
	s, ok := a.cfg.FindSeries(id)
	if !ok {
		return comic.Series{}, fmt.Errorf("unknown series id %d", id)
	}
	return s, nil
}

func (a *App) selectSeries(ids []int) ([]comic.Series, error) {
	if len(ids) == 0 {
		return a.cfg.Catalog(), nil
	}
	out := make([]comic.Series, 0, len(ids))
	for _, id := range ids {
		s, err := a.Series(id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Fetch retrieves date (today when zero) for the given series ids, or every
// configured series when ids is empty. Navigation entries for series that
// gained an artifact are dropped.
func (a *App) Fetch(ctx context.Context, ids []int, date time.Time) ([]pipeline.Outcome, error) {
	series, err := a.selectSeries(ids)
	if err != nil {
		return nil, err
	}
	if date.IsZero() {
		date = a.clock.Now()
	}
	outcomes, runErr := a.pipeline.RunDaily(ctx, series, date)
	for _, out := range outcomes {
		if out.Succeeded() && !out.Cached {
			a.cache.Invalidate(out.Series.ID)
		}
	}
	if runErr != nil {
		return outcomes, fmt.Errorf("run daily: %w", runErr)
	}
	return outcomes, nil
}

// PurgeReport summarises one purge run.
type PurgeReport struct {
	Records   int            `json:"records"`
	Artifacts map[string]int `json:"artifacts,omitempty"`
}

// Purge drops retrieval records older than days (status.retention_days when
// negative). With artifacts set, strips older than retention.days are removed
// as well; a zero retention keeps every strip.
func (a *App) Purge(ctx context.Context, days int, artifacts bool) (PurgeReport, error) {
	if days < 0 {
		days = a.cfg.Status.RetentionDays
	}
	var report PurgeReport
	removed, err := a.tracker.PurgeOlderThan(ctx, days)
	if err != nil {
		return report, fmt.Errorf("purge records: %w", err)
	}
	report.Records = removed

	if !artifacts {
		return report, nil
	}
	if a.cfg.Retention.Days <= 0 {
		a.logger.Info("artifact retention disabled, keeping all strips")
		return report, nil
	}
	cutoff := comic.Day(a.clock.Now()).AddDate(0, 0, -a.cfg.Retention.Days)
	report.Artifacts = make(map[string]int)
	for _, series := range a.cfg.Catalog() {
		n, err := a.storage.PurgeOlderThan(series, cutoff)
		if err != nil {
			return report, fmt.Errorf("purge artifacts for %s: %w", series.Name, err)
		}
		report.Artifacts[series.Name] = n
		if n > 0 {
			a.cache.Invalidate(series.ID)
		}
	}
	a.logger.Info("artifact purge complete",
		zap.String("cutoff", comic.FormatDate(cutoff)),
		zap.Any("removed", report.Artifacts),
	)
	return report, nil
}

// SeriesSize is the on-disk footprint of one series.
type SeriesSize struct {
	Series comic.Series `json:"series"`
	Bytes  int64        `json:"bytes"`
}

// StorageSize reports disk usage for the given series, or all configured series.
func (a *App) StorageSize(ids []int) ([]SeriesSize, error) {
	series, err := a.selectSeries(ids)
	if err != nil {
		return nil, err
	}
	out := make([]SeriesSize, 0, len(series))
	for _, s := range series {
		size, err := a.storage.StorageSizeBytes(s)
		if err != nil {
			return nil, fmt.Errorf("storage size for %s: %w", s.Name, err)
		}
		out = append(out, SeriesSize{Series: s, Bytes: size})
	}
	return out, nil
}

// OrphanDirs lists directories under the cache root that belong to no
// configured series.
func (a *App) OrphanDirs() ([]string, error) {
	dirs, err := a.storage.ListSeriesDirs()
	if err != nil {
		return nil, err
	}
	catalog := a.cfg.Catalog()
	known := make(map[string]struct{}, len(catalog))
	for _, s := range catalog {
		known[s.DirName()] = struct{}{}
	}
	out := make([]string, 0)
	for _, dir := range dirs {
		if _, ok := known[dir]; !ok {
			out = append(out, dir)
		}
	}
	return out, nil
}

// DeleteSeries removes every cached file of a series.
func (a *App) DeleteSeries(id int) (bool, error) {
	s, err := a.Series(id)
	if err != nil {
		return false, err
	}
	deleted, err := a.storage.Delete(s)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", s.Name, err)
	}
	a.cache.Invalidate(s.ID)
	a.logger.Info("series storage deleted", zap.String("series", s.Name), zap.Bool("existed", deleted))
	return deleted, nil
}
