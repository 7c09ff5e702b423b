// Package engine answers navigation requests against the artifact cache,
// falling back to the retrieval pipeline when the target date is missing.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/pipeline"
)

// Navigator is the read side of the artifact store.
type Navigator interface {
	FindExtreme(series comic.Series, direction comic.Direction) (comic.Artifact, bool, error)
	FindAdjacent(series comic.Series, from time.Time, direction comic.Direction) (time.Time, bool, error)
	Exists(series comic.Series, date time.Time) bool
	Read(series comic.Series, date time.Time) ([]byte, error)
	ArtifactPath(series comic.Series, date time.Time) string
}

// Retriever downloads a missing artifact.
type Retriever interface {
	Retrieve(ctx context.Context, series comic.Series, date time.Time) (pipeline.Outcome, error)
}

// Engine resolves navigation requests into NavigationResults.
type Engine struct {
	nav       Navigator
	retriever Retriever
	clock     comic.Clock
	logger    *zap.Logger
}

// New builds an Engine.
func New(nav Navigator, retriever Retriever, clock comic.Clock, logger *zap.Logger) (*Engine, error) {
	if nav == nil || retriever == nil || clock == nil {
		return nil, fmt.Errorf("engine requires navigator, retriever and clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{nav: nav, retriever: retriever, clock: clock, logger: logger}, nil
}

func (e *Engine) today() time.Time {
	return comic.Day(e.clock.Now())
}

// First returns the oldest cached strip. With nothing cached it tries to
// download the series start date.
func (e *Engine) First(ctx context.Context, series comic.Series) (comic.NavigationResult, error) {
	return e.extreme(ctx, series, comic.Forward)
}

// Last returns the newest cached strip. With nothing cached it tries to
// download today's strip.
func (e *Engine) Last(ctx context.Context, series comic.Series) (comic.NavigationResult, error) {
	return e.extreme(ctx, series, comic.Backward)
}

func (e *Engine) extreme(ctx context.Context, series comic.Series, direction comic.Direction) (comic.NavigationResult, error) {
	art, ok, err := e.nav.FindExtreme(series, direction)
	if err != nil {
		return comic.NavigationResult{}, fmt.Errorf("find extreme: %w", err)
	}
	if ok {
		return e.found(series, art.Date, art.Date)
	}

	target := e.today()
	if direction == comic.Forward {
		if series.StartDate.IsZero() {
			return comic.NotFound(target, comic.ReasonNoArtifacts), nil
		}
		target = comic.Day(series.StartDate)
	}
	if target.After(e.today()) {
		return comic.NotFound(target, comic.ReasonNoArtifacts), nil
	}
	out, err := e.retriever.Retrieve(ctx, series, target)
	if err != nil {
		return comic.NavigationResult{}, err
	}
	if !out.Succeeded() {
		return comic.NotFound(target, comic.ReasonNoArtifacts), nil
	}
	return e.found(series, target, target)
}

// At returns the strip for date, downloading it when missing.
func (e *Engine) At(ctx context.Context, series comic.Series, date time.Time) (comic.NavigationResult, error) {
	day := comic.Day(date)
	if e.nav.Exists(series, day) {
		return e.found(series, day, day)
	}
	if day.After(e.today()) {
		return e.notFound(series, day, comic.ReasonNotYetPublished)
	}
	out, err := e.retriever.Retrieve(ctx, series, day)
	if err != nil {
		return comic.NavigationResult{}, err
	}
	switch {
	case out.Succeeded():
		return e.found(series, day, day)
	case out.Status == comic.StatusNotYetPublished:
		return e.notFound(series, day, comic.ReasonNotYetPublished)
	default:
		return e.notFound(series, day, comic.ReasonRetrievalFailed)
	}
}

// Next returns the first strip after from.
func (e *Engine) Next(ctx context.Context, series comic.Series, from time.Time) (comic.NavigationResult, error) {
	return e.Resolve(ctx, series, comic.Forward, from)
}

// Previous returns the last strip before from.
func (e *Engine) Previous(ctx context.Context, series comic.Series, from time.Time) (comic.NavigationResult, error) {
	return e.Resolve(ctx, series, comic.Backward, from)
}

// Resolve finds the neighbour of from in direction. A cached neighbour wins;
// otherwise the adjacent calendar day is downloaded if it can exist. Walking
// off either end of the series yields AT_END or AT_START.
func (e *Engine) Resolve(ctx context.Context, series comic.Series, direction comic.Direction, from time.Time) (comic.NavigationResult, error) {
	if !direction.Valid() {
		return comic.NavigationResult{}, fmt.Errorf("invalid direction %q", direction)
	}
	start := comic.Day(from)
	boundary := comic.ReasonAtEnd
	if direction == comic.Backward {
		boundary = comic.ReasonAtStart
	}

	next, ok, err := e.nav.FindAdjacent(series, start, direction)
	if err != nil {
		return comic.NavigationResult{}, fmt.Errorf("find adjacent: %w", err)
	}
	if ok {
		return e.found(series, start, next)
	}

	candidate := start.AddDate(0, 0, direction.Step())
	if !e.downloadable(series, candidate) {
		return e.notFound(series, start, boundary)
	}
	out, err := e.retriever.Retrieve(ctx, series, candidate)
	if err != nil {
		return comic.NavigationResult{}, err
	}
	if !out.Succeeded() {
		e.logger.Debug("no neighbour available",
			zap.String("series", series.Name),
			zap.String("from", comic.FormatDate(start)),
			zap.String("direction", string(direction)),
			zap.String("status", string(out.Status)),
		)
		return e.notFound(series, start, boundary)
	}
	return e.found(series, start, candidate)
}

func (e *Engine) downloadable(series comic.Series, date time.Time) bool {
	if date.After(e.today()) {
		return false
	}
	if !series.StartDate.IsZero() && date.Before(comic.Day(series.StartDate)) {
		return false
	}
	return true
}

func (e *Engine) found(series comic.Series, requested, current time.Time) (comic.NavigationResult, error) {
	data, err := e.nav.Read(series, current)
	if err != nil {
		return comic.NavigationResult{}, err
	}
	prev, next, err := e.neighbours(series, current)
	if err != nil {
		return comic.NavigationResult{}, err
	}
	return comic.NavigationResult{
		Found: true,
		Image: &comic.Image{
			Path: e.nav.ArtifactPath(series, current),
			Data: data,
			Size: len(data),
		},
		RequestedDate:   requested,
		CurrentDate:     current,
		NearestPrevious: prev,
		NearestNext:     next,
	}, nil
}

func (e *Engine) notFound(series comic.Series, requested time.Time, reason comic.Reason) (comic.NavigationResult, error) {
	res := comic.NotFound(requested, reason)
	prev, next, err := e.neighbours(series, requested)
	if err != nil {
		return comic.NavigationResult{}, err
	}
	res.NearestPrevious = prev
	res.NearestNext = next
	return res, nil
}

// neighbours finds the closest cached dates strictly before and after date.
func (e *Engine) neighbours(series comic.Series, date time.Time) (*time.Time, *time.Time, error) {
	var prev, next *time.Time
	if d, ok, err := e.nav.FindAdjacent(series, date, comic.Backward); err != nil {
		return nil, nil, fmt.Errorf("find previous: %w", err)
	} else if ok {
		prev = comic.DatePtr(d)
	}
	if d, ok, err := e.nav.FindAdjacent(series, date, comic.Forward); err != nil {
		return nil, nil, fmt.Errorf("find next: %w", err)
	} else if ok {
		next = comic.DatePtr(d)
	}
	return prev, next, nil
}
