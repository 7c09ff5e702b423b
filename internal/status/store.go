// Package status keeps the append-only log of retrieval attempts and derives
// summaries and per-series error lists from it.
package status

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/comic-cacher/internal/comic"
)

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("retrieval record not found")

// Store persists retrieval records. Records are never mutated once appended.
type Store interface {
	Load(ctx context.Context) ([]comic.RetrievalRecord, error)
	Append(ctx context.Context, record comic.RetrievalRecord) error
	Purge(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Filter narrows List and Summary. Zero values match everything.
type Filter struct {
	SeriesName string
	Status     comic.RetrievalStatus
	From       time.Time
	To         time.Time
	Limit      int
}

// Match reports whether rec passes the filter. From and To bound the strip date inclusively.
func (f Filter) Match(rec comic.RetrievalRecord) bool {
	if f.SeriesName != "" && !sameSeries(f.SeriesName, rec.SeriesName) {
		return false
	}
	if f.Status != "" && f.Status != rec.Status {
		return false
	}
	if !f.From.IsZero() && rec.Date.Before(comic.Day(f.From)) {
		return false
	}
	if !f.To.IsZero() && rec.Date.After(comic.Day(f.To)) {
		return false
	}
	return true
}
