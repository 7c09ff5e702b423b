package status

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

// DefaultMaxErrors is the length of each series' rolling error list.
const DefaultMaxErrors = 5

// Tracker records retrieval outcomes and answers queries over them.
type Tracker struct {
	store     Store
	clock     comic.Clock
	maxErrors int
	logger    *zap.Logger

	mu      sync.RWMutex
	records []comic.RetrievalRecord
	errors  map[string][]comic.RetrievalRecord
}

// NewTracker loads existing records from store and rebuilds the error lists.
func NewTracker(ctx context.Context, store Store, clock comic.Clock, maxErrors int, logger *zap.Logger) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("status store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	existing, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load retrieval records: %w", err)
	}
	sort.SliceStable(existing, func(i, j int) bool {
		return existing[i].Timestamp.Before(existing[j].Timestamp)
	})

	t := &Tracker{
		store:     store,
		clock:     clock,
		maxErrors: maxErrors,
		logger:    logger,
		errors:    make(map[string][]comic.RetrievalRecord),
	}
	for _, rec := range existing {
		t.apply(rec)
	}
	logger.Debug("status tracker loaded", zap.Int("records", len(existing)))
	return t, nil
}

// Record appends rec to the log. A SUCCESS clears the series' error list; any
// other status is pushed onto it.
func (t *Tracker) Record(ctx context.Context, rec comic.RetrievalRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.clock.Now()
	}
	if err := t.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("append retrieval record: %w", err)
	}
	t.mu.Lock()
	t.apply(rec)
	t.mu.Unlock()
	return nil
}

func (t *Tracker) apply(rec comic.RetrievalRecord) {
	t.records = append(t.records, rec)
	key := seriesKey(rec.SeriesName)
	if rec.Status == comic.StatusSuccess {
		delete(t.errors, key)
		return
	}
	list := append([]comic.RetrievalRecord{rec}, t.errors[key]...)
	if len(list) > t.maxErrors {
		list = list[:t.maxErrors]
	}
	t.errors[key] = list
}

// Get returns the latest attempt recorded under id.
func (t *Tracker) Get(id string) (comic.RetrievalRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.records) - 1; i >= 0; i-- {
		if t.records[i].ID == id {
			return t.records[i], true
		}
	}
	return comic.RetrievalRecord{}, false
}

// List returns matching records, newest first.
func (t *Tracker) List(f Filter) []comic.RetrievalRecord {
	t.mu.RLock()
	out := make([]comic.RetrievalRecord, 0)
	for i := len(t.records) - 1; i >= 0; i-- {
		if f.Match(t.records[i]) {
			out = append(out, t.records[i])
		}
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Summary counts matching records per status. Limit is ignored.
func (t *Tracker) Summary(f Filter) map[comic.RetrievalStatus]int {
	f.Limit = 0
	counts := make(map[comic.RetrievalStatus]int)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, rec := range t.records {
		if f.Match(rec) {
			counts[rec.Status]++
		}
	}
	return counts
}

// Errors returns the rolling error list for a series, newest first.
func (t *Tracker) Errors(seriesName string) []comic.RetrievalRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list := t.errors[seriesKey(seriesName)]
	out := make([]comic.RetrievalRecord, len(list))
	copy(out, list)
	return out
}

// PurgeOlderThan removes records whose timestamp is strictly older than now-days.
func (t *Tracker) PurgeOlderThan(ctx context.Context, days int) (int, error) {
	if days < 0 {
		return 0, fmt.Errorf("days must be >= 0")
	}
	cutoff := t.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	stored, err := t.store.Purge(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge retrieval records: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.records[:0]
	removed := 0
	for _, rec := range t.records {
		if rec.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	t.records = kept
	for key, list := range t.errors {
		filtered := list[:0]
		for _, rec := range list {
			if !rec.Timestamp.Before(cutoff) {
				filtered = append(filtered, rec)
			}
		}
		if len(filtered) == 0 {
			delete(t.errors, key)
			continue
		}
		t.errors[key] = filtered
	}
	t.logger.Info("retrieval records purged",
		zap.Int("removed", removed),
		zap.Int("store_removed", stored),
		zap.Time("cutoff", cutoff),
	)
	return removed, nil
}

// seriesKey ignores case and whitespace so "Test Comic" and "TestComic" match.
func seriesKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), ""))
}

func sameSeries(a, b string) bool {
	return seriesKey(a) == seriesKey(b)
}
