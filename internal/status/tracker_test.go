package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/comic-cacher/internal/comic"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memStore struct {
	mu        sync.Mutex
	records   []comic.RetrievalRecord
	appendErr error
}

func (m *memStore) Load(context.Context) ([]comic.RetrievalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]comic.RetrievalRecord(nil), m.records...), nil
}

func (m *memStore) Append(_ context.Context, rec comic.RetrievalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) Purge(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	removed := 0
	for _, r := range m.records {
		if r.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return removed, nil
}

func (m *memStore) Close() error { return nil }

var start = time.Date(2023, 1, 10, 12, 0, 0, 0, time.UTC)

func newTracker(t *testing.T, store *memStore) (*Tracker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: start}
	tr, err := NewTracker(context.Background(), store, clock, 0, nil)
	require.NoError(t, err)
	return tr, clock
}

func record(series, date string, status comic.RetrievalStatus, ts time.Time) comic.RetrievalRecord {
	d, _ := comic.ParseDate(date)
	s := comic.Series{Name: series}
	return comic.RetrievalRecord{
		ID:         comic.RecordID(s, d),
		AttemptID:  fmt.Sprintf("%s-%s-%d", series, date, ts.UnixNano()),
		SeriesName: series,
		Date:       d,
		Source:     "gocomics",
		Status:     status,
		Timestamp:  ts,
	}
}

func TestNewTrackerValidates(t *testing.T) {
	t.Parallel()

	_, err := NewTracker(context.Background(), nil, &fakeClock{}, 0, nil)
	require.Error(t, err)
	_, err = NewTracker(context.Background(), &memStore{}, nil, 0, nil)
	require.Error(t, err)
}

func TestRecordAndGetLatestAttempt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr, _ := newTracker(t, &memStore{})

	require.NoError(t, tr.Record(ctx, record("Test Comic", "2023-01-05", comic.StatusNetworkError, start)))
	require.NoError(t, tr.Record(ctx, record("Test Comic", "2023-01-05", comic.StatusSuccess, start.Add(time.Minute))))

	got, ok := tr.Get("TestComic_2023-01-05")
	require.True(t, ok)
	assert.Equal(t, comic.StatusSuccess, got.Status)

	_, ok = tr.Get("missing")
	assert.False(t, ok)

	require.Error(t, tr.Record(ctx, comic.RetrievalRecord{}))
}

func TestRecordFillsTimestamp(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker(t, &memStore{})
	rec := record("Test Comic", "2023-01-05", comic.StatusSuccess, time.Time{})
	require.NoError(t, tr.Record(context.Background(), rec))
	got, ok := tr.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, start, got.Timestamp)
}

func TestRecordPropagatesStoreFailure(t *testing.T) {
	t.Parallel()

	store := &memStore{appendErr: errors.New("disk full")}
	tr, _ := newTracker(t, store)
	err := tr.Record(context.Background(), record("Test Comic", "2023-01-05", comic.StatusSuccess, start))
	require.ErrorContains(t, err, "disk full")
	_, ok := tr.Get("TestComic_2023-01-05")
	assert.False(t, ok)
}

func TestErrorsRollingListClearedOnSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr, _ := newTracker(t, &memStore{})

	for i := 0; i < 7; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		require.NoError(t, tr.Record(ctx, record("Test Comic", fmt.Sprintf("2023-01-0%d", i+1), comic.StatusNetworkError, ts)))
	}
	errs := tr.Errors("Test Comic")
	require.Len(t, errs, DefaultMaxErrors)
	assert.Equal(t, "TestComic_2023-01-07", errs[0].ID, "newest first")
	assert.Len(t, tr.Errors("testcomic"), DefaultMaxErrors, "lookup ignores case and spaces")

	require.NoError(t, tr.Record(ctx, record("Test Comic", "2023-01-08", comic.StatusSuccess, start.Add(time.Hour))))
	assert.Empty(t, tr.Errors("Test Comic"))
}

func TestListFiltersAndOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr, _ := newTracker(t, &memStore{})
	require.NoError(t, tr.Record(ctx, record("Test Comic", "2023-01-01", comic.StatusSuccess, start)))
	require.NoError(t, tr.Record(ctx, record("Other", "2023-01-02", comic.StatusDuplicateRejected, start.Add(time.Minute))))
	require.NoError(t, tr.Record(ctx, record("Test Comic", "2023-01-03", comic.StatusNetworkError, start.Add(2*time.Minute))))

	all := tr.List(Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, "TestComic_2023-01-03", all[0].ID)

	bySeries := tr.List(Filter{SeriesName: "Test Comic"})
	require.Len(t, bySeries, 2)

	byStatus := tr.List(Filter{Status: comic.StatusDuplicateRejected})
	require.Len(t, byStatus, 1)
	assert.Equal(t, "Other", byStatus[0].SeriesName)

	from, _ := comic.ParseDate("2023-01-02")
	to, _ := comic.ParseDate("2023-01-03")
	ranged := tr.List(Filter{From: from, To: to})
	require.Len(t, ranged, 2)

	limited := tr.List(Filter{Limit: 1})
	require.Len(t, limited, 1)

	summary := tr.Summary(Filter{Limit: 1})
	assert.Equal(t, 1, summary[comic.StatusSuccess])
	assert.Equal(t, 1, summary[comic.StatusDuplicateRejected])
	assert.Equal(t, 1, summary[comic.StatusNetworkError])
}

func TestPurgeOlderThan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &memStore{}
	tr, clock := newTracker(t, store)

	require.NoError(t, tr.Record(ctx, record("Test Comic", "2023-01-01", comic.StatusNetworkError, start.Add(-10*24*time.Hour))))
	require.NoError(t, tr.Record(ctx, record("Test Comic", "2023-01-02", comic.StatusSuccess, start.Add(-7*24*time.Hour))))
	require.NoError(t, tr.Record(ctx, record("Test Comic", "2023-01-03", comic.StatusNetworkError, start.Add(-24*time.Hour))))

	// Exactly at the cutoff is kept.
	removed, err := tr.PurgeOlderThan(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Len(t, tr.List(Filter{}), 2)
	assert.Len(t, store.records, 2)

	removed, err = tr.PurgeOlderThan(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, removed)

	clock.Advance(48 * time.Hour)
	removed, err = tr.PurgeOlderThan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Empty(t, tr.Errors("Test Comic"))

	_, err = tr.PurgeOlderThan(ctx, -1)
	require.Error(t, err)
}

func TestNewTrackerRebuildsFromStore(t *testing.T) {
	t.Parallel()

	store := &memStore{records: []comic.RetrievalRecord{
		record("Test Comic", "2023-01-02", comic.StatusNetworkError, start.Add(time.Minute)),
		record("Test Comic", "2023-01-01", comic.StatusSuccess, start),
	}}
	tr, _ := newTracker(t, store)
	errs := tr.Errors("Test Comic")
	require.Len(t, errs, 1)
	assert.Equal(t, "TestComic_2023-01-02", errs[0].ID)
}
