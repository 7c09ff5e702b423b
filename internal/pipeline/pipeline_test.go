package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/dedup"
	"github.com/JakeFAU/comic-cacher/internal/hash/sha256"
	"github.com/JakeFAU/comic-cacher/internal/imagecheck"
	"github.com/JakeFAU/comic-cacher/internal/storage/local"
)

var testSeries = comic.Series{ID: 1, Name: "Test Comic", Source: "gocomics", SourceIdentifier: "testcomic"}

type fakeDownloader struct {
	mu      sync.Mutex
	images  map[string][]byte
	failure map[string]comic.DownloadResult
	avatar  []byte
	delay   time.Duration
	calls   atomic.Int32
	avatars atomic.Int32
}

func (f *fakeDownloader) DownloadComic(_ context.Context, req comic.DownloadRequest) comic.DownloadResult {
	f.calls.Add(1)
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	key := req.SeriesName + "/" + comic.FormatDate(req.Date)
	if res, ok := f.failure[key]; ok {
		return res
	}
	if img, ok := f.images[key]; ok {
		return comic.DownloadResult{Success: true, Image: img}
	}
	return comic.Failed(comic.FailureNotYetPublished, "not yet")
}

func (f *fakeDownloader) DownloadAvatar(context.Context, comic.Series) ([]byte, bool) {
	f.avatars.Add(1)
	return f.avatar, len(f.avatar) > 0
}

type fakeSink struct {
	mu      sync.Mutex
	records []comic.RetrievalRecord
	err     error
}

func (s *fakeSink) Record(_ context.Context, rec comic.RetrievalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeSink) all() []comic.RetrievalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]comic.RetrievalRecord(nil), s.records...)
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC) }

type seqIDs struct{ n atomic.Int32 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("attempt-%d", s.n.Add(1)), nil
}

type failingWrites struct {
	*local.Navigator
}

func (failingWrites) Write(comic.Series, time.Time, []byte) (string, error) {
	return "", errors.New("read-only filesystem")
}

func stripPNG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 4))
	for x := 0; x < 8; x++ {
		img.SetGray(x, 0, color.Gray{Y: shade})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func day(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := comic.ParseDate(raw)
	require.NoError(t, err)
	return d
}

type harness struct {
	pipeline   *Pipeline
	nav        *local.Navigator
	downloader *fakeDownloader
	sink       *fakeSink
}

func newHarness(t *testing.T, wrap func(*local.Navigator) comic.ArtifactStore) harness {
	t.Helper()
	nav, err := local.New(local.Config{Root: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	validator, err := dedup.New(dedup.Config{}, sha256.New(), nav, nil)
	require.NoError(t, err)
	dl := &fakeDownloader{images: map[string][]byte{}, failure: map[string]comic.DownloadResult{}}
	sink := &fakeSink{}

	var store comic.ArtifactStore = nav
	if wrap != nil {
		store = wrap(nav)
	}
	p, err := New(Config{Concurrency: 2}, store, dl, imagecheck.New(imagecheck.Config{}), validator, sink, fixedClock{}, &seqIDs{}, nil)
	require.NoError(t, err)
	return harness{pipeline: p, nav: nav, downloader: dl, sink: sink}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil, nil, nil, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestRetrieveCachedDateSkipsNetwork(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	_, err := h.nav.Write(testSeries, day(t, "2023-01-05"), stripPNG(t, 10))
	require.NoError(t, err)

	out, err := h.pipeline.Retrieve(context.Background(), testSeries, day(t, "2023-01-05"))
	require.NoError(t, err)
	assert.True(t, out.Cached)
	assert.True(t, out.Succeeded())
	assert.Zero(t, h.downloader.calls.Load())
	assert.Empty(t, h.sink.all())
}

func TestRetrieveSuccessPersistsAndRecords(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	img := stripPNG(t, 10)
	h.downloader.images["Test Comic/2023-01-05"] = img
	h.downloader.avatar = []byte("avatar")

	out, err := h.pipeline.Retrieve(context.Background(), testSeries, day(t, "2023-01-05"))
	require.NoError(t, err)
	require.Equal(t, comic.StatusSuccess, out.Status)
	assert.FileExists(t, out.Path)
	assert.True(t, h.nav.Exists(testSeries, day(t, "2023-01-05")))
	assert.True(t, h.nav.HasAvatar(testSeries))

	records := h.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, "TestComic_2023-01-05", records[0].ID)
	assert.Equal(t, comic.StatusSuccess, records[0].Status)
	assert.Equal(t, int64(len(img)), records[0].ImageSizeBytes)
	assert.Equal(t, "gocomics", records[0].Source)
	assert.NotEmpty(t, records[0].AttemptID)

	// The avatar is fetched only while absent.
	h.downloader.images["Test Comic/2023-01-06"] = stripPNG(t, 200)
	_, err = h.pipeline.Retrieve(context.Background(), testSeries, day(t, "2023-01-06"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.downloader.avatars.Load())
}

func TestRetrieveCoalescesConcurrentCallers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.downloader.delay = 100 * time.Millisecond
	h.downloader.images["Test Comic/2023-01-05"] = stripPNG(t, 10)
	date := day(t, "2023-01-05")

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Go(func() {
			outcomes[i], errs[i] = h.pipeline.Retrieve(context.Background(), testSeries, date)
		})
	}
	wg.Wait()

	for i := range 2 {
		require.NoError(t, errs[i])
		assert.True(t, outcomes[i].Succeeded())
	}
	assert.Equal(t, int32(1), h.downloader.calls.Load())
	assert.Len(t, h.sink.all(), 1)
}

func TestRetrieveRejectsDuplicateOnDifferentDate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	img := stripPNG(t, 10)
	h.downloader.images["Test Comic/2023-01-05"] = img
	h.downloader.images["Test Comic/2023-01-06"] = img

	ctx := context.Background()
	_, err := h.pipeline.Retrieve(ctx, testSeries, day(t, "2023-01-05"))
	require.NoError(t, err)

	out, err := h.pipeline.Retrieve(ctx, testSeries, day(t, "2023-01-06"))
	require.NoError(t, err)
	assert.Equal(t, comic.StatusDuplicateRejected, out.Status)
	require.NotNil(t, out.Duplicate)
	assert.Equal(t, day(t, "2023-01-05"), *out.Duplicate.MatchedDate)
	assert.False(t, h.nav.Exists(testSeries, day(t, "2023-01-06")))

	records := h.sink.all()
	require.Len(t, records, 2)
	assert.Equal(t, comic.StatusDuplicateRejected, records[1].Status)
}

func TestRetrieveFailureStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		setup  func(h harness)
		wrap   func(*local.Navigator) comic.ArtifactStore
		status comic.RetrievalStatus
	}{
		{
			name: "network",
			setup: func(h harness) {
				h.downloader.failure["Test Comic/2023-01-05"] = comic.Failed(comic.FailureNetwork, "timeout")
			},
			status: comic.StatusNetworkError,
		},
		{
			name: "parsing",
			setup: func(h harness) {
				h.downloader.failure["Test Comic/2023-01-05"] = comic.Failed(comic.FailureParsing, "no img")
			},
			status: comic.StatusParsingError,
		},
		{
			name:   "not yet published",
			setup:  func(harness) {},
			status: comic.StatusNotYetPublished,
		},
		{
			name: "unknown source",
			setup: func(h harness) {
				h.downloader.failure["Test Comic/2023-01-05"] = comic.Failed(comic.FailureUnknownSource, "no strategy for source gocomics")
			},
			status: comic.StatusUnknownSource,
		},
		{
			name: "validation",
			setup: func(h harness) {
				h.downloader.images["Test Comic/2023-01-05"] = []byte("<html>error page</html>")
			},
			status: comic.StatusValidationError,
		},
		{
			name: "storage",
			setup: func(h harness) {
				h.downloader.images["Test Comic/2023-01-05"] = mustPNG()
			},
			wrap:   func(n *local.Navigator) comic.ArtifactStore { return failingWrites{n} },
			status: comic.StatusStorageError,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tt.wrap)
			tt.setup(h)

			out, err := h.pipeline.Retrieve(context.Background(), testSeries, day(t, "2023-01-05"))
			require.NoError(t, err)
			assert.Equal(t, tt.status, out.Status)
			assert.False(t, h.nav.Exists(testSeries, day(t, "2023-01-05")))

			records := h.sink.all()
			require.Len(t, records, 1)
			assert.Equal(t, tt.status, records[0].Status)
			assert.NotEmpty(t, records[0].ErrorMessage)
			assert.Zero(t, h.downloader.avatars.Load())
		})
	}
}

func TestRetrieveReportsSinkFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.sink.err = errors.New("db down")
	out, err := h.pipeline.Retrieve(context.Background(), testSeries, day(t, "2023-01-05"))
	require.ErrorContains(t, err, "db down")
	assert.Equal(t, comic.StatusNotYetPublished, out.Status)
}

func TestRunDaily(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	other := comic.Series{ID: 2, Name: "Other", Source: "gocomics", SourceIdentifier: "other"}
	third := comic.Series{ID: 3, Name: "Third", Source: "gocomics", SourceIdentifier: "third"}
	h.downloader.images["Test Comic/2023-01-10"] = stripPNG(t, 10)
	h.downloader.images["Other/2023-01-10"] = stripPNG(t, 20)

	outcomes, err := h.pipeline.RunDaily(context.Background(), []comic.Series{testSeries, other, third}, day(t, "2023-01-10"))
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, comic.StatusSuccess, outcomes[0].Status)
	assert.Equal(t, comic.StatusSuccess, outcomes[1].Status)
	assert.Equal(t, comic.StatusNotYetPublished, outcomes[2].Status)
	assert.Equal(t, "Third", outcomes[2].Series.Name)
	assert.Len(t, h.sink.all(), 3)
}

func TestRunDailyCanceled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.pipeline.RunDaily(ctx, []comic.Series{testSeries}, day(t, "2023-01-10"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.downloader.calls.Load())
}

func mustPNG() []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2)))
	return buf.Bytes()
}
