package comic

import (
	"context"
	"time"
)

// DownloadStrategy fetches strips and avatars from one external site.
type DownloadStrategy interface {
	Source() string
	DownloadComic(ctx context.Context, request DownloadRequest) (DownloadResult, error)
	DownloadAvatar(ctx context.Context, seriesID int, seriesName, sourceIdentifier string) ([]byte, bool, error)
}

// Downloader is the registry-facing side of the strategies; it never returns errors.
type Downloader interface {
	DownloadComic(ctx context.Context, request DownloadRequest) DownloadResult
	DownloadAvatar(ctx context.Context, series Series) ([]byte, bool)
}

// ImageHasher computes comparable fingerprints for image bytes.
type ImageHasher interface {
	Algorithm() string
	Hash(data []byte) (string, error)
	Distance(a, b string) (int, error)
}

// ArtifactStore is the slice of the storage navigator the pipeline needs.
type ArtifactStore interface {
	Exists(series Series, date time.Time) bool
	Write(series Series, date time.Time, data []byte) (string, error)
	HasAvatar(series Series) bool
	WriteAvatar(series Series, data []byte) (string, error)
}

// RecordSink receives every terminal retrieval outcome.
type RecordSink interface {
	Record(ctx context.Context, record RetrievalRecord) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces attempt IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Queue provides enqueue/dequeue semantics for prefetch tasks.
type Queue interface {
	TryEnqueue(task PrefetchTask) bool
	Dequeue(ctx context.Context) (PrefetchTask, error)
}

// Warmer resolves prefetch tasks into cache entries.
type Warmer interface {
	Warm(ctx context.Context, task PrefetchTask)
}
