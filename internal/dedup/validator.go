// Package dedup rejects downloads that repeat an artifact already cached for the
// same series. Strip sites occasionally serve yesterday's image for today's
// date; storing it would make navigation show the same strip twice.
package dedup

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/comic"
)

// Config tunes the comparison window.
type Config struct {
	Algorithm    string `mapstructure:"algorithm"`
	MaxDistance  int    `mapstructure:"max_distance"`
	CompareCount int    `mapstructure:"compare_count"`
}

// ArtifactLister is the slice of the storage navigator the validator reads.
type ArtifactLister interface {
	Exists(series comic.Series, date time.Time) bool
	ListDates(series comic.Series, year int) ([]time.Time, error)
	ArtifactPath(series comic.Series, date time.Time) string
}

// memoLimit bounds the fingerprint memo. Full memos evict an arbitrary entry.
const memoLimit = 4096

type memoEntry struct {
	size    int64
	modTime int64
	hash    string
}

// Validator compares candidate images against the newest artifacts of the same year.
type Validator struct {
	hasher       comic.ImageHasher
	store        ArtifactLister
	maxDistance  int
	compareCount int
	logger       *zap.Logger

	mu   sync.Mutex
	memo map[string]memoEntry
}

// New constructs a Validator. CompareCount below one is treated as one.
func New(cfg Config, hasher comic.ImageHasher, store ArtifactLister, logger *zap.Logger) (*Validator, error) {
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if cfg.MaxDistance < 0 {
		return nil, fmt.Errorf("max_distance must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	count := cfg.CompareCount
	if count < 1 {
		count = 1
	}
	return &Validator{
		hasher:       hasher,
		store:        store,
		maxDistance:  cfg.MaxDistance,
		compareCount: count,
		logger:       logger,
		memo:         make(map[string]memoEntry),
	}, nil
}

// Validate reports whether candidate duplicates a recent artifact of series.
// Re-downloading a date that is already cached is a refresh and never a duplicate.
func (v *Validator) Validate(ctx context.Context, series comic.Series, date time.Time, candidate []byte) (comic.DuplicateValidationResult, error) {
	day := comic.Day(date)
	hash, err := v.hasher.Hash(candidate)
	if err != nil {
		return comic.DuplicateValidationResult{}, fmt.Errorf("hash candidate: %w", err)
	}
	result := comic.DuplicateValidationResult{Hash: hash}

	if v.store.Exists(series, day) {
		return result, nil
	}

	dates, err := v.store.ListDates(series, day.Year())
	if err != nil {
		return comic.DuplicateValidationResult{}, fmt.Errorf("list artifacts: %w", err)
	}

	compared := 0
	for i := len(dates) - 1; i >= 0 && compared < v.compareCount; i-- {
		if err := ctx.Err(); err != nil {
			return comic.DuplicateValidationResult{}, err
		}
		other := dates[i]
		if other.Equal(day) {
			continue
		}
		compared++
		stored, err := v.fingerprint(v.store.ArtifactPath(series, other))
		if err != nil {
			v.logger.Warn("skipping unreadable artifact during dedup",
				zap.String("series", series.DirName()),
				zap.String("date", comic.FormatDate(other)),
				zap.Error(err),
			)
			continue
		}
		distance, err := v.hasher.Distance(hash, stored)
		if err != nil {
			return comic.DuplicateValidationResult{}, fmt.Errorf("compare fingerprints: %w", err)
		}
		if distance <= v.maxDistance {
			result.IsDuplicate = true
			result.MatchedDate = comic.DatePtr(other)
			result.MatchedHash = stored
			return result, nil
		}
	}
	return result, nil
}

// fingerprint hashes a stored artifact, reusing the result while the file is
// unchanged. Entries for files that vanished are dropped.
func (v *Validator) fingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		v.forget(path)
		return "", err
	}
	size, modTime := info.Size(), info.ModTime().UnixNano()

	v.mu.Lock()
	cached, ok := v.memo[path]
	v.mu.Unlock()
	if ok && cached.size == size && cached.modTime == modTime {
		return cached.hash, nil
	}

	// #nosec G304 -- path comes from the storage navigator.
	data, err := os.ReadFile(path)
	if err != nil {
		v.forget(path)
		return "", err
	}
	hash, err := v.hasher.Hash(data)
	if err != nil {
		return "", err
	}

	v.mu.Lock()
	if _, present := v.memo[path]; !present && len(v.memo) >= memoLimit {
		for k := range v.memo {
			delete(v.memo, k)
			break
		}
	}
	v.memo[path] = memoEntry{size: size, modTime: modTime, hash: hash}
	v.mu.Unlock()
	return hash, nil
}

func (v *Validator) forget(path string) {
	v.mu.Lock()
	delete(v.memo, path)
	v.mu.Unlock()
}
