// Package jsonfile persists retrieval records as a single JSON document keyed by
// record id, each id holding its attempt history in append order.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/comic-cacher/internal/comic"
)

// Store implements status.Store on a local file. Every write rewrites the whole
// document through a temp file and rename.
type Store struct {
	path string

	mu      sync.Mutex
	loaded  bool
	records map[string][]comic.RetrievalRecord
}

// New returns a Store backed by path. The file is created on first write.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("status file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create status dir: %w", err)
	}
	return &Store{path: path}, nil
}

// Load returns every stored attempt ordered by timestamp.
func (s *Store) Load(_ context.Context) ([]comic.RetrievalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]comic.RetrievalRecord, 0)
	for _, attempts := range s.records {
		out = append(out, attempts...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].AttemptID < out[j].AttemptID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Append adds record to its id's attempt history.
func (s *Store) Append(_ context.Context, record comic.RetrievalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.records[record.ID] = append(s.records[record.ID], record)
	if err := s.flush(); err != nil {
		// Keep memory consistent with disk.
		attempts := s.records[record.ID]
		s.records[record.ID] = attempts[:len(attempts)-1]
		if len(s.records[record.ID]) == 0 {
			delete(s.records, record.ID)
		}
		return err
	}
	return nil
}

// Purge drops attempts with a timestamp strictly before cutoff.
func (s *Store) Purge(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return 0, err
	}
	removed := 0
	for id, attempts := range s.records {
		kept := make([]comic.RetrievalRecord, 0, len(attempts))
		for _, rec := range attempts {
			if rec.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(s.records, id)
			continue
		}
		s.records[id] = kept
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.flush(); err != nil {
		return 0, err
	}
	return removed, nil
}

// Close is a no-op; every write is already durable.
func (s *Store) Close() error {
	return nil
}

func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	s.records = make(map[string][]comic.RetrievalRecord)
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read status file: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.records); err != nil {
			return fmt.Errorf("decode status file %s: %w", s.path, err)
		}
	}
	s.loaded = true
	return nil
}

func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".status-*.json")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp status file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}
