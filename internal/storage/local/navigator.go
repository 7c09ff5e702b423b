// Package local implements the directory-per-series, year-bucketed artifact store
// and the navigation logic that walks it.
//
// Layout:
//
//	<root>/<SeriesNameNoSpaces>/avatar.png
//	<root>/<SeriesNameNoSpaces>/<YYYY>/<YYYY-MM-DD>.png
//
// Existence on disk is the only source of truth; there is no index.
package local

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/comic"
)

const (
	avatarFile    = "avatar.png"
	artifactExt   = ".png"
	dirPerm       = 0o750
	filePerm      = 0o640
	writableProbe = ".writable_test"
)

var (
	yearDirPattern  = regexp.MustCompile(`^\d{4}$`)
	artifactPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.png$`)
)

// Config captures the parameters for the local artifact store.
type Config struct {
	// Root is the cache root directory.
	Root string `mapstructure:"root" yaml:"root"`
}

// Navigator locates, reads, and writes cached artifacts.
type Navigator struct {
	root   string
	logger *zap.Logger
}

// New creates a Navigator rooted at cfg.Root, creating it when absent. An
// unwritable root is a fatal startup condition and is reported as an error.
func New(cfg Config, logger *zap.Logger) (*Navigator, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("cache root is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(cfg.Root)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat cache root: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.Root, dirPerm); mkErr != nil {
			return nil, fmt.Errorf("failed to create cache root: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("cache root path is not a directory")
	}

	n := &Navigator{root: cfg.Root, logger: logger}
	if err := n.CheckWritable(); err != nil {
		return nil, err
	}
	return n, nil
}

// CheckWritable writes and removes a probe file in the cache root.
func (n *Navigator) CheckWritable() error {
	probe := filepath.Join(n.root, writableProbe)
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("cache root is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("failed to clean up probe file: %w", err)
	}
	return nil
}

// Root returns the cache root directory.
func (n *Navigator) Root() string {
	return n.root
}

// SeriesDir returns the directory holding every artifact of a series.
func (n *Navigator) SeriesDir(series comic.Series) string {
	return filepath.Join(n.root, series.DirName())
}

// ArtifactPath computes where the artifact for date lives.
func (n *Navigator) ArtifactPath(series comic.Series, date time.Time) string {
	day := comic.Day(date)
	return filepath.Join(n.SeriesDir(series), strconv.Itoa(day.Year()), comic.FormatDate(day)+artifactExt)
}

// AvatarPath returns the location of the series avatar.
func (n *Navigator) AvatarPath(series comic.Series) string {
	return filepath.Join(n.SeriesDir(series), avatarFile)
}

// IsHousekeeping reports whether a directory entry was created by the platform
// (Synology @eaDir, macOS dotfiles, recycle bins) and must be ignored.
func IsHousekeeping(name string) bool {
	switch {
	case strings.HasPrefix(name, "@"), strings.HasPrefix(name, "."):
		return true
	case strings.EqualFold(name, "#recycle"), strings.EqualFold(name, "Thumbs.db"):
		return true
	default:
		return false
	}
}

// FindExtreme returns the oldest (Forward) or newest (Backward) artifact. An
// empty or missing series directory yields ok=false with no error.
func (n *Navigator) FindExtreme(series comic.Series, direction comic.Direction) (comic.Artifact, bool, error) {
	years, err := n.listYears(series)
	if err != nil {
		return comic.Artifact{}, false, err
	}
	if direction == comic.Backward {
		sort.Sort(sort.Reverse(sort.IntSlice(years)))
	}
	for _, year := range years {
		names, err := n.listArtifactNames(series, year)
		if err != nil {
			return comic.Artifact{}, false, err
		}
		if len(names) == 0 {
			continue
		}
		name := names[0]
		if direction == comic.Backward {
			name = names[len(names)-1]
		}
		date, err := comic.ParseDate(strings.TrimSuffix(name, artifactExt))
		if err != nil {
			return comic.Artifact{}, false, err
		}
		return comic.Artifact{
			Series: series,
			Date:   date,
			Path:   filepath.Join(n.SeriesDir(series), strconv.Itoa(year), name),
		}, true, nil
	}
	return comic.Artifact{}, false, nil
}

// FindAdjacent walks day by day from from±1 until it hits a cached artifact or
// passes the extreme in the requested direction. A day-by-day scan handles sparse
// publishing calendars where probe points of a binary search would be missing.
func (n *Navigator) FindAdjacent(series comic.Series, from time.Time, direction comic.Direction) (time.Time, bool, error) {
	// The boundary is the far end of the walk: newest for Forward, oldest for Backward.
	boundary, ok, err := n.FindExtreme(series, direction.Opposite())
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	start := comic.Day(from)
	step := direction.Step()

	if direction == comic.Forward && !start.Before(boundary.Date) {
		return time.Time{}, false, nil
	}
	if direction == comic.Backward && !start.After(boundary.Date) {
		return time.Time{}, false, nil
	}

	// from lies outside the cached range on the near side: the near extreme is the answer.
	near, ok, err := n.FindExtreme(series, direction)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	if direction == comic.Forward && start.Before(near.Date) {
		return near.Date, true, nil
	}
	if direction == comic.Backward && start.After(near.Date) {
		return near.Date, true, nil
	}

	for cur := start.AddDate(0, 0, step); ; cur = cur.AddDate(0, 0, step) {
		if n.Exists(series, cur) {
			return cur, true, nil
		}
		if cur.Equal(boundary.Date) {
			return time.Time{}, false, nil
		}
	}
}

// Exists reports whether an artifact is cached for date.
func (n *Navigator) Exists(series comic.Series, date time.Time) bool {
	info, err := os.Stat(n.ArtifactPath(series, date))
	return err == nil && info.Mode().IsRegular()
}

// Read returns the bytes of the artifact for date.
func (n *Navigator) Read(series comic.Series, date time.Time) ([]byte, error) {
	path := n.ArtifactPath(series, date)
	// #nosec G304 -- path is derived from the cache root and a formatted date.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return data, nil
}

// Write persists data as the artifact for date, creating the year directory on
// demand. An existing artifact for the same date is replaced.
func (n *Navigator) Write(series comic.Series, date time.Time, data []byte) (string, error) {
	path := n.ArtifactPath(series, date)
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// HasAvatar reports whether avatar.png exists for the series.
func (n *Navigator) HasAvatar(series comic.Series) bool {
	info, err := os.Stat(n.AvatarPath(series))
	return err == nil && info.Mode().IsRegular()
}

// ReadAvatar returns the avatar bytes.
func (n *Navigator) ReadAvatar(series comic.Series) ([]byte, error) {
	path := n.AvatarPath(series)
	// #nosec G304 -- path is derived from the cache root.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read avatar %s: %w", path, err)
	}
	return data, nil
}

// WriteAvatar stores avatar.png directly under the series directory.
func (n *Navigator) WriteAvatar(series comic.Series, data []byte) (string, error) {
	path := n.AvatarPath(series)
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// ListDates returns every cached date for a series in a given year, oldest first.
func (n *Navigator) ListDates(series comic.Series, year int) ([]time.Time, error) {
	names, err := n.listArtifactNames(series, year)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(names))
	for _, name := range names {
		d, err := comic.ParseDate(strings.TrimSuffix(name, artifactExt))
		if err != nil {
			n.logger.Debug("skipping malformed artifact name", zap.String("name", name))
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// ListSeriesDirs returns the series directory names present under the root.
func (n *Navigator) ListSeriesDirs() ([]string, error) {
	entries, err := os.ReadDir(n.root)
	if err != nil {
		return nil, fmt.Errorf("list cache root: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !IsHousekeeping(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Delete removes the whole series directory. It returns false when nothing was there.
func (n *Navigator) Delete(series comic.Series) (bool, error) {
	dir := n.SeriesDir(series)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat series dir: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete series dir %s: %w", dir, err)
	}
	n.logger.Info("series deleted", zap.String("series", series.DirName()))
	return true, nil
}

// PurgeOlderThan removes artifacts dated strictly before cutoff and returns how
// many were removed. Year directories left empty are removed as well.
func (n *Navigator) PurgeOlderThan(series comic.Series, cutoff time.Time) (int, error) {
	cut := comic.Day(cutoff)
	years, err := n.listYears(series)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, year := range years {
		if year > cut.Year() {
			break
		}
		dates, err := n.ListDates(series, year)
		if err != nil {
			return removed, err
		}
		for _, d := range dates {
			if !d.Before(cut) {
				continue
			}
			if err := os.Remove(n.ArtifactPath(series, d)); err != nil && !os.IsNotExist(err) {
				return removed, fmt.Errorf("purge artifact: %w", err)
			}
			removed++
		}
		n.removeIfEmpty(filepath.Join(n.SeriesDir(series), strconv.Itoa(year)))
	}
	return removed, nil
}

// StorageSizeBytes sums the size of every file under the series directory,
// skipping housekeeping entries.
func (n *Navigator) StorageSizeBytes(series comic.Series) (int64, error) {
	dir := n.SeriesDir(series)
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		if path != dir && IsHousekeeping(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk series dir: %w", err)
	}
	return total, nil
}

func (n *Navigator) listYears(series comic.Series) ([]int, error) {
	entries, err := os.ReadDir(n.SeriesDir(series))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list series dir: %w", err)
	}
	years := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || IsHousekeeping(e.Name()) || !yearDirPattern.MatchString(e.Name()) {
			continue
		}
		y, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

func (n *Navigator) listArtifactNames(series comic.Series, year int) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(n.SeriesDir(series), strconv.Itoa(year)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list year dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || IsHousekeeping(e.Name()) || !artifactPattern.MatchString(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	// yyyy-MM-dd sorts lexicographically in date order.
	sort.Strings(names)
	return names, nil
}

func (n *Navigator) removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err != nil {
		n.logger.Debug("failed to remove empty year dir", zap.String("dir", dir), zap.Error(err))
	}
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
