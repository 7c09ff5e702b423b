// Package comic defines core types shared across the retrieval and navigation engine.
package comic

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// DateLayout is the on-disk and wire format for strip dates.
const DateLayout = "2006-01-02"

// Direction selects which way navigation walks through a series.
type Direction string

// Navigation directions. Forward moves toward newer strips and its extreme is the
// oldest artifact (the start of a forward walk); Backward is the mirror image.
const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// Step returns +1 for Forward and -1 for Backward.
func (d Direction) Step() int {
	if d == Backward {
		return -1
	}
	return 1
}

// Opposite flips the direction.
func (d Direction) Opposite() Direction {
	if d == Backward {
		return Forward
	}
	return Backward
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Forward || d == Backward
}

// Reason explains why a NavigationResult was not found.
type Reason string

// Navigation reasons; only populated when Found is false.
const (
	ReasonAtEnd           Reason = "AT_END"
	ReasonAtStart         Reason = "AT_START"
	ReasonNotYetPublished Reason = "NOT_YET_PUBLISHED"
	ReasonNoArtifacts     Reason = "NO_ARTIFACTS"
	ReasonRetrievalFailed Reason = "RETRIEVAL_FAILED"
)

// RetrievalStatus is the terminal outcome of one retrieval attempt.
type RetrievalStatus string

// Retrieval statuses recorded by the status tracker.
const (
	StatusSuccess           RetrievalStatus = "SUCCESS"
	StatusNetworkError      RetrievalStatus = "NETWORK_ERROR"
	StatusParsingError      RetrievalStatus = "PARSING_ERROR"
	StatusValidationError   RetrievalStatus = "VALIDATION_ERROR"
	StatusDuplicateRejected RetrievalStatus = "DUPLICATE_REJECTED"
	StatusNotYetPublished   RetrievalStatus = "NOT_YET_PUBLISHED"
	StatusStorageError      RetrievalStatus = "STORAGE_ERROR"
	StatusUnknownSource     RetrievalStatus = "UNKNOWN_SOURCE"
)

// AllStatuses lists every status in a stable order.
func AllStatuses() []RetrievalStatus {
	return []RetrievalStatus{
		StatusSuccess,
		StatusNetworkError,
		StatusParsingError,
		StatusValidationError,
		StatusDuplicateRejected,
		StatusNotYetPublished,
		StatusStorageError,
		StatusUnknownSource,
	}
}

// ParseStatus converts user input into a RetrievalStatus.
func ParseStatus(raw string) (RetrievalStatus, error) {
	want := strings.ToUpper(strings.TrimSpace(raw))
	for _, s := range AllStatuses() {
		if string(s) == want {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown retrieval status %q", raw)
}

// Series identifies a single comic strip title tracked by the engine.
type Series struct {
	ID               int       `json:"id"`
	Name             string    `json:"name"`
	Source           string    `json:"source"`
	SourceIdentifier string    `json:"sourceIdentifier"`
	StartDate        time.Time `json:"startDate,omitempty"`
}

// DirName is the on-disk directory name: Name with all whitespace removed, or a
// synthetic name derived from the ID when Name is blank.
func (s Series) DirName() string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s.Name)
	if cleaned == "" {
		return fmt.Sprintf("Comic%d", s.ID)
	}
	return cleaned
}

// Artifact is one cached strip image on disk.
type Artifact struct {
	Series Series
	Date   time.Time
	Path   string
}

// Image carries artifact bytes back to callers.
type Image struct {
	Path string `json:"path"`
	Data []byte `json:"-"`
	Size int    `json:"size"`
}

// NavigationResult is produced by every navigation or retrieval call.
type NavigationResult struct {
	Found           bool       `json:"found"`
	Image           *Image     `json:"image,omitempty"`
	RequestedDate   time.Time  `json:"requestedDate"`
	CurrentDate     time.Time  `json:"currentDate,omitempty"`
	NearestPrevious *time.Time `json:"nearestPreviousDate,omitempty"`
	NearestNext     *time.Time `json:"nearestNextDate,omitempty"`
	Reason          Reason     `json:"reason,omitempty"`
}

// NotFound builds a result that communicates why nothing was returned.
func NotFound(requested time.Time, reason Reason) NavigationResult {
	return NavigationResult{RequestedDate: requested, Reason: reason}
}

// RetrievalRecord captures one retrieval attempt. Records are immutable once written.
type RetrievalRecord struct {
	ID             string          `json:"id"`
	AttemptID      string          `json:"attemptId"`
	SeriesName     string          `json:"seriesName"`
	Date           time.Time       `json:"date"`
	Source         string          `json:"source"`
	Status         RetrievalStatus `json:"status"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	DurationMs     int64           `json:"durationMs"`
	ImageSizeBytes int64           `json:"imageSizeBytes"`
	Timestamp      time.Time       `json:"timestamp"`
}

// RecordID builds the composite record id for a series and date.
func RecordID(series Series, date time.Time) string {
	return series.DirName() + "_" + FormatDate(date)
}

// DuplicateValidationResult reports whether a candidate repeats a recent artifact.
type DuplicateValidationResult struct {
	IsDuplicate bool       `json:"isDuplicate"`
	Hash        string     `json:"hash,omitempty"`
	MatchedDate *time.Time `json:"matchedDate,omitempty"`
	MatchedHash string     `json:"matchedHash,omitempty"`
}

// FailureKind classifies a failed download.
type FailureKind string

// Download failure kinds.
const (
	FailureNone            FailureKind = ""
	FailureNetwork         FailureKind = "network"
	FailureParsing         FailureKind = "parsing"
	FailureNotYetPublished FailureKind = "not_yet_published"
	FailureUnknownSource   FailureKind = "unknown_source"
)

// Status maps a failure kind onto the retrieval status it is recorded as.
func (k FailureKind) Status() RetrievalStatus {
	switch k {
	case FailureNone:
		return StatusSuccess
	case FailureParsing:
		return StatusParsingError
	case FailureNotYetPublished:
		return StatusNotYetPublished
	case FailureUnknownSource:
		return StatusUnknownSource
	default:
		return StatusNetworkError
	}
}

// DownloadRequest asks a strategy for one strip.
type DownloadRequest struct {
	SeriesID         int
	SeriesName       string
	Source           string
	SourceIdentifier string
	Date             time.Time
}

// NewDownloadRequest builds a request for series on date.
func NewDownloadRequest(series Series, date time.Time) DownloadRequest {
	return DownloadRequest{
		SeriesID:         series.ID,
		SeriesName:       series.Name,
		Source:           series.Source,
		SourceIdentifier: series.SourceIdentifier,
		Date:             Day(date),
	}
}

// DownloadResult is returned by strategies and the registry.
type DownloadResult struct {
	Success      bool
	Image        []byte
	ImageURL     string
	ErrorMessage string
	Failure      FailureKind
}

// Failed builds an unsuccessful DownloadResult.
func Failed(kind FailureKind, msg string) DownloadResult {
	return DownloadResult{Failure: kind, ErrorMessage: msg}
}

// PrefetchTask asks a worker to warm the cache starting after From.
type PrefetchTask struct {
	Series    Series
	Direction Direction
	From      time.Time
	Remaining int
	Submitted time.Time
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders t as yyyy-MM-dd.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a yyyy-MM-dd string into a UTC day.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", raw, err)
	}
	return t, nil
}

// DatePtr returns a pointer to a copy of t.
func DatePtr(t time.Time) *time.Time {
	ts := t
	return &ts
}
