// Package comicskingdom downloads strips from comicskingdom.com.
//
// The free tier only exposes the most recent week, so requests outside that
// window are answered locally as not published instead of hitting the site.
package comicskingdom

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/downloader"
)

// Source is the registry key for this strategy.
const Source = "comicskingdom"

// DefaultBaseURL is the production site.
const DefaultBaseURL = "https://comicskingdom.com"

// WindowDays is how far back the free tier serves strips.
const WindowDays = 6

var (
	imageSelectors  = []string{`meta[property="og:image"]`}
	readerSelectors = []string{"img.ck-single-panel-reader", "img.ck-panel-reader"}
)

// Strategy implements comic.DownloadStrategy for Comics Kingdom.
type Strategy struct {
	baseURL string
	fetcher downloader.PageFetcher
	clock   comic.Clock
	logger  *zap.Logger
}

// New builds a Strategy. An empty baseURL selects the production site.
func New(baseURL string, fetcher downloader.PageFetcher, clock comic.Clock, logger *zap.Logger) *Strategy {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetcher: fetcher,
		clock:   clock,
		logger:  logger.Named(Source),
	}
}

// Source returns the registry key.
func (s *Strategy) Source() string {
	return Source
}

// StripURL returns the page for a given identifier and date.
func (s *Strategy) StripURL(identifier string, date time.Time) string {
	return fmt.Sprintf("%s/%s/%s", s.baseURL, identifier, comic.FormatDate(date))
}

// InWindow reports whether date is inside the free-tier window ending today.
func (s *Strategy) InWindow(date time.Time) bool {
	today := comic.Day(s.clock.Now())
	day := comic.Day(date)
	return !day.After(today) && !day.Before(today.AddDate(0, 0, -WindowDays))
}

// DownloadComic fetches the strip for req.Date when the site still serves it.
func (s *Strategy) DownloadComic(ctx context.Context, req comic.DownloadRequest) (comic.DownloadResult, error) {
	day := comic.Day(req.Date)
	if !s.InWindow(day) {
		return comic.DownloadResult{}, fmt.Errorf("%w: %s is outside the %d-day window",
			downloader.ErrNotYetPublished, comic.FormatDate(day), WindowDays)
	}
	identifier := strings.TrimSpace(req.SourceIdentifier)
	if identifier == "" {
		return comic.DownloadResult{}, fmt.Errorf("%w: series %q has no source identifier", downloader.ErrParse, req.SeriesName)
	}

	pageURL := s.StripURL(identifier, day)
	doc, err := downloader.FetchDocument(ctx, s.fetcher, pageURL)
	if err != nil {
		return comic.DownloadResult{}, err
	}

	ref, ok := downloader.FirstAttr(doc, "content", imageSelectors...)
	if !ok {
		ref, ok = downloader.FirstAttr(doc, "src", readerSelectors...)
	}
	if !ok {
		return comic.DownloadResult{}, fmt.Errorf("%w: no strip image on %s", downloader.ErrParse, pageURL)
	}
	imageURL, err := downloader.ResolveURL(doc, ref)
	if err != nil {
		return comic.DownloadResult{}, err
	}

	data, err := downloader.FetchImage(ctx, s.fetcher, imageURL, pageURL)
	if err != nil {
		return comic.DownloadResult{}, err
	}
	s.logger.Debug("strip downloaded",
		zap.String("series", req.SeriesName),
		zap.String("date", comic.FormatDate(day)),
		zap.Int("bytes", len(data)),
	)
	return comic.DownloadResult{Success: true, Image: data, ImageURL: imageURL}, nil
}

// DownloadAvatar fetches the og:image of the series landing page.
func (s *Strategy) DownloadAvatar(ctx context.Context, _ int, _ string, sourceIdentifier string) ([]byte, bool, error) {
	identifier := strings.TrimSpace(sourceIdentifier)
	if identifier == "" {
		return nil, false, nil
	}
	pageURL := s.baseURL + "/" + identifier
	doc, err := downloader.FetchDocument(ctx, s.fetcher, pageURL)
	if err != nil {
		return nil, false, err
	}
	ref, ok := downloader.FirstAttr(doc, "content", imageSelectors...)
	if !ok {
		return nil, false, nil
	}
	imageURL, err := downloader.ResolveURL(doc, ref)
	if err != nil {
		return nil, false, err
	}
	data, err := downloader.FetchImage(ctx, s.fetcher, imageURL, pageURL)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
