// Package gocomics downloads strips from gocomics.com.
package gocomics

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/downloader"
)

// Source is the registry key for this strategy.
const Source = "gocomics"

// DefaultBaseURL is the production site.
const DefaultBaseURL = "https://www.gocomics.com"

var canonicalDate = regexp.MustCompile(`/(\d{4})/(\d{2})/(\d{2})(?:[/?#]|$)`)

var (
	imageSelectors  = []string{"picture.item-comic-image img[src]", "img.item-comic-image"}
	metaImage       = `meta[property="og:image"]`
	avatarSelectors = []string{"img.gc-avatar__image", "img.gc-avatar"}
)

// Strategy implements comic.DownloadStrategy for GoComics.
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
	return fmt.Sprintf("%s/%s/%s", s.baseURL, identifier, date.Format("2006/01/02"))
}

// DownloadComic fetches the strip page, locates the strip image and downloads it.
func (s *Strategy) DownloadComic(ctx context.Context, req comic.DownloadRequest) (comic.DownloadResult, error) {
	day := comic.Day(req.Date)
	if day.After(comic.Day(s.clock.Now())) {
		return comic.DownloadResult{}, fmt.Errorf("%w: %s is in the future", downloader.ErrNotYetPublished, comic.FormatDate(day))
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

	// GoComics serves the newest strip when asked for a date it does not have yet.
	if canonical, ok := downloader.FirstAttr(doc, "href", `link[rel="canonical"]`); ok {
		if got, ok := dateFromURL(canonical); ok && !got.Equal(day) {
			return comic.DownloadResult{}, fmt.Errorf("%w: site redirected %s to %s",
				downloader.ErrNotYetPublished, comic.FormatDate(day), comic.FormatDate(got))
		}
	}

	ref, ok := downloader.FirstAttr(doc, "src", imageSelectors...)
	if !ok {
		ref, ok = downloader.FirstAttr(doc, "content", metaImage)
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

// DownloadAvatar fetches the feature image from the series landing page.
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
	ref, ok := downloader.FirstAttr(doc, "src", avatarSelectors...)
	if !ok {
		ref, ok = downloader.FirstAttr(doc, "content", metaImage)
	}
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

func dateFromURL(raw string) (time.Time, bool) {
	m := canonicalDate.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, false
	}
	d, err := comic.ParseDate(m[1] + "-" + m[2] + "-" + m[3])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
