package downloader

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	collyfetcher "github.com/JakeFAU/comic-cacher/internal/fetcher/colly"
)

// PageFetcher performs rate-limited GETs. *collyfetcher.Fetcher satisfies it.
type PageFetcher interface {
	Get(ctx context.Context, url string, headers http.Header) (collyfetcher.Response, error)
}

// FetchDocument downloads pageURL and parses it with goquery. A 404 is reported
// as ErrNotYetPublished since strip sites answer missing dates that way.
func FetchDocument(ctx context.Context, fetcher PageFetcher, pageURL string) (*goquery.Document, error) {
	resp, err := fetcher.Get(ctx, pageURL, nil)
	if err != nil {
		if collyfetcher.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s returned 404", ErrNotYetPublished, pageURL)
		}
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrParse, err)
	}
	doc.Url, _ = url.Parse(firstNonEmpty(resp.URL, pageURL))
	return doc, nil
}

// FetchImage downloads imageURL, sending pageURL as the referer.
func FetchImage(ctx context.Context, fetcher PageFetcher, imageURL, pageURL string) ([]byte, error) {
	headers := http.Header{}
	if pageURL != "" {
		headers.Set("Referer", pageURL)
	}
	resp, err := fetcher.Get(ctx, imageURL, headers)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	if len(resp.Body) == 0 {
		return nil, fmt.Errorf("fetch image: empty body from %s", imageURL)
	}
	return resp.Body, nil
}

// FirstAttr returns the first non-empty attr value among the selectors, tried in order.
func FirstAttr(doc *goquery.Document, attr string, selectors ...string) (string, bool) {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// ResolveURL resolves ref against the document URL, handling protocol-relative links.
func ResolveURL(doc *goquery.Document, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: bad image url %q", ErrParse, ref)
	}
	if doc.Url != nil {
		u = doc.Url.ResolveReference(u)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: image url %q is not absolute", ErrParse, ref)
	}
	return u.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
