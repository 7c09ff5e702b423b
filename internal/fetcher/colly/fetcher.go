// Package collyfetcher retrieves strip pages and image bytes using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodySize   int
}

// Limiter gates outbound requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Response is the captured result of one GET.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// StatusError reports a non-success HTTP status from the remote site.
type StatusError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %v", e.URL, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err carries a 404 from the remote site.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Fetcher issues one-off GETs through clones of a shared collector, so every
// call shares the transport and robots cache but has its own callbacks.
type Fetcher struct {
	base    *colly.Collector
	limiter Limiter
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Limiter) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	// Refreshes revisit the same strip URL, so the visited store must not block them.
	base := colly.NewCollector(colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		base.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodySize > 0 {
		base.MaxBodySize = cfg.MaxBodySize
	}
	base.IgnoreRobotsTxt = !cfg.RespectRobots
	base.SetRequestTimeout(timeout)
	base.WithTransport(newTransport())

	return &Fetcher{base: base, limiter: limiter}
}

// Get fetches rawURL after waiting on the per-host limiter. Non-2xx answers
// are returned as *StatusError.
func (f *Fetcher) Get(ctx context.Context, rawURL string, headers http.Header) (Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return Response{}, fmt.Errorf("colly fetch: %w", err)
		}
	}

	c := f.base.Clone()
	c.Context = ctx
	capt := &capture{headers: headers, start: time.Now()}
	capt.attach(c)

	visitErr := c.Visit(rawURL)
	switch {
	case ctx.Err() != nil:
		return Response{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case capt.err != nil:
		// The callback error carries the status code, so it wins over Visit's.
		return Response{}, fmt.Errorf("colly response failed: %w", capt.err)
	case visitErr != nil:
		return Response{}, fmt.Errorf("colly visit failed: %w", visitErr)
	}
	return capt.resp, nil
}

type hooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// capture collects the outcome of a single request.
type capture struct {
	headers http.Header
	start   time.Time
	resp    Response
	err     error
}

func (c *capture) attach(h hooks) {
	h.OnRequest(c.onRequest)
	h.OnResponse(c.onResponse)
	h.OnError(c.onError)
}

func (c *capture) onRequest(r *colly.Request) {
	for key, values := range c.headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func (c *capture) onResponse(r *colly.Response) {
	c.resp = Response{
		URL:        requestURL(r),
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(c.start),
	}
	if r.Headers != nil {
		c.resp.Headers = r.Headers.Clone()
	}
}

func (c *capture) onError(r *colly.Response, err error) {
	if r == nil || r.StatusCode == 0 {
		c.err = err
		return
	}
	c.err = &StatusError{URL: requestURL(r), StatusCode: r.StatusCode, Err: err}
}

func requestURL(r *colly.Response) string {
	if r.Request == nil || r.Request.URL == nil {
		return ""
	}
	return r.Request.URL.String()
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
