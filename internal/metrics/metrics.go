// Package metrics exposes Prometheus collectors for the comic cache engine.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	retrievalsTotal            *prometheus.CounterVec
	retrievalBytesTotal        *prometheus.CounterVec
	retrievalDurationSeconds   *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	httpResponseBytesTotal     *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	cacheEntries               prometheus.Gauge
	prefetchTasksTotal         *prometheus.CounterVec
	prefetchActiveWorkers      prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		retrievalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comic_retrievals_total",
				Help: "Total number of retrieval attempts, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		retrievalBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comic_retrieval_bytes_total",
				Help: "Total number of artifact bytes stored, labeled by source.",
			},
			[]string{"source"},
		)

		retrievalDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "comic_retrieval_duration_seconds",
				Help:    "Histogram of retrieval latencies, labeled by source.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comic_http_requests_total",
				Help: "Operator API requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpResponseBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comic_http_response_bytes_total",
				Help: "Bytes written by the operator API, labeled by route.",
			},
			[]string{"route"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "comic_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comic_cache_lookups_total",
				Help: "Navigation cache lookups, labeled by result (hit, miss).",
			},
			[]string{"result"},
		)

		cacheEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "comic_cache_entries",
				Help: "Number of navigation results currently cached.",
			},
		)

		prefetchTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comic_prefetch_tasks_total",
				Help: "Prefetch task transitions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		prefetchActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "comic_prefetch_active_workers",
				Help: "Number of prefetch workers currently processing a task.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "comic_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite reduces a strip or page URL to its lowercase hostname so label
// cardinality stays bounded by the number of sources. It returns "unknown" if
// the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRetrieval records one terminal retrieval outcome.
func ObserveRetrieval(source, status string, bytesStored int64, duration time.Duration) {
	Init()
	source = strings.ToLower(source)
	if source == "" {
		source = "unknown"
	}
	retrievalsTotal.WithLabelValues(source, status).Inc()
	retrievalDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	if bytesStored > 0 {
		retrievalBytesTotal.WithLabelValues(source).Add(float64(bytesStored))
	}
}

// ObserveHTTPRequest records one served operator request.
func ObserveHTTPRequest(method, route string, code int, written int64, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
	if written > 0 {
		httpResponseBytesTotal.WithLabelValues(route).Add(float64(written))
	}
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// SetCacheEntries reports the current cache size.
func SetCacheEntries(n int) {
	Init()
	cacheEntries.Set(float64(n))
}

// ObservePrefetch counts a prefetch task transition.
func ObservePrefetch(outcome string) {
	Init()
	prefetchTasksTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	prefetchActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	prefetchActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
