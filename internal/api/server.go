package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/metrics"
	"github.com/JakeFAU/comic-cacher/internal/status"
)

// StatusReader is the read side of the retrieval status tracker.
type StatusReader interface {
	Get(id string) (comic.RetrievalRecord, bool)
	List(f status.Filter) []comic.RetrievalRecord
	Summary(f status.Filter) map[comic.RetrievalStatus]int
	Errors(seriesName string) []comic.RetrievalRecord
}

// Navigator answers navigation requests for one series.
type Navigator interface {
	First(ctx context.Context, series comic.Series) (comic.NavigationResult, error)
	Last(ctx context.Context, series comic.Series) (comic.NavigationResult, error)
	At(ctx context.Context, series comic.Series, date time.Time) (comic.NavigationResult, error)
	Next(ctx context.Context, series comic.Series, from time.Time) (comic.NavigationResult, error)
	Previous(ctx context.Context, series comic.Series, from time.Time) (comic.NavigationResult, error)
}

// Catalog resolves configured series by id.
type Catalog interface {
	FindSeries(id int) (comic.Series, bool)
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Options configures optional server behaviour.
type Options struct {
	APIKey  string
	Timeout time.Duration
	Ready   []ReadinessCheck
}

// Server wires HTTP handlers to the tracker and navigator.
type Server struct {
	router    chi.Router
	tracker   StatusReader
	navigator Navigator
	catalog   Catalog
	ready     []ReadinessCheck
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. navigator and
// catalog may be nil, which disables the comic routes.
func NewServer(tracker StatusReader, navigator Navigator, catalog Catalog, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	s := &Server{
		tracker:   tracker,
		navigator: navigator,
		catalog:   catalog,
		ready:     opts.Ready,
		logger:    logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.accessLogMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.Timeout))
	if opts.APIKey != "" {
		r.Use(apiKeyMiddleware(opts.APIKey, "/healthz", "/readyz"))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/retrievals", s.listRetrievals)
		r.Get("/retrievals/{id}", s.getRetrieval)
		r.Route("/series/{name}", func(r chi.Router) {
			r.Get("/errors", s.seriesErrors)
			r.Get("/summary", s.seriesSummary)
		})
		r.Route("/comics/{id}", func(r chi.Router) {
			r.Get("/image", s.comicImage)
			r.Get("/{op}", s.navigate)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.ready {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
