// Package app initializes and holds long-lived services, acting as the
// dependency injection container for the CLI and the operator server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/api"
	"github.com/JakeFAU/comic-cacher/internal/cache"
	"github.com/JakeFAU/comic-cacher/internal/clock/system"
	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/config"
	"github.com/JakeFAU/comic-cacher/internal/dedup"
	"github.com/JakeFAU/comic-cacher/internal/dispatcher"
	"github.com/JakeFAU/comic-cacher/internal/downloader"
	"github.com/JakeFAU/comic-cacher/internal/downloader/comicskingdom"
	"github.com/JakeFAU/comic-cacher/internal/downloader/gocomics"
	"github.com/JakeFAU/comic-cacher/internal/engine"
	collyfetcher "github.com/JakeFAU/comic-cacher/internal/fetcher/colly"
	"github.com/JakeFAU/comic-cacher/internal/hash/perceptual"
	"github.com/JakeFAU/comic-cacher/internal/hash/sha256"
	"github.com/JakeFAU/comic-cacher/internal/id/uuid"
	"github.com/JakeFAU/comic-cacher/internal/imagecheck"
	"github.com/JakeFAU/comic-cacher/internal/pipeline"
	"github.com/JakeFAU/comic-cacher/internal/policy/ratelimit"
	queueMemory "github.com/JakeFAU/comic-cacher/internal/queue/memory"
	"github.com/JakeFAU/comic-cacher/internal/status"
	"github.com/JakeFAU/comic-cacher/internal/status/jsonfile"
	pgstatus "github.com/JakeFAU/comic-cacher/internal/status/postgres"
	"github.com/JakeFAU/comic-cacher/internal/storage/local"
)

// App holds the shared, long-lived services. It is built once at startup.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  comic.Clock

	storage   *local.Navigator
	store     status.Store
	tracker   *status.Tracker
	registry  *downloader.Registry
	pipeline  *pipeline.Pipeline
	engine    *engine.Engine
	cache     *cache.PredictiveCache
	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	navigator *Navigator
}

// Option customises Build.
type Option func(*buildOptions)

type buildOptions struct {
	clock      comic.Clock
	strategies []comic.DownloadStrategy
}

// WithClock overrides the system clock.
func WithClock(c comic.Clock) Option {
	return func(o *buildOptions) { o.clock = c }
}

// WithStrategies replaces the built-in download strategies.
func WithStrategies(s ...comic.DownloadStrategy) Option {
	return func(o *buildOptions) { o.strategies = s }
}

// Build creates the application's dependencies. An unwritable cache root is
// reported as an error and callers treat it as fatal.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bo := buildOptions{clock: system.NewIn(cfg.Location())}
	for _, opt := range opts {
		opt(&bo)
	}

	app := &App{cfg: cfg, logger: logger, clock: bo.clock}
	app.logger.Info("building application dependencies",
		zap.String("cache_root", cfg.Cache.Root),
		zap.Int("series", len(cfg.Series)),
	)

	var err error
	app.storage, err = local.New(local.Config{Root: cfg.Cache.Root}, logger.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("cache root init failed: %w", err)
	}

	if err = setupStatus(ctx, app); err != nil {
		return nil, err
	}
	app.registry = setupDownloads(app, bo.strategies)
	checkSources(app)
	if err = setupPipeline(app); err != nil {
		app.closeStore()
		return nil, err
	}
	if err = setupNavigation(app); err != nil {
		app.closeStore()
		return nil, err
	}
	return app, nil
}

func setupStatus(ctx context.Context, app *App) error {
	var err error
	switch app.cfg.Status.Backend {
	case "postgres":
		var pg *pgstatus.Store
		pg, err = pgstatus.New(ctx, pgstatus.Config{DSN: app.cfg.Status.DSN, Table: app.cfg.Status.Table})
		if err != nil {
			return fmt.Errorf("status store init failed: %w", err)
		}
		if err = pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return fmt.Errorf("status schema init failed: %w", err)
		}
		app.store = pg
		app.logger.Info("using postgres status store", zap.String("table", app.cfg.Status.Table))
	default:
		app.store, err = jsonfile.New(app.cfg.Status.Path)
		if err != nil {
			return fmt.Errorf("status store init failed: %w", err)
		}
		app.logger.Info("using json status store", zap.String("path", app.cfg.Status.Path))
	}

	app.tracker, err = status.NewTracker(ctx, app.store, app.clock, app.cfg.Status.MaxErrorsPerSeries, app.logger.Named("status"))
	if err != nil {
		app.closeStore()
		return fmt.Errorf("status tracker init failed: %w", err)
	}
	return nil
}

func setupDownloads(app *App, override []comic.DownloadStrategy) *downloader.Registry {
	timeout := app.cfg.FetchTimeout()
	registry := downloader.NewRegistry(timeout, app.logger.Named("downloader"))
	if len(override) > 0 {
		for _, s := range override {
			registry.Register(s)
		}
		return registry
	}

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: app.cfg.HTTP.RequestsPerSecond,
		Burst:             app.cfg.HTTP.Burst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     app.cfg.HTTP.UserAgent,
		RespectRobots: app.cfg.HTTP.RespectRobots,
		Timeout:       timeout,
		MaxBodySize:   app.cfg.HTTP.MaxBodyBytes,
	}, limiter)
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", app.cfg.HTTP.UserAgent),
		zap.Float64("requests_per_second", app.cfg.HTTP.RequestsPerSecond),
	)

	registry.Register(gocomics.New(app.cfg.HTTP.GoComicsBaseURL, fetcher, app.clock, app.logger))
	registry.Register(comicskingdom.New(app.cfg.HTTP.ComicsKingdomURL, fetcher, app.clock, app.logger))
	return registry
}

// checkSources warns about catalog entries no registered strategy can serve.
func checkSources(app *App) {
	sources := app.registry.Sources()
	app.logger.Info("download strategies registered", zap.Strings("sources", sources))
	for _, s := range app.cfg.Catalog() {
		if _, ok := app.registry.Lookup(s.Source); !ok {
			app.logger.Warn("series source has no strategy",
				zap.String("series", s.Name),
				zap.String("source", s.Source),
				zap.Strings("registered", sources),
			)
		}
	}
}

func setupPipeline(app *App) error {
	checker, err := setupDedup(app)
	if err != nil {
		return err
	}
	validator := imagecheck.New(imagecheck.Config{
		MaxBytes:  app.cfg.Validation.MaxBytes,
		MinWidth:  app.cfg.Validation.MinWidth,
		MinHeight: app.cfg.Validation.MinHeight,
	})
	app.pipeline, err = pipeline.New(
		pipeline.Config{Concurrency: app.cfg.Pipeline.Concurrency},
		app.storage,
		app.registry,
		validator,
		checker,
		app.tracker,
		app.clock,
		uuid.New(),
		app.logger.Named("pipeline"),
	)
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}
	return nil
}

func setupDedup(app *App) (pipeline.DuplicateChecker, error) {
	if !app.cfg.Dedup.Enabled {
		app.logger.Info("duplicate detection disabled")
		return acceptAll{}, nil
	}
	var hasher comic.ImageHasher
	switch app.cfg.Dedup.Algorithm {
	case "", "sha256":
		hasher = sha256.New()
	default:
		p, err := perceptual.New(app.cfg.Dedup.Algorithm)
		if err != nil {
			return nil, fmt.Errorf("dedup hasher init failed: %w", err)
		}
		hasher = p
	}
	v, err := dedup.New(dedup.Config{
		Algorithm:    hasher.Algorithm(),
		MaxDistance:  app.cfg.Dedup.MaxDistance,
		CompareCount: app.cfg.Dedup.CompareCount,
	}, hasher, app.storage, app.logger.Named("dedup"))
	if err != nil {
		return nil, fmt.Errorf("dedup init failed: %w", err)
	}
	app.logger.Info("duplicate detection enabled",
		zap.String("algorithm", hasher.Algorithm()),
		zap.Int("max_distance", app.cfg.Dedup.MaxDistance),
	)
	return v, nil
}

func setupNavigation(app *App) error {
	var err error
	app.engine, err = engine.New(app.storage, app.pipeline, app.clock, app.logger.Named("engine"))
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}

	var queue comic.Queue
	if app.cfg.Lookahead.Enabled {
		app.queue = queueMemory.NewQueue(app.cfg.Lookahead.QueueDepth)
		queue = app.queue
	}
	app.cache, err = cache.New(cache.Config{
		TTL:              app.cfg.Cache.TTL,
		MaxEntries:       app.cfg.Cache.MaxEntries,
		LookaheadEnabled: app.cfg.Lookahead.Enabled,
		LookaheadCount:   app.cfg.Lookahead.Count,
		ResolveTimeout:   app.cfg.Cache.ResolveTimeout,
	}, app.engine, queue, app.clock, app.logger)
	if err != nil {
		return fmt.Errorf("cache init failed: %w", err)
	}

	if app.queue != nil {
		app.dispatch = dispatcher.New(app.queue, app.cache, app.clock, dispatcher.Config{
			Workers:    app.cfg.Lookahead.Workers,
			StaleAfter: app.cfg.Lookahead.StaleAfter,
		}, app.logger)
		app.logger.Info("lookahead enabled",
			zap.Int("count", app.cfg.Lookahead.Count),
			zap.Int("workers", app.dispatch.Size()),
			zap.Int("queue_depth", app.cfg.Lookahead.QueueDepth),
		)
	}
	app.navigator = &Navigator{engine: app.engine, cache: app.cache}
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the app was built with.
func (a *App) Config() config.Config {
	return a.cfg
}

// Tracker exposes the retrieval status tracker.
func (a *App) Tracker() *status.Tracker {
	return a.tracker
}

// Status exposes the read side of the tracker.
func (a *App) Status() api.StatusReader {
	return a.tracker
}

// Navigator exposes cached navigation.
func (a *App) Navigator() *Navigator {
	return a.navigator
}

// StartWorkers runs the prefetch pool in the background until ctx ends. It is
// a no-op when lookahead is disabled.
func (a *App) StartWorkers(ctx context.Context) {
	if a.dispatch == nil {
		return
	}
	go func() {
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()
}

// Serve runs the operator HTTP server and the prefetch pool until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	a.StartWorkers(ctx)

	handler := api.NewServer(a.tracker, a.navigator, a.cfg, api.Options{
		APIKey:  a.cfg.Server.APIKey,
		Timeout: time.Duration(a.cfg.Server.TimeoutSeconds) * time.Second,
		Ready:   []api.ReadinessCheck{a.checkCacheRoot},
	}, a.logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           handler.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

func (a *App) checkCacheRoot(context.Context) error {
	return a.storage.CheckWritable()
}

// Close gracefully shuts down the application.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeStore()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeStore() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("status store close failed", zap.Error(err))
	}
}

type acceptAll struct{}

func (acceptAll) Validate(context.Context, comic.Series, time.Time, []byte) (comic.DuplicateValidationResult, error) {
	return comic.DuplicateValidationResult{}, nil
}
