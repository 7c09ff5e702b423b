// Package cmd defines and implements the CLI commands for the comic-cacher executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/api"
	"github.com/JakeFAU/comic-cacher/internal/app"
	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/config"
	"github.com/JakeFAU/comic-cacher/internal/logging"
	"github.com/JakeFAU/comic-cacher/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application surface commands use, so tests can inject a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	Status() api.StatusReader
	Fetch(ctx context.Context, ids []int, date time.Time) ([]pipeline.Outcome, error)
	Navigate(ctx context.Context, id int, op string, date time.Time) (comic.NavigationResult, error)
	Purge(ctx context.Context, days int, artifacts bool) (app.PurgeReport, error)
	StorageSize(ids []int) ([]app.SeriesSize, error)
	OrphanDirs() ([]string, error)
	DeleteSeries(id int) (bool, error)
	Serve(ctx context.Context) error
}

// AppFactory builds the application from the loaded configuration.
type AppFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error)

func defaultAppFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.Build(ctx, cfg, logger)
}

// newRootCmd creates the root command. factory is swapped out in tests.
func newRootCmd(factory AppFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "comic-cacher",
		Short: "Retrieves, caches and navigates daily comic strips.",
		Long: `comic-cacher keeps a local cache of daily comic strips. It downloads strips
from the configured sources, rejects duplicates, tracks every retrieval attempt,
and serves first/last/next/previous navigation backed by a predictive cache.`,
		SilenceUsage: true,

		// Builds and injects the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := factory(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./comic-cacher.yaml or $HOME/.comic-cacher/)")

	cmd.AddCommand(
		newFetchCmd(),
		newNavigateCmd(),
		newStatusCmd(),
		newPurgeCmd(),
		newStorageCmd(),
		newServeCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd(defaultAppFactory)
	if err := root.ExecuteContext(context.Background()); err != nil {
		zap.L().Fatal("command execution failed", zap.Error(err))
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func parseOptionalDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := comic.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date: %w", err)
	}
	return d, nil
}
