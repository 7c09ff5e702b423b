// Package config loads and validates comic-cacher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/comic-cacher/internal/comic"
)

// EnvPrefix namespaces environment overrides, e.g. COMICS_CACHE_ROOT.
const EnvPrefix = "COMICS"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Lookahead  LookaheadConfig  `mapstructure:"lookahead"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Status     StatusConfig     `mapstructure:"status"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Validation ValidationConfig `mapstructure:"validation"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Series     []SeriesConfig   `mapstructure:"series"`
}

// ServerConfig controls the operator HTTP server. A non-empty APIKey is
// required on every request.
type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CacheConfig locates the artifact tree and sizes the navigation cache.
type CacheConfig struct {
	Root       string        `mapstructure:"root"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	// ResolveTimeout bounds a shared navigation resolution. Zero disables it.
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
	// Timezone decides which calendar day "today" is. IANA name, e.g. America/New_York.
	Timezone string `mapstructure:"timezone"`
}

// LookaheadConfig governs background prefetching.
type LookaheadConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Count      int           `mapstructure:"count"`
	Workers    int           `mapstructure:"workers"`
	QueueDepth int           `mapstructure:"queue_depth"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// RetentionConfig bounds how long artifacts are kept. Zero keeps everything.
type RetentionConfig struct {
	Days int `mapstructure:"days"`
}

// StatusConfig selects and tunes the retrieval record store.
type StatusConfig struct {
	Backend            string `mapstructure:"backend"`
	Path               string `mapstructure:"path"`
	DSN                string `mapstructure:"dsn"`
	Table              string `mapstructure:"table"`
	MaxErrorsPerSeries int    `mapstructure:"max_errors_per_series"`
	RetentionDays      int    `mapstructure:"retention_days"`
}

// DedupConfig tunes the duplicate validator.
type DedupConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Algorithm    string `mapstructure:"algorithm"`
	MaxDistance  int    `mapstructure:"max_distance"`
	CompareCount int    `mapstructure:"compare_count"`
}

// ValidationConfig bounds acceptable images.
type ValidationConfig struct {
	MaxBytes  int64 `mapstructure:"max_bytes"`
	MinWidth  int   `mapstructure:"min_width"`
	MinHeight int   `mapstructure:"min_height"`
}

// HTTPConfig configures the outbound fetcher.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	UserAgent         string  `mapstructure:"user_agent"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	MaxBodyBytes      int     `mapstructure:"max_body_bytes"`
	GoComicsBaseURL   string  `mapstructure:"gocomics_base_url"`
	ComicsKingdomURL  string  `mapstructure:"comicskingdom_base_url"`
}

// PipelineConfig bounds batch retrieval.
type PipelineConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// SeriesConfig is one configured comic.
type SeriesConfig struct {
	ID               int    `mapstructure:"id"`
	Name             string `mapstructure:"name"`
	Source           string `mapstructure:"source"`
	SourceIdentifier string `mapstructure:"source_identifier"`
	StartDate        string `mapstructure:"start_date"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		// Without an explicit file, look in the usual places and fall back to defaults.
		v.SetConfigName("comic-cacher")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.comic-cacher")
		v.AddConfigPath("/etc/comic-cacher/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("cache.root", "./comics")
	v.SetDefault("cache.ttl", "30m")
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("cache.resolve_timeout", "2m")
	v.SetDefault("cache.timezone", "UTC")
	v.SetDefault("lookahead.enabled", true)
	v.SetDefault("lookahead.count", 3)
	v.SetDefault("lookahead.workers", 2)
	v.SetDefault("lookahead.queue_depth", 64)
	v.SetDefault("lookahead.stale_after", "5m")
	v.SetDefault("retention.days", 0)
	v.SetDefault("status.backend", "json")
	v.SetDefault("status.path", "./comics/retrieval-status.json")
	v.SetDefault("status.table", "comic_retrievals")
	v.SetDefault("status.max_errors_per_series", 5)
	v.SetDefault("status.retention_days", 7)
	v.SetDefault("dedup.enabled", true)
	v.SetDefault("dedup.algorithm", "difference")
	v.SetDefault("dedup.max_distance", 0)
	v.SetDefault("dedup.compare_count", 1)
	v.SetDefault("validation.max_bytes", 10<<20)
	v.SetDefault("validation.min_width", 100)
	v.SetDefault("validation.min_height", 50)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "comic-cacher/0.1")
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("http.requests_per_second", 1.0)
	v.SetDefault("http.burst", 2)
	v.SetDefault("http.max_body_bytes", 20<<20)
	v.SetDefault("pipeline.concurrency", 4)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Cache.Root) == "" {
		return fmt.Errorf("cache.root must be set")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be > 0")
	}
	if _, err := time.LoadLocation(c.Cache.Timezone); err != nil {
		return fmt.Errorf("cache.timezone: %w", err)
	}
	if c.Lookahead.Enabled {
		if c.Lookahead.Count <= 0 {
			return fmt.Errorf("lookahead.count must be > 0 when lookahead is enabled")
		}
		if c.Lookahead.Workers <= 0 {
			return fmt.Errorf("lookahead.workers must be > 0 when lookahead is enabled")
		}
		if c.Lookahead.QueueDepth <= 0 {
			return fmt.Errorf("lookahead.queue_depth must be > 0 when lookahead is enabled")
		}
	}
	if c.Retention.Days < 0 {
		return fmt.Errorf("retention.days must be >= 0")
	}
	switch c.Status.Backend {
	case "json":
		if c.Status.Path == "" {
			return fmt.Errorf("status.path must be set for the json backend")
		}
	case "postgres":
		if c.Status.DSN == "" {
			return fmt.Errorf("status.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("status.backend must be json or postgres, got %q", c.Status.Backend)
	}
	if c.Status.MaxErrorsPerSeries <= 0 {
		return fmt.Errorf("status.max_errors_per_series must be > 0")
	}
	if c.Dedup.MaxDistance < 0 || c.Dedup.CompareCount < 0 {
		return fmt.Errorf("dedup.max_distance and dedup.compare_count must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	seen := make(map[int]struct{}, len(c.Series))
	for _, s := range c.Series {
		if s.ID <= 0 {
			return fmt.Errorf("series %q: id must be > 0", s.Name)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("series id %d is configured twice", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Source == "" || s.SourceIdentifier == "" {
			return fmt.Errorf("series %d: source and source_identifier are required", s.ID)
		}
		if s.StartDate != "" {
			if _, err := comic.ParseDate(s.StartDate); err != nil {
				return fmt.Errorf("series %d: %w", s.ID, err)
			}
		}
	}
	return nil
}

// Location returns the configured timezone, UTC when unset or unknown.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Cache.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FetchTimeout converts http.timeout_seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Catalog converts the configured series into domain values. Validate must
// have succeeded first.
func (c Config) Catalog() []comic.Series {
	out := make([]comic.Series, 0, len(c.Series))
	for _, s := range c.Series {
		series := comic.Series{
			ID:               s.ID,
			Name:             s.Name,
			Source:           s.Source,
			SourceIdentifier: s.SourceIdentifier,
		}
		if s.StartDate != "" {
			if d, err := comic.ParseDate(s.StartDate); err == nil {
				series.StartDate = d
			}
		}
		out = append(out, series)
	}
	return out
}

// FindSeries returns the configured series with id.
func (c Config) FindSeries(id int) (comic.Series, bool) {
	for _, s := range c.Catalog() {
		if s.ID == id {
			return s, true
		}
	}
	return comic.Series{}, false
}
