package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: false
cache:
  root: /srv/comics
  ttl: 10m
  max_entries: 50
lookahead:
  enabled: true
  count: 5
  workers: 3
  queue_depth: 16
status:
  backend: postgres
  dsn: postgres://localhost/comics
  max_errors_per_series: 9
dedup:
  algorithm: difference
  max_distance: 4
  compare_count: 3
http:
  timeout_seconds: 45
  user_agent: real-agent
series:
  - id: 1
    name: Test Comic
    source: gocomics
    source_identifier: testcomic
    start_date: "2020-01-01"
  - id: 2
    name: Other
    source: comicskingdom
    source_identifier: other
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Cache.Root != "/srv/comics" || cfg.Cache.TTL != 10*time.Minute || cfg.Cache.MaxEntries != 50 {
		t.Fatalf("expected cache overrides to apply: %+v", cfg.Cache)
	}
	if cfg.Lookahead.Count != 5 || cfg.Lookahead.Workers != 3 {
		t.Fatalf("expected lookahead overrides to apply: %+v", cfg.Lookahead)
	}
	if cfg.Status.Backend != "postgres" || cfg.Status.MaxErrorsPerSeries != 9 {
		t.Fatalf("expected status overrides to apply: %+v", cfg.Status)
	}
	if cfg.Dedup.Algorithm != "difference" || cfg.Dedup.MaxDistance != 4 {
		t.Fatalf("expected dedup overrides to apply: %+v", cfg.Dedup)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}

	catalog := cfg.Catalog()
	if len(catalog) != 2 {
		t.Fatalf("expected 2 series, got %d", len(catalog))
	}
	if catalog[0].SourceIdentifier != "testcomic" || catalog[0].StartDate != time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC) {
		t.Fatalf("unexpected first series %+v", catalog[0])
	}
	if s, ok := cfg.FindSeries(2); !ok || s.Source != "comicskingdom" {
		t.Fatalf("expected to find series 2, got %+v %v", s, ok)
	}
	if _, ok := cfg.FindSeries(99); ok {
		t.Fatal("expected series 99 to be missing")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cache.TTL != 30*time.Minute || cfg.Cache.MaxEntries != 1024 {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if !cfg.Lookahead.Enabled || cfg.Lookahead.Count != 3 {
		t.Fatalf("unexpected lookahead defaults: %+v", cfg.Lookahead)
	}
	if cfg.Status.Backend != "json" || cfg.Status.MaxErrorsPerSeries != 5 || cfg.Status.RetentionDays != 7 {
		t.Fatalf("unexpected status defaults: %+v", cfg.Status)
	}
	if cfg.Dedup.Algorithm != "difference" || cfg.Dedup.CompareCount != 1 || cfg.Dedup.MaxDistance != 0 {
		t.Fatalf("unexpected dedup defaults: %+v", cfg.Dedup)
	}
	if cfg.Cache.ResolveTimeout != 2*time.Minute {
		t.Fatalf("expected 2m resolve timeout, got %v", cfg.Cache.ResolveTimeout)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC default location, got %v", cfg.Location())
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("COMICS_CACHE_ROOT", "/tmp/env-comics")
	t.Setenv("COMICS_LOOKAHEAD_COUNT", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cache.Root != "/tmp/env-comics" {
		t.Fatalf("expected env cache root, got %q", cfg.Cache.Root)
	}
	if cfg.Lookahead.Count != 7 {
		t.Fatalf("expected env lookahead count, got %d", cfg.Lookahead.Count)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Cache:     CacheConfig{Root: "/tmp/comics", TTL: time.Minute, MaxEntries: 10},
		Lookahead: LookaheadConfig{Enabled: true, Count: 3, Workers: 1, QueueDepth: 4},
		Status:    StatusConfig{Backend: "json", Path: "/tmp/status.json", MaxErrorsPerSeries: 5},
		HTTP:      HTTPConfig{TimeoutSeconds: 10},
		Pipeline:  PipelineConfig{Concurrency: 2},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "missing root", mutate: func(c *Config) { c.Cache.Root = " " }, want: "cache.root"},
		{name: "invalid ttl", mutate: func(c *Config) { c.Cache.TTL = 0 }, want: "cache.ttl"},
		{name: "unknown timezone", mutate: func(c *Config) { c.Cache.Timezone = "Mars/Olympus" }, want: "cache.timezone"},
		{name: "invalid lookahead count", mutate: func(c *Config) { c.Lookahead.Count = 0 }, want: "lookahead.count"},
		{name: "invalid workers", mutate: func(c *Config) { c.Lookahead.Workers = 0 }, want: "lookahead.workers"},
		{name: "negative retention", mutate: func(c *Config) { c.Retention.Days = -1 }, want: "retention.days"},
		{name: "unknown backend", mutate: func(c *Config) { c.Status.Backend = "mongo" }, want: "status.backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Status.Backend = "postgres" }, want: "status.dsn"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Pipeline.Concurrency = 0 }, want: "pipeline.concurrency"},
		{
			name: "duplicate series",
			mutate: func(c *Config) {
				s := SeriesConfig{ID: 1, Name: "A", Source: "gocomics", SourceIdentifier: "a"}
				c.Series = []SeriesConfig{s, s}
			},
			want: "configured twice",
		},
		{
			name: "bad start date",
			mutate: func(c *Config) {
				c.Series = []SeriesConfig{{ID: 1, Source: "gocomics", SourceIdentifier: "a", StartDate: "01/01/2020"}}
			},
			want: "parse date",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Series = nil
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
