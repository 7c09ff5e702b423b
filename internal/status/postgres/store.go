// Package postgres persists retrieval records in a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/comic-cacher/internal/comic"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for retrieval rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store implements status.Store on Postgres.
type Store struct {
	pool  queryExecCloser
	table string
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("status.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool queryExecCloser, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "retrievals"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the table and its lookup index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	attempt_id       TEXT PRIMARY KEY,
	id               TEXT NOT NULL,
	series_name      TEXT NOT NULL,
	strip_date       DATE NOT NULL,
	source           TEXT NOT NULL,
	status           TEXT NOT NULL,
	error_message    TEXT NOT NULL DEFAULT '',
	duration_ms      BIGINT NOT NULL DEFAULT 0,
	image_size_bytes BIGINT NOT NULL DEFAULT 0,
	recorded_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_recorded_at_idx ON %[1]s (recorded_at)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure retrieval schema: %w", err)
	}
	return nil
}

// Load returns every row ordered by recorded_at.
func (s *Store) Load(ctx context.Context) ([]comic.RetrievalRecord, error) {
	query := fmt.Sprintf(`
SELECT id, attempt_id, series_name, strip_date, source, status, error_message,
	duration_ms, image_size_bytes, recorded_at
FROM %s
ORDER BY recorded_at, attempt_id`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query retrievals: %w", err)
	}
	defer rows.Close()

	out := make([]comic.RetrievalRecord, 0)
	for rows.Next() {
		var (
			rec    comic.RetrievalRecord
			status string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.AttemptID,
			&rec.SeriesName,
			&rec.Date,
			&rec.Source,
			&status,
			&rec.ErrorMessage,
			&rec.DurationMs,
			&rec.ImageSizeBytes,
			&rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan retrieval: %w", err)
		}
		rec.Status = comic.RetrievalStatus(status)
		rec.Date = comic.Day(rec.Date)
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retrievals: %w", err)
	}
	return out, nil
}

// Append inserts a retrieval row.
func (s *Store) Append(ctx context.Context, record comic.RetrievalRecord) error {
	if record.ID == "" || record.AttemptID == "" {
		return fmt.Errorf("record id and attempt id are required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	attempt_id,
	id,
	series_name,
	strip_date,
	source,
	status,
	error_message,
	duration_ms,
	image_size_bytes,
	recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		record.AttemptID,
		record.ID,
		record.SeriesName,
		record.Date,
		record.Source,
		string(record.Status),
		record.ErrorMessage,
		record.DurationMs,
		record.ImageSizeBytes,
		record.Timestamp,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert retrieval: %w", err)
	}
	return nil
}

// Purge deletes rows recorded strictly before cutoff.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE recorded_at < $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge retrievals: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
