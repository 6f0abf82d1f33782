// Package postgres provides the Postgres-backed render log.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webthumb/internal/thumbnail"
)

const defaultTable = "render_log"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RenderStoreConfig controls the Postgres connection pool used for render rows.
type RenderStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// RenderStore writes one row per render attempt.
type RenderStore struct {
	pool  pool
	table string
}

// NewRenderStore connects a pool using cfg.
func NewRenderStore(ctx context.Context, cfg RenderStoreConfig) (*RenderStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RenderStore{pool: p, table: table}, nil
}

// NewRenderStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRenderStoreWithPool(p pool, table string) (*RenderStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RenderStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RenderStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *RenderStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the render log table when it does not exist yet.
func (s *RenderStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id               TEXT PRIMARY KEY,
	rendered_at      TIMESTAMPTZ NOT NULL,
	url              TEXT NOT NULL,
	format           TEXT NOT NULL,
	quality          INTEGER NOT NULL,
	requested_width  INTEGER,
	requested_height INTEGER,
	width            INTEGER,
	height           INTEGER,
	bytes            INTEGER NOT NULL,
	content_hash     TEXT,
	blob_uri         TEXT,
	outcome          TEXT NOT NULL,
	error_text       TEXT,
	duration_ms      BIGINT NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StoreRender inserts the event as one row.
func (s *RenderStore) StoreRender(ctx context.Context, event thumbnail.RenderEvent) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("render store is not configured")
	}
	if event.ID == "" {
		return fmt.Errorf("render id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	rendered_at,
	url,
	format,
	quality,
	requested_width,
	requested_height,
	width,
	height,
	bytes,
	content_hash,
	blob_uri,
	outcome,
	error_text,
	duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`, s.table)

	args := []any{
		event.ID,
		event.RenderedAt,
		event.URL,
		string(event.Format),
		event.Quality,
		nullableInt(event.RequestedWidth),
		nullableInt(event.RequestedHeight),
		nullableInt(event.Width),
		nullableInt(event.Height),
		event.Bytes,
		nullableString(event.ContentHash),
		nullableString(event.BlobURI),
		string(event.Outcome),
		nullableString(event.ErrorText),
		event.Duration.Milliseconds(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert render: %w", err)
	}
	return nil
}

func nullableInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
