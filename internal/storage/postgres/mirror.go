// Package postgres mirrors catalog records into a Postgres JSONB table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/reposync/internal/catalog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "plugins"

// MirrorConfig controls the Postgres connection pool used for the mirror.
type MirrorConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Mirror upserts every catalog record as a row keyed by repository id.
type Mirror struct {
	pool  pool
	table string
}

// NewMirror connects to Postgres using cfg.
func NewMirror(ctx context.Context, cfg MirrorConfig) (*Mirror, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return &Mirror{pool: p, table: table}, nil
}

// NewMirrorWithPool constructs a mirror from an existing pool (primarily for testing).
func NewMirrorWithPool(p pool, table string) (*Mirror, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Mirror{pool: p, table: name}, nil
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
func (m *Mirror) Close() {
	if m == nil || m.pool == nil {
		return
	}
	m.pool.Close()
}

// EnsureSchema creates the mirror table when it does not exist.
func (m *Mirror) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id bigint PRIMARY KEY,
	full_name text NOT NULL,
	record jsonb NOT NULL,
	synced_at timestamptz NOT NULL
)`, m.table)
	if _, err := m.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create mirror table: %w", err)
	}
	return nil
}

// Upsert writes entries in a single transaction.
func (m *Mirror) Upsert(ctx context.Context, entries []catalog.Entry, syncedAt time.Time) (err error) {
	if m == nil || m.pool == nil {
		return fmt.Errorf("mirror is not configured")
	}
	if len(entries) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, full_name, record, synced_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET full_name = EXCLUDED.full_name,
	record = EXCLUDED.record,
	synced_at = EXCLUDED.synced_at`, m.table)

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mirror tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	for _, entry := range entries {
		doc, marshalErr := entry.Record.MarshalJSON()
		if marshalErr != nil {
			return fmt.Errorf("marshal record %s: %w", entry.Key, marshalErr)
		}
		if _, err = tx.Exec(ctx, query, int64(entry.Key), entry.Record.FullName, doc, syncedAt); err != nil {
			return fmt.Errorf("upsert record %s: %w", entry.Key, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mirror tx: %w", err)
	}
	return nil
}
