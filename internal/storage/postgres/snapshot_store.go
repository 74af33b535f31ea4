// Package postgres provides a Postgres-backed snapshot cache.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fedineko/crabo/internal/snapshot"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Schema returns the DDL for the snapshot table.
func Schema(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	cache_key  TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_expires_at_idx ON %[1]s (expires_at);`, table)
}

// SnapshotStoreConfig controls the Postgres connection pool used for snapshot rows.
type SnapshotStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// SnapshotStore caches snapshots in Postgres. Rows past expires_at are
// treated as absent.
type SnapshotStore struct {
	pool  pool
	table string
	now   func() time.Time
}

// NewSnapshotStore creates a Postgres-backed SnapshotStore using the provided config.
func NewSnapshotStore(ctx context.Context, cfg SnapshotStoreConfig) (*SnapshotStore, error) {
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
	if _, err := p.Exec(ctx, Schema(table)); err != nil {
		p.Close()
		return nil, fmt.Errorf("ensure snapshot table: %w", err)
	}
	return &SnapshotStore{pool: p, table: table, now: time.Now}, nil
}

// NewSnapshotStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSnapshotStoreWithPool(p pool, table string, now func() time.Time) (*SnapshotStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &SnapshotStore{pool: p, table: table, now: now}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "snapshots"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Get returns the live snapshot stored under key.
func (s *SnapshotStore) Get(ctx context.Context, key string) (snapshot.Snapshot, bool, error) {
	if s == nil || s.pool == nil {
		return snapshot.Snapshot{}, false, fmt.Errorf("snapshot store is not configured")
	}
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE cache_key = $1 AND expires_at > $2`, s.table)
	var payload []byte
	if err := s.pool.QueryRow(ctx, query, key, s.now()).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snapshot.Snapshot{}, false, nil
		}
		return snapshot.Snapshot{}, false, fmt.Errorf("select snapshot: %w", err)
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return snapshot.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Set upserts snap under key for ttl.
func (s *SnapshotStore) Set(ctx context.Context, key string, snap snapshot.Snapshot, ttl time.Duration) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("snapshot store is not configured")
	}
	if key == "" {
		return fmt.Errorf("cache key is required")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	now := s.now()
	query := fmt.Sprintf(`
INSERT INTO %s (
	cache_key,
	payload,
	fetched_at,
	expires_at
) VALUES (
	$1,$2,$3,$4
)
ON CONFLICT (cache_key) DO UPDATE
SET payload = EXCLUDED.payload,
	fetched_at = EXCLUDED.fetched_at,
	expires_at = EXCLUDED.expires_at`, s.table)

	if _, err := s.pool.Exec(ctx, query, key, payload, snap.FetchedAt, now.Add(ttl)); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}
