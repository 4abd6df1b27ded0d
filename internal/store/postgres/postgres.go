// Package postgres is a cache.Store backed by a single PostgreSQL table.
// Put is an INSERT ... ON CONFLICT upsert, so each key changes in one
// statement and readers never see a partial row.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/cache"
)

// DB is the subset of *pgxpool.Pool the store needs. *pgx.Conn satisfies it
// too.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	selectEntry = `SELECT payload FROM vad_analysis_cache WHERE key = $1`
	upsertEntry = `
INSERT INTO vad_analysis_cache (key, payload, created_at, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (key) DO UPDATE
SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at, updated_at = now()`
)

var _ cache.Store = (*Store)(nil)

// Store implements cache.Store on PostgreSQL.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// New returns a Store over db. The caller owns db and must have run Migrate.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, pings and migrates. Close releases the pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{db: pool, pool: pool}, nil
}

// Get reads and verifies the entry for key.
func (s *Store) Get(ctx context.Context, key cache.Key) (cache.Entry, error) {
	var payload []byte
	if err := s.db.QueryRow(ctx, selectEntry, string(key)).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cache.Entry{}, cache.ErrNotFound
		}
		return cache.Entry{}, fmt.Errorf("postgres store: get %s: %w", key.Short(), err)
	}
	return cache.DecodeEntry(key, payload)
}

// Put upserts the entry for e.Key.
func (s *Store) Put(ctx context.Context, e cache.Entry) error {
	payload, err := cache.EncodeEntry(e)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, upsertEntry, string(e.Key), payload, e.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("postgres store: put %s: %w", e.Key.Short(), err)
	}
	return nil
}

// Close releases the pool when the Store opened it.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
