package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the Postgres backend needs. pgxmock
// satisfies it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres persists cache records in a single table so entries survive
// process restarts.
type Postgres struct {
	db    DB
	table string
}

// NewPostgres connects a pool to dsn and returns a backend over the default
// recall_cache table.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting cache database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging cache database: %w", err)
	}
	return NewPostgresWithDB(pool), pool, nil
}

// NewPostgresWithDB wraps an existing connection, used by tests with pgxmock.
func NewPostgresWithDB(db DB) *Postgres {
	return &Postgres{db: db, table: "recall_cache"}
}

// EnsureSchema creates the cache table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		cache_key  TEXT PRIMARY KEY,
		payload    JSONB NOT NULL,
		checked_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`, p.table)
	if _, err := p.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("creating cache table: %w", err)
	}
	return nil
}

func (p *Postgres) Upsert(ctx context.Context, rec Record) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (cache_key, payload, checked_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload    = EXCLUDED.payload,
			checked_at = EXCLUDED.checked_at,
			expires_at = EXCLUDED.expires_at`, p.table)
	if _, err := p.db.Exec(ctx, stmt, rec.Key, rec.Payload, rec.CheckedAt, rec.ExpiresAt); err != nil {
		return fmt.Errorf("upserting cache record %q: %w", rec.Key, err)
	}
	return nil
}

func (p *Postgres) Find(ctx context.Context, key string) (Record, bool, error) {
	stmt := fmt.Sprintf(`SELECT payload, checked_at, expires_at FROM %s WHERE cache_key = $1`, p.table)
	rec := Record{Key: key}
	err := p.db.QueryRow(ctx, stmt, key).Scan(&rec.Payload, &rec.CheckedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("reading cache record %q: %w", key, err)
	}
	return rec, true, nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE cache_key = $1`, p.table)
	if _, err := p.db.Exec(ctx, stmt, key); err != nil {
		return fmt.Errorf("deleting cache record %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) DeleteAll(ctx context.Context) error {
	stmt := fmt.Sprintf(`DELETE FROM %s`, p.table)
	if _, err := p.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("clearing cache table: %w", err)
	}
	return nil
}
