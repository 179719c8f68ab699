// Package pgstore is the PostgreSQL backend. Table and column names match
// the Supabase layout the pricing dashboard reads from.
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raphaelgruber/pricewatch/internal/store"
)

var (
	_ store.Backend    = (*Store)(nil)
	_ store.Transactor = (*Store)(nil)
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements store.Backend on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	q    querier
}

// Open creates a pool and verifies connectivity. maxConns <= 0 keeps the
// pgx default.
func Open(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.ParseConfig: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &Store{pool: pool, q: pool}, nil
}

// Pool exposes the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

// InTx runs fn in a transaction. It commits when fn returns nil and rolls
// back otherwise. Nested calls become savepoints.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	return pgx.BeginFunc(ctx, s.q, func(tx pgx.Tx) error {
		return fn(&Store{pool: s.pool, q: tx})
	})
}

// InitSchema creates tables, indexes and the insert trigger used by Listener.
// It runs as one transaction under an advisory lock, so concurrent callers
// apply it one after another and inserts never see a missing trigger.
func (s *Store) InitSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
			return fmt.Errorf("schema lock: %w", err)
		}
		for i, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("init schema statement %d: %w", i, err)
			}
		}
		return nil
	})
}

// WipeData truncates every table while keeping the schema. Tests only.
func (s *Store) WipeData(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		TRUNCATE plan_features, pricing_plans, scrape_sessions, competitors
	`)
	if err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}
