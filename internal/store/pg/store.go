// Package pg is the PostgreSQL store adapter, built directly on
// pgxpool. Multi-write operations (stock adjustments, order
// cancellation) run in explicit transactions.
package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/storefront/internal/domain/repository"
)

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string, maxConns int, connMaxLifetime time.Duration) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	if connMaxLifetime > 0 {
		cfg.MaxConnLifetime = connMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Admins() repository.Admins       { return &adminRepo{pool: s.pool} }
func (s *Store) Products() repository.Products   { return &productRepo{pool: s.pool} }
func (s *Store) Orders() repository.Orders       { return &orderRepo{pool: s.pool} }
func (s *Store) Discounts() repository.Discounts { return &discountRepo{pool: s.pool} }
func (s *Store) Waitlist() repository.Waitlist   { return &waitlistRepo{pool: s.pool} }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *Store) Close()                         { s.pool.Close() }

// Pool exposes the underlying pool for metrics collectors.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
