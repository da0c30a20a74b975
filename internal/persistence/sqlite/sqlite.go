// Package sqlite persists reservations in a SQLite database through the
// pure Go modernc driver. The schema is managed by embedded goose migrations.
package sqlite

import (
	"context"
	"fmt"
)

// Storage bundles the connection pool with the reservation repository.
type Storage struct {
	*ReservationRepository
	pool *ConnectionPool
}

// Options tunes Open.
type Options struct {
	Pool  PoolConfig
	Retry RetryConfig
}

// DefaultOptions returns the pool and retry defaults.
func DefaultOptions() Options {
	return Options{Pool: DefaultPoolConfig(), Retry: DefaultRetryConfig()}
}

// Open connects to dsn and applies pending migrations.
func Open(ctx context.Context, dsn string, opts Options) (*Storage, error) {
	pool, err := OpenPool(ctx, dsn, opts.Pool)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Migrate(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Storage{
		ReservationRepository: NewReservationRepository(pool, opts.Retry),
		pool:                  pool,
	}, nil
}

// Pool exposes the underlying connection pool.
func (s *Storage) Pool() *ConnectionPool {
	return s.pool
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the database handle.
func (s *Storage) Close() error {
	if s == nil {
		return nil
	}
	return s.pool.Close()
}
