package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CounterRepository implements capacity-gated slot allocation as an
// atomic counter-with-ceiling. All capacity checks (TOP100 ranks, the
// Task-2 verified cap, the referral pool) go through Reserve so that
// check and increment happen in a single statement.
type CounterRepository struct {
	pool *pgxpool.Pool
}

// NewCounterRepository creates a new CounterRepository instance.
func NewCounterRepository(pool *pgxpool.Pool) *CounterRepository {
	return &CounterRepository{pool: pool}
}

// Seed ensures a counter row exists, starting at zero.
func (r *CounterRepository) Seed(ctx context.Context, name string) error {
	const query = `INSERT INTO counters (name, value) VALUES ($1, 0) ON CONFLICT (name) DO NOTHING`
	if _, err := r.pool.Exec(ctx, query, name); err != nil {
		return fmt.Errorf("failed to seed counter %s: %w", name, err)
	}
	return nil
}

// Reserve atomically adds delta to the named counter if its current
// value is still below limit, returning the new value. The last grant
// may overshoot the limit; callers that need a dense sequence use
// delta 1, where overshoot is impossible. Returns ok=false when the
// ceiling has been reached.
func (r *CounterRepository) Reserve(ctx context.Context, name string, delta, limit int64) (int64, bool, error) {
	const query = `
		UPDATE counters
		SET value = value + $2
		WHERE name = $1 AND value < $3
		RETURNING value`

	var value int64
	err := r.pool.QueryRow(ctx, query, name, delta, limit).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to reserve slot on counter %s: %w", name, err)
	}
	return value, true, nil
}

// Value returns the current value of the named counter.
func (r *CounterRepository) Value(ctx context.Context, name string) (int64, error) {
	const query = `SELECT value FROM counters WHERE name = $1`

	var value int64
	if err := r.pool.QueryRow(ctx, query, name).Scan(&value); err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", name, err)
	}
	return value, nil
}
