package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ggrd-rewards-bot/internal/model"
)

// Snapshot-related errors.
var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotExists   = errors.New("snapshot already exists")
)

// SnapshotRepository persists the run-once markers of the settlement
// passes and the daily contest snapshots.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new SnapshotRepository instance.
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Get retrieves the snapshot record for the given pass type.
// Returns ErrSnapshotNotFound if the pass has not executed.
func (r *SnapshotRepository) Get(ctx context.Context, typ model.SnapshotType) (*model.Snapshot, error) {
	const query = `SELECT type, payload, created_at FROM snapshots WHERE type = $1`

	var s model.Snapshot
	err := r.pool.QueryRow(ctx, query, string(typ)).Scan(&s.Type, &s.Payload, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &s, nil
}

// InsertOnce records a pass result. At most one record per type can
// ever exist: a duplicate insert returns ErrSnapshotExists without
// touching the stored result. This is the idempotency primitive for
// every settlement pass.
func (r *SnapshotRepository) InsertOnce(ctx context.Context, typ model.SnapshotType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot payload: %w", err)
	}

	const query = `
		INSERT INTO snapshots (type, payload, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (type) DO NOTHING`

	result, err := r.pool.Exec(ctx, query, string(typ), data)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSnapshotExists
	}
	return nil
}

// GetDaily retrieves the daily snapshot for a day index.
func (r *SnapshotRepository) GetDaily(ctx context.Context, day int) (*model.DailySnapshot, error) {
	const query = `SELECT day, balances, max_member_id, max_balance, taken_at FROM daily_snapshots WHERE day = $1`

	var ds model.DailySnapshot
	var balances []byte
	err := r.pool.QueryRow(ctx, query, day).Scan(&ds.Day, &balances, &ds.MaxMemberID, &ds.MaxBalance, &ds.TakenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get daily snapshot: %w", err)
	}
	if err := json.Unmarshal(balances, &ds.Balances); err != nil {
		return nil, fmt.Errorf("failed to unmarshal balance vector: %w", err)
	}
	return &ds, nil
}

// ListDaily retrieves all daily snapshots ordered by day index.
func (r *SnapshotRepository) ListDaily(ctx context.Context) ([]*model.DailySnapshot, error) {
	const query = `SELECT day, balances, max_member_id, max_balance, taken_at FROM daily_snapshots ORDER BY day`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*model.DailySnapshot
	for rows.Next() {
		var ds model.DailySnapshot
		var balances []byte
		if err := rows.Scan(&ds.Day, &balances, &ds.MaxMemberID, &ds.MaxBalance, &ds.TakenAt); err != nil {
			return nil, fmt.Errorf("failed to scan daily snapshot: %w", err)
		}
		if err := json.Unmarshal(balances, &ds.Balances); err != nil {
			return nil, fmt.Errorf("failed to unmarshal balance vector: %w", err)
		}
		snapshots = append(snapshots, &ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily snapshots: %w", err)
	}
	return snapshots, nil
}

// CountDaily returns the number of recorded daily snapshots.
func (r *SnapshotRepository) CountDaily(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM daily_snapshots`

	var count int
	if err := r.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count daily snapshots: %w", err)
	}
	return count, nil
}

// InsertDailyOnce records one contest day. A duplicate day returns
// ErrSnapshotExists without touching the stored record.
func (r *SnapshotRepository) InsertDailyOnce(ctx context.Context, ds *model.DailySnapshot) error {
	balances, err := json.Marshal(ds.Balances)
	if err != nil {
		return fmt.Errorf("failed to marshal balance vector: %w", err)
	}

	const query = `
		INSERT INTO daily_snapshots (day, balances, max_member_id, max_balance, taken_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (day) DO NOTHING`

	result, err := r.pool.Exec(ctx, query, ds.Day, balances, ds.MaxMemberID, ds.MaxBalance, ds.TakenAt)
	if err != nil {
		return fmt.Errorf("failed to insert daily snapshot: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSnapshotExists
	}
	return nil
}
