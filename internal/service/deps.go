// Package service implements the task engine, the snapshot-driven
// settlement passes and the referral ledger.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"ggrd-rewards-bot/internal/model"
)

// MemberStore is the member record persistence contract.
// Upserts use typed partial updates with merge semantics; Find returns
// members in first-contact order, which settlement passes rely on.
type MemberStore interface {
	GetByID(ctx context.Context, telegramID int64) (*model.Member, error)
	GetOrCreate(ctx context.Context, telegramID int64, username, firstName, lastName string) (*model.Member, bool, error)
	Update(ctx context.Context, telegramID int64, u model.MemberUpdate) error
	Put(ctx context.Context, m *model.Member) error
	Find(ctx context.Context, f model.MemberFilter) ([]*model.Member, error)
	Count(ctx context.Context, f model.MemberFilter) (int, error)
	SumReferralEarned(ctx context.Context) (int64, error)
}

// SnapshotStore persists the run-once pass markers and the daily
// contest snapshots. InsertOnce must fail atomically when the record
// already exists; two admins triggering the same pass see exactly one
// effective execution.
type SnapshotStore interface {
	Get(ctx context.Context, typ model.SnapshotType) (*model.Snapshot, error)
	InsertOnce(ctx context.Context, typ model.SnapshotType, payload any) error
	GetDaily(ctx context.Context, day int) (*model.DailySnapshot, error)
	ListDaily(ctx context.Context) ([]*model.DailySnapshot, error)
	CountDaily(ctx context.Context) (int, error)
	InsertDailyOnce(ctx context.Context, ds *model.DailySnapshot) error
}

// SlotReserver atomically reserves capacity against a named ceiling.
type SlotReserver interface {
	Reserve(ctx context.Context, name string, delta, limit int64) (int64, bool, error)
}

// Notifier delivers a best-effort message to a member. Failures are
// logged by implementations, never propagated.
type Notifier interface {
	Notify(memberID int64, text string)
}

// nopNotifier is the default Notifier until the transport is wired.
type nopNotifier struct{}

func (nopNotifier) Notify(int64, string) {}

// Sentinel errors shared across the services. Out-of-sequence and
// already-taken conditions are reported as errors so admin commands can
// name the missing prerequisite; member-facing preconditions are plain
// statuses instead.
var (
	ErrDayZeroMissing     = errors.New("day0 snapshot has not run")
	ErrDaySevenMissing    = errors.New("day7 snapshot has not run")
	ErrContestOver        = errors.New("holder contest window has ended")
	ErrDayAlreadyTaken    = errors.New("daily snapshot already taken for this day")
	ErrNotEnoughSnapshots = errors.New("not enough daily snapshots recorded")
	ErrEmptyLotteryPool   = errors.New("no eligible lottery entries")
	ErrUnknownLotteryTask = errors.New("unknown lottery task")
	ErrPayoutNotDue       = errors.New("referral payout day not reached")
)

// lotteryEntry builds an entry token for a task draw. Uniqueness is
// probabilistic: millisecond timestamp plus a random suffix.
func lotteryEntry(task int, now time.Time) string {
	return fmt.Sprintf("%d-%d-%d", task, now.UnixMilli(), rand.Intn(10000))
}

// settlementDay returns the 1-based day index relative to the day0
// snapshot: day 1 is the first 24 hours after day0 was taken.
// Returns ErrDayZeroMissing before day0 has run.
func settlementDay(ctx context.Context, snapshots SnapshotStore, now time.Time) (int, error) {
	anchor, err := dayZeroAnchor(ctx, snapshots)
	if err != nil {
		return 0, err
	}
	return int(now.Sub(anchor)/(24*time.Hour)) + 1, nil
}

func dayZeroAnchor(ctx context.Context, snapshots SnapshotStore) (time.Time, error) {
	snap, err := snapshots.Get(ctx, model.SnapshotDayZero)
	if err != nil {
		return time.Time{}, ErrDayZeroMissing
	}
	var result model.DayZeroResult
	if err := unmarshalPayload(snap.Payload, &result); err != nil {
		return time.Time{}, err
	}
	return result.TakenAt, nil
}

func unmarshalPayload(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode snapshot payload: %w", err)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }

func strPtr(s string) *string { return &s }

func statePtr(s model.ConversationState) *model.ConversationState { return &s }
