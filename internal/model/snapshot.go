package model

import "time"

// SnapshotType names a one-time settlement pass. Each type has at most
// one Snapshot record; its existence is the already-executed guard.
type SnapshotType string

// Snapshot types.
const (
	SnapshotDayZero        SnapshotType = "day0"
	SnapshotDaySeven       SnapshotType = "day7"
	SnapshotLotteryTask1   SnapshotType = "lottery_task1"
	SnapshotLotteryTask3   SnapshotType = "lottery_task3"
	SnapshotBiggestHolder  SnapshotType = "biggest_holder_award"
	SnapshotReferralPayout SnapshotType = "referral_payout"
)

// Snapshot is the persisted marker-plus-result of a settlement pass.
// Payload holds the JSON-encoded result for the pass type.
type Snapshot struct {
	Type      SnapshotType `json:"type" db:"type"`
	Payload   []byte       `json:"payload" db:"payload"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// DayZeroResult is the payload of the day0 snapshot. TakenAt anchors
// the day index for every later pass.
type DayZeroResult struct {
	Processed   int       `json:"processed"`
	Qualified   int       `json:"qualified"`
	RanksIssued int       `json:"ranks_issued"`
	TakenAt     time.Time `json:"taken_at"`
}

// DaySevenResult is the payload of the day7 snapshot.
type DaySevenResult struct {
	Processed   int       `json:"processed"`
	Requalified int       `json:"requalified"`
	Dropped     int       `json:"dropped"`
	TakenAt     time.Time `json:"taken_at"`
}

// LotteryResult is the payload of a lottery_task1/lottery_task3 snapshot.
type LotteryResult struct {
	DrawID   string    `json:"draw_id"`
	Task     int       `json:"task"`
	WinnerID int64     `json:"winner_id"`
	Entry    string    `json:"entry"`
	PoolSize int       `json:"pool_size"`
	DrawnAt  time.Time `json:"drawn_at"`
}

// BiggestHolderResult is the payload of the biggest_holder_award snapshot.
type BiggestHolderResult struct {
	WinnerID       int64     `json:"winner_id"`
	AverageBalance float64   `json:"average_balance"`
	DaysObserved   int       `json:"days_observed"`
	Reward         int64     `json:"reward"`
	AwardedAt      time.Time `json:"awarded_at"`
}

// ReferralPayoutResult is the payload of the referral_payout snapshot.
type ReferralPayoutResult struct {
	MembersPaid int       `json:"members_paid"`
	TotalPaid   int64     `json:"total_paid"`
	PaidAt      time.Time `json:"paid_at"`
}

// DailySnapshot records one day of the biggest-holder contest: the
// balance of every day0-qualified member plus which member held the
// day's maximum.
type DailySnapshot struct {
	Day         int               `json:"day" db:"day"`
	Balances    map[int64]float64 `json:"balances" db:"balances"`
	MaxMemberID int64             `json:"max_member_id" db:"max_member_id"`
	MaxBalance  float64           `json:"max_balance" db:"max_balance"`
	TakenAt     time.Time         `json:"taken_at" db:"taken_at"`
}

// Capacity counter names. Each is a counter-with-ceiling slot allocator
// backing one capacity-gated grant.
const (
	CounterTop100Ranks   = "top100_ranks"
	CounterTask2Verified = "task2_verified"
	CounterReferralPool  = "referral_pool"
)
