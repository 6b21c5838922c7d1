// Package model defines the data models for the GGRD community rewards bot.
package model

import "time"

// ConversationState tracks what kind of free-text input the bot expects
// from a member next. It is persisted with the member record so that a
// process restart does not lose pending wallet or tx-hash prompts.
type ConversationState string

// Conversation states.
const (
	ConversationIdle           ConversationState = "idle"
	ConversationAwaitingWallet ConversationState = "awaiting_wallet"
	ConversationAwaitingTxHash ConversationState = "awaiting_tx_hash"
)

// Member represents one participant, keyed by Telegram ID.
// Reward fields are denormalized into TotalRewards: at all times
// TotalRewards equals Task1Reward + Task2Reward + Task3Reward plus
// ReferralEarned once ReferralRewardPaid is set.
type Member struct {
	TelegramID    int64  `json:"telegram_id" db:"telegram_id"`
	Username      string `json:"telegram_username,omitempty" db:"username"`
	FirstName     string `json:"first_name,omitempty" db:"first_name"`
	LastName      string `json:"last_name,omitempty" db:"last_name"`
	WalletAddress string `json:"wallet_address,omitempty" db:"wallet_address"`
	ReferredBy    *int64 `json:"referred_by,omitempty" db:"referred_by"`

	Conversation ConversationState `json:"conversation" db:"conversation"`

	// Raw verification signals from the membership checks.
	InChannel bool `json:"in_channel" db:"in_channel"`
	InGroup   bool `json:"in_group" db:"in_group"`

	// Task 1: social verification + wallet.
	Task1Completed    bool   `json:"task1_completed" db:"task1_completed"`
	Task1Reward       int64  `json:"task1_reward" db:"task1_reward"`
	Task1LotteryEntry string `json:"task1_lottery_entry,omitempty" db:"task1_lottery_entry"`

	// Task 2: purchase proof.
	Task2Submitted bool   `json:"task2_submitted" db:"task2_submitted"`
	Task2TxHash    string `json:"task2_tx_hash,omitempty" db:"task2_tx_hash"`
	Task2Verified  bool   `json:"task2_verified" db:"task2_verified"`
	Task2Reward    int64  `json:"task2_reward" db:"task2_reward"`

	// Task 3: holder tier.
	Task3Balance          float64 `json:"task3_balance" db:"task3_balance"`
	Task3SnapshotDay0     bool    `json:"task3_snapshot_day0" db:"task3_snapshot_day0"`
	Task3SnapshotDay7     bool    `json:"task3_snapshot_day7" db:"task3_snapshot_day7"`
	Task3QualifiedLottery bool    `json:"task3_qualified_lottery" db:"task3_qualified_lottery"`
	Task3Top100Rank       *int    `json:"task3_top100_rank,omitempty" db:"task3_top100_rank"`
	Task3Reward           int64   `json:"task3_reward" db:"task3_reward"`
	Task3LotteryEntry     string  `json:"task3_lottery_entry,omitempty" db:"task3_lottery_entry"`

	// Referral ledger.
	ReferralCount           int   `json:"referral_count" db:"referral_count"`
	ReferralCountWithWallet int   `json:"referral_count_with_wallet" db:"referral_count_with_wallet"`
	ReferralEarned          int64 `json:"referral_earned" db:"referral_earned"`
	ReferralRewardPaid      bool  `json:"referral_reward_paid" db:"referral_reward_paid"`

	TotalRewards int64 `json:"total_rewards" db:"total_rewards"`

	Disqualified       bool   `json:"disqualified" db:"disqualified"`
	DisqualifiedReason string `json:"disqualified_reason,omitempty" db:"disqualified_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RewardSum returns the sum of all granted rewards. Referral earnings
// count only once they have been paid out.
func (m *Member) RewardSum() int64 {
	sum := m.Task1Reward + m.Task2Reward + m.Task3Reward
	if m.ReferralRewardPaid {
		sum += m.ReferralEarned
	}
	return sum
}

// DisplayName returns the best available handle for messages and logs.
func (m *Member) DisplayName() string {
	if m.Username != "" {
		return "@" + m.Username
	}
	if m.FirstName != "" {
		return m.FirstName
	}
	return ""
}

// MembershipUpdate updates the raw channel/group verification signals.
type MembershipUpdate struct {
	InChannel *bool
	InGroup   *bool
}

// TaskOneUpdate updates the social-verification task fields.
type TaskOneUpdate struct {
	Completed    *bool
	Reward       *int64
	LotteryEntry *string
}

// PurchaseUpdate updates the purchase-proof task fields.
type PurchaseUpdate struct {
	Submitted *bool
	TxHash    *string
	Verified  *bool
	Reward    *int64
}

// HolderUpdate updates the holder-tier task fields. RewardDelta is
// additive so that the TOP100 bonus and the biggest-holder award can
// both land in the same field.
type HolderUpdate struct {
	Balance          *float64
	SnapshotDay0     *bool
	SnapshotDay7     *bool
	QualifiedLottery *bool
	Top100Rank       *int
	RewardDelta      int64
	LotteryEntry     *string
}

// ReferralUpdate updates the referral ledger fields. Counts and
// earnings are deltas; RewardPaid is an absolute flag.
type ReferralUpdate struct {
	CountDelta           int
	CountWithWalletDelta int
	EarnedDelta          int64
	RewardPaid           *bool
}

// MemberUpdate is a typed partial update of a member record. Only the
// fields that are set are written; nested updates merge field by field.
type MemberUpdate struct {
	Username           *string
	FirstName          *string
	LastName           *string
	WalletAddress      *string
	ReferredBy         *int64
	Conversation       *ConversationState
	Membership         *MembershipUpdate
	TaskOne            *TaskOneUpdate
	Purchase           *PurchaseUpdate
	Holder             *HolderUpdate
	Referrals          *ReferralUpdate
	TotalRewardsDelta  int64
	Disqualified       *bool
	DisqualifiedReason *string
}

// Apply merges the update into the member in place. This is the single
// merge implementation shared by the in-memory store used in tests; the
// Postgres store translates the same structure into an UPDATE statement.
func (m *Member) Apply(u MemberUpdate, now time.Time) {
	if u.Username != nil {
		m.Username = *u.Username
	}
	if u.FirstName != nil {
		m.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		m.LastName = *u.LastName
	}
	if u.WalletAddress != nil {
		m.WalletAddress = *u.WalletAddress
	}
	if u.ReferredBy != nil {
		m.ReferredBy = u.ReferredBy
	}
	if u.Conversation != nil {
		m.Conversation = *u.Conversation
	}
	if u.Membership != nil {
		if u.Membership.InChannel != nil {
			m.InChannel = *u.Membership.InChannel
		}
		if u.Membership.InGroup != nil {
			m.InGroup = *u.Membership.InGroup
		}
	}
	if u.TaskOne != nil {
		if u.TaskOne.Completed != nil {
			m.Task1Completed = *u.TaskOne.Completed
		}
		if u.TaskOne.Reward != nil {
			m.Task1Reward = *u.TaskOne.Reward
		}
		if u.TaskOne.LotteryEntry != nil {
			m.Task1LotteryEntry = *u.TaskOne.LotteryEntry
		}
	}
	if u.Purchase != nil {
		if u.Purchase.Submitted != nil {
			m.Task2Submitted = *u.Purchase.Submitted
		}
		if u.Purchase.TxHash != nil {
			m.Task2TxHash = *u.Purchase.TxHash
		}
		if u.Purchase.Verified != nil {
			m.Task2Verified = *u.Purchase.Verified
		}
		if u.Purchase.Reward != nil {
			m.Task2Reward = *u.Purchase.Reward
		}
	}
	if u.Holder != nil {
		if u.Holder.Balance != nil {
			m.Task3Balance = *u.Holder.Balance
		}
		if u.Holder.SnapshotDay0 != nil {
			m.Task3SnapshotDay0 = *u.Holder.SnapshotDay0
		}
		if u.Holder.SnapshotDay7 != nil {
			m.Task3SnapshotDay7 = *u.Holder.SnapshotDay7
		}
		if u.Holder.QualifiedLottery != nil {
			m.Task3QualifiedLottery = *u.Holder.QualifiedLottery
		}
		if u.Holder.Top100Rank != nil {
			m.Task3Top100Rank = u.Holder.Top100Rank
		}
		if u.Holder.LotteryEntry != nil {
			m.Task3LotteryEntry = *u.Holder.LotteryEntry
		}
		m.Task3Reward += u.Holder.RewardDelta
	}
	if u.Referrals != nil {
		m.ReferralCount += u.Referrals.CountDelta
		m.ReferralCountWithWallet += u.Referrals.CountWithWalletDelta
		m.ReferralEarned += u.Referrals.EarnedDelta
		if u.Referrals.RewardPaid != nil {
			m.ReferralRewardPaid = *u.Referrals.RewardPaid
		}
	}
	m.TotalRewards += u.TotalRewardsDelta
	if u.Disqualified != nil {
		m.Disqualified = *u.Disqualified
	}
	if u.DisqualifiedReason != nil {
		m.DisqualifiedReason = *u.DisqualifiedReason
	}
	m.UpdatedAt = now
}

// MemberFilter selects members for batch passes and counts. Nil fields
// are not applied. ReferralUnpaid selects members with positive earned
// referral credit that has not been folded into total rewards yet.
type MemberFilter struct {
	HasWallet        *bool
	Task1Completed   *bool
	Task2Verified    *bool
	SnapshotDay0     *bool
	QualifiedLottery *bool
	ReferralUnpaid   *bool
	Disqualified     *bool
}

// Matches reports whether the member passes every set filter field.
func (f MemberFilter) Matches(m *Member) bool {
	if f.HasWallet != nil && (m.WalletAddress != "") != *f.HasWallet {
		return false
	}
	if f.Task1Completed != nil && m.Task1Completed != *f.Task1Completed {
		return false
	}
	if f.Task2Verified != nil && m.Task2Verified != *f.Task2Verified {
		return false
	}
	if f.SnapshotDay0 != nil && m.Task3SnapshotDay0 != *f.SnapshotDay0 {
		return false
	}
	if f.QualifiedLottery != nil && m.Task3QualifiedLottery != *f.QualifiedLottery {
		return false
	}
	if f.ReferralUnpaid != nil && (m.ReferralEarned > 0 && !m.ReferralRewardPaid) != *f.ReferralUnpaid {
		return false
	}
	if f.Disqualified != nil && m.Disqualified != *f.Disqualified {
		return false
	}
	return true
}
