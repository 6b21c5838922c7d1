package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestApplyPartialUpdate(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	m := Member{
		TelegramID:    1,
		Username:      "alice",
		WalletAddress: "wallet",
		Task1Reward:   10,
		TotalRewards:  10,
	}

	// An unrelated update leaves existing fields alone.
	name := "alicia"
	m.Apply(MemberUpdate{Username: &name}, now)
	assert.Equal(t, "alicia", m.Username)
	assert.Equal(t, "wallet", m.WalletAddress)
	assert.Equal(t, int64(10), m.TotalRewards)
	assert.Equal(t, now, m.UpdatedAt)

	// Nested updates merge field by field.
	verified := true
	m.Apply(MemberUpdate{
		Purchase:          &PurchaseUpdate{Verified: &verified},
		TotalRewardsDelta: 20,
	}, now)
	assert.True(t, m.Task2Verified)
	assert.False(t, m.Task2Submitted)
	assert.Equal(t, int64(30), m.TotalRewards)
}

func TestApplyDeltasAccumulate(t *testing.T) {
	now := time.Now()
	var m Member

	u := MemberUpdate{
		Holder:    &HolderUpdate{RewardDelta: 50},
		Referrals: &ReferralUpdate{CountDelta: 1, EarnedDelta: 5},
	}
	m.Apply(u, now)
	m.Apply(u, now)

	assert.Equal(t, int64(100), m.Task3Reward)
	assert.Equal(t, 2, m.ReferralCount)
	assert.Equal(t, int64(10), m.ReferralEarned)
}

func TestRewardSum(t *testing.T) {
	m := Member{
		Task1Reward:    10,
		Task2Reward:    20,
		Task3Reward:    50,
		ReferralEarned: 15,
	}
	assert.Equal(t, int64(80), m.RewardSum(), "unpaid referral credit is excluded")

	m.ReferralRewardPaid = true
	assert.Equal(t, int64(95), m.RewardSum())
}

func TestMatches(t *testing.T) {
	qualified := Member{
		WalletAddress:     "wallet",
		Task3SnapshotDay0: true,
		ReferralEarned:    5,
	}
	yes, no := true, false

	assert.True(t, MemberFilter{}.Matches(&qualified))
	assert.True(t, MemberFilter{HasWallet: &yes, SnapshotDay0: &yes}.Matches(&qualified))
	assert.False(t, MemberFilter{Disqualified: &yes}.Matches(&qualified))
	assert.True(t, MemberFilter{ReferralUnpaid: &yes}.Matches(&qualified))

	qualified.ReferralRewardPaid = true
	assert.False(t, MemberFilter{ReferralUnpaid: &yes}.Matches(&qualified))
	assert.True(t, MemberFilter{ReferralUnpaid: &no}.Matches(&qualified))
}

// TestApplyAbsoluteFieldsIdempotentProperty checks that applying an
// update carrying no deltas twice gives the same member as applying it
// once.
func TestApplyAbsoluteFieldsIdempotentProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		now := time.Now()
		wallet := rapid.StringMatching(`[1-9A-HJ-NP-Za-km-z]{32}`).Draw(rt, "wallet")
		completed := rapid.Bool().Draw(rt, "completed")
		reward := rapid.Int64Range(0, 1000).Draw(rt, "reward")

		u := MemberUpdate{
			WalletAddress: &wallet,
			TaskOne: &TaskOneUpdate{
				Completed: &completed,
				Reward:    &reward,
			},
		}

		var once, twice Member
		once.Apply(u, now)
		twice.Apply(u, now)
		twice.Apply(u, now)

		if once != twice {
			rt.Fatalf("absolute update not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
		}
	})
}
