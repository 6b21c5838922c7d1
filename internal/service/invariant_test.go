package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"ggrd-rewards-bot/internal/model"
)

// TestTotalRewardsInvariant drives a random operation sequence through
// the task engine, the referral ledger and the settlement passes, then
// checks that every member's denormalized total still equals the sum of
// the per-task rewards.
func TestTotalRewardsInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		members := newMemStore()
		snapshots := newSnapStore()
		slots := newMemSlots()
		chain := &stubOracle{balances: make(map[string]float64)}

		tasks := NewTaskService(members, slots, TaskConfig{
			Task1Reward:   10,
			Task2Reward:   20,
			Task2MaxUsers: 3,
		})
		settle := NewSnapshotService(members, snapshots, slots, chain, SettlementConfig{
			HolderThreshold:     2500,
			Top100Reward:        50,
			Top100Limit:         2,
			BiggestHolderReward: 20000,
			ContestDays:         2,
			OracleConcurrency:   2,
		})
		referrals := NewReferralService(members, snapshots, slots, ReferralConfig{
			Reward:    5,
			PoolCap:   15,
			PayoutDay: 1,
		})

		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		tasks.now = clock
		settle.now = clock
		referrals.now = clock

		ids := []int64{1, 2, 3, 4}
		memberID := rapid.SampledFrom(ids)

		steps := rapid.IntRange(5, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			id := memberID.Draw(rt, "member")
			op := rapid.IntRange(0, 9).Draw(rt, "op")
			switch op {
			case 0:
				_, _, err := tasks.EnsureMember(ctx, id, "", "", "")
				if err != nil {
					rt.Fatal(err)
				}
			case 1:
				if _, _, err := tasks.EnsureMember(ctx, id, "", "", ""); err != nil {
					rt.Fatal(err)
				}
				in := rapid.Bool().Draw(rt, "in")
				if err := tasks.UpdateMembership(ctx, id, in, in); err != nil {
					rt.Fatal(err)
				}
			case 2:
				if _, _, err := tasks.EnsureMember(ctx, id, "", "", ""); err != nil {
					rt.Fatal(err)
				}
				wallet := rapid.StringMatching(`w[1-9]`).Draw(rt, "wallet")
				status, err := tasks.RegisterWallet(ctx, id, wallet)
				if err != nil {
					rt.Fatal(err)
				}
				chain.balances[wallet] = rapid.Float64Range(0, 5000).Draw(rt, "balance")
				if status == WalletSaved {
					if _, err := referrals.CreditWalletSet(ctx, id); err != nil {
						rt.Fatal(err)
					}
				}
			case 3:
				if _, _, err := tasks.EnsureMember(ctx, id, "", "", ""); err != nil {
					rt.Fatal(err)
				}
				if _, err := tasks.CompleteTaskOne(ctx, id); err != nil {
					rt.Fatal(err)
				}
			case 4:
				if _, _, err := tasks.EnsureMember(ctx, id, "", "", ""); err != nil {
					rt.Fatal(err)
				}
				if _, err := tasks.SubmitPurchase(ctx, id, "tx"); err != nil {
					rt.Fatal(err)
				}
			case 5:
				if _, _, err := tasks.EnsureMember(ctx, id, "", "", ""); err != nil {
					rt.Fatal(err)
				}
				approve := rapid.Bool().Draw(rt, "approve")
				if _, err := tasks.VerifyPurchase(ctx, id, approve); err != nil {
					rt.Fatal(err)
				}
			case 6:
				if _, _, err := tasks.EnsureMember(ctx, id, "", "", ""); err != nil {
					rt.Fatal(err)
				}
				if err := tasks.Disqualify(ctx, id, "abuse"); err != nil {
					rt.Fatal(err)
				}
			case 7:
				ref := memberID.Draw(rt, "referrer")
				if _, _, err := tasks.EnsureMember(ctx, id, "", "", ""); err != nil {
					rt.Fatal(err)
				}
				if _, _, err := tasks.EnsureMember(ctx, ref, "", "", ""); err != nil {
					rt.Fatal(err)
				}
				if _, err := referrals.Attribute(ctx, id, ref); err != nil {
					rt.Fatal(err)
				}
			case 8:
				if _, _, err := settle.SnapshotDayZero(ctx); err != nil {
					rt.Fatal(err)
				}
				now = now.Add(26 * time.Hour)
			case 9:
				_, _, err := referrals.PayReferrals(ctx)
				if err != nil {
					// Only the sequencing gate may refuse the payout.
					if !errorsIsAny(err, ErrDayZeroMissing, ErrPayoutNotDue) {
						rt.Fatal(err)
					}
				}
			}
		}

		all, err := members.Find(ctx, model.MemberFilter{})
		if err != nil {
			rt.Fatal(err)
		}
		for _, m := range all {
			if m.TotalRewards != m.RewardSum() {
				rt.Fatalf("member %d: total_rewards %d != reward sum %d",
					m.TelegramID, m.TotalRewards, m.RewardSum())
			}
		}
	})
}

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
