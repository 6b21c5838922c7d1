package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"ggrd-rewards-bot/internal/model"
	"ggrd-rewards-bot/internal/repository"
)

// ReferralConfig holds the referral credit amount, the global pool cap
// and the payout gate day.
type ReferralConfig struct {
	Reward    int64
	PoolCap   int64
	PayoutDay int
}

// ReferralService tracks referral attribution, pool-capped credit and
// the deferred payout pass.
type ReferralService struct {
	members   MemberStore
	snapshots SnapshotStore
	slots     SlotReserver
	notifier  Notifier
	cfg       ReferralConfig
	now       func() time.Time
}

// NewReferralService creates a new ReferralService instance.
func NewReferralService(members MemberStore, snapshots SnapshotStore, slots SlotReserver, cfg ReferralConfig) *ReferralService {
	return &ReferralService{
		members:   members,
		snapshots: snapshots,
		slots:     slots,
		notifier:  nopNotifier{},
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetNotifier wires the transport-side notifier after bot creation.
func (s *ReferralService) SetNotifier(n Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// Attribute records who referred a member. Attribution happens only at
// first contact: an existing referred_by is never overwritten, and
// self-referrals or unknown referrers are ignored. Returns whether the
// attribution was recorded.
func (s *ReferralService) Attribute(ctx context.Context, memberID, referrerID int64) (bool, error) {
	if memberID == referrerID {
		return false, nil
	}

	m, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return false, err
	}
	if m.ReferredBy != nil {
		return false, nil
	}

	if _, err := s.members.GetByID(ctx, referrerID); err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := s.members.Update(ctx, memberID, model.MemberUpdate{ReferredBy: &referrerID}); err != nil {
		return false, fmt.Errorf("failed to set referrer: %w", err)
	}
	err = s.members.Update(ctx, referrerID, model.MemberUpdate{
		Referrals: &model.ReferralUpdate{CountDelta: 1},
	})
	if err != nil {
		return false, fmt.Errorf("failed to count referral: %w", err)
	}

	return true, nil
}

// CreditWalletSet credits the referrer after a referred member sets
// their wallet for the first time. The credit is reserved against the
// global referral pool: a full credit is granted whenever the sum
// before crediting is still below the cap, so the final credit may
// overshoot the pool by at most one reward. Returns whether a credit
// was granted.
func (s *ReferralService) CreditWalletSet(ctx context.Context, memberID int64) (bool, error) {
	m, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return false, err
	}
	if m.ReferredBy == nil {
		return false, nil
	}

	referrer, err := s.members.GetByID(ctx, *m.ReferredBy)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return false, nil
		}
		return false, err
	}
	// The program is settled once the referrer has been paid out; late
	// wallet registrations earn nothing.
	if referrer.ReferralRewardPaid {
		return false, nil
	}

	_, ok, err := s.slots.Reserve(ctx, model.CounterReferralPool, s.cfg.Reward, s.cfg.PoolCap)
	if err != nil {
		return false, fmt.Errorf("failed to reserve referral pool credit: %w", err)
	}
	if !ok {
		log.Info().
			Int64("referrer_id", referrer.TelegramID).
			Int64("member_id", memberID).
			Msg("Referral pool exhausted, no credit granted")
		return false, nil
	}

	err = s.members.Update(ctx, referrer.TelegramID, model.MemberUpdate{
		Referrals: &model.ReferralUpdate{
			CountWithWalletDelta: 1,
			EarnedDelta:          s.cfg.Reward,
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to credit referrer: %w", err)
	}
	return true, nil
}

// PayReferrals folds earned referral credit into total rewards for
// every member with unpaid credit. Gated on the payout day relative to
// day0 and guarded by the referral_payout run-once record; the per
// member reward_paid flag makes a partial re-run safe. Returns the
// payout result and whether it was previously recorded.
func (s *ReferralService) PayReferrals(ctx context.Context) (*model.ReferralPayoutResult, bool, error) {
	if snap, err := s.snapshots.Get(ctx, model.SnapshotReferralPayout); err == nil {
		var result model.ReferralPayoutResult
		if err := unmarshalPayload(snap.Payload, &result); err != nil {
			return nil, false, err
		}
		return &result, true, nil
	}

	day, err := settlementDay(ctx, s.snapshots, s.now())
	if err != nil {
		return nil, false, err
	}
	if day < s.cfg.PayoutDay {
		return nil, false, fmt.Errorf("%w: day %d of %d", ErrPayoutNotDue, day, s.cfg.PayoutDay)
	}

	pool, err := s.members.Find(ctx, model.MemberFilter{
		ReferralUnpaid: boolPtr(true),
		Disqualified:   boolPtr(false),
	})
	if err != nil {
		return nil, false, err
	}

	result := &model.ReferralPayoutResult{PaidAt: s.now()}
	for _, m := range pool {
		if m.ReferralEarned <= 0 || m.ReferralRewardPaid {
			continue
		}
		err := s.members.Update(ctx, m.TelegramID, model.MemberUpdate{
			Referrals:         &model.ReferralUpdate{RewardPaid: boolPtr(true)},
			TotalRewardsDelta: m.ReferralEarned,
		})
		if err != nil {
			return nil, false, fmt.Errorf("failed to pay referral rewards to member %d: %w", m.TelegramID, err)
		}
		result.MembersPaid++
		result.TotalPaid += m.ReferralEarned

		s.notifier.Notify(m.TelegramID, fmt.Sprintf(
			"🎉 Your referral rewards have been credited!\n\n"+
				"💰 %d GGRD added to your total rewards.", m.ReferralEarned))
	}

	// The marker is written only after the full pass so a crash
	// mid-pass stays retryable; per-member flags prevent double pay.
	if err := s.snapshots.InsertOnce(ctx, model.SnapshotReferralPayout, result); err != nil {
		if errors.Is(err, repository.ErrSnapshotExists) {
			return s.PayReferrals(ctx)
		}
		return nil, false, err
	}

	log.Info().
		Int("members_paid", result.MembersPaid).
		Int64("total_paid", result.TotalPaid).
		Msg("Referral payout pass completed")

	return result, false, nil
}
