package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ggrd-rewards-bot/internal/model"
	"ggrd-rewards-bot/internal/oracle"
	"ggrd-rewards-bot/internal/repository"
)

// SettlementConfig holds the holder-tier thresholds and the contest
// window length.
type SettlementConfig struct {
	HolderThreshold     float64
	Top100Reward        int64
	Top100Limit         int64
	BiggestHolderReward int64
	ContestDays         int
	OracleConcurrency   int
}

// SnapshotService runs the settlement passes: the day0 and day7
// qualification snapshots, the daily contest snapshots, the lottery
// draws and the biggest-holder award.
type SnapshotService struct {
	members   MemberStore
	snapshots SnapshotStore
	slots     SlotReserver
	chain     oracle.Oracle
	notifier  Notifier
	cfg       SettlementConfig
	now       func() time.Time
}

// NewSnapshotService creates a new SnapshotService instance.
func NewSnapshotService(members MemberStore, snapshots SnapshotStore, slots SlotReserver, chain oracle.Oracle, cfg SettlementConfig) *SnapshotService {
	if cfg.OracleConcurrency <= 0 {
		cfg.OracleConcurrency = 8
	}
	return &SnapshotService{
		members:   members,
		snapshots: snapshots,
		slots:     slots,
		chain:     chain,
		notifier:  nopNotifier{},
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetNotifier wires the transport-side notifier after bot creation.
func (s *SnapshotService) SetNotifier(n Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// fetchBalances queries the chain for every member's token balance with
// bounded concurrency. An oracle failure records a zero balance for
// that member and the pass continues; a partial chain outage must not
// abort a settlement pass.
func (s *SnapshotService) fetchBalances(ctx context.Context, pool []*model.Member) []float64 {
	balances := make([]float64, len(pool))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.OracleConcurrency)
	for i, m := range pool {
		g.Go(func() error {
			bal, err := s.chain.TokenBalance(gctx, m.WalletAddress)
			if err != nil {
				log.Warn().Err(err).
					Int64("member_id", m.TelegramID).
					Str("wallet", m.WalletAddress).
					Msg("Balance lookup failed, recording zero")
				return nil
			}
			balances[i] = bal
			return nil
		})
	}
	_ = g.Wait()

	return balances
}

// SnapshotDayZero runs the Day-0 settlement pass over every member with
// a wallet: it records balances, marks members at or above the holder
// threshold as day0-qualified, and issues dense TOP100 ranks to
// qualified members in first-contact order. Returns the pass result and
// whether it was previously recorded.
func (s *SnapshotService) SnapshotDayZero(ctx context.Context) (*model.DayZeroResult, bool, error) {
	if snap, err := s.snapshots.Get(ctx, model.SnapshotDayZero); err == nil {
		var result model.DayZeroResult
		if err := unmarshalPayload(snap.Payload, &result); err != nil {
			return nil, false, err
		}
		return &result, true, nil
	}

	pool, err := s.members.Find(ctx, model.MemberFilter{
		HasWallet:    boolPtr(true),
		Disqualified: boolPtr(false),
	})
	if err != nil {
		return nil, false, err
	}

	balances := s.fetchBalances(ctx, pool)

	result := &model.DayZeroResult{TakenAt: s.now()}
	for i, m := range pool {
		bal := balances[i]
		upd := model.MemberUpdate{Holder: &model.HolderUpdate{Balance: &bal}}

		if bal >= s.cfg.HolderThreshold {
			upd.Holder.SnapshotDay0 = boolPtr(true)
			upd.Holder.QualifiedLottery = boolPtr(true)
			upd.Holder.LotteryEntry = strPtr(lotteryEntry(3, s.now()))
			result.Qualified++

			if m.Task3Top100Rank == nil {
				rank, ok, err := s.slots.Reserve(ctx, model.CounterTop100Ranks, 1, s.cfg.Top100Limit)
				if err != nil {
					return nil, false, fmt.Errorf("failed to reserve TOP100 rank: %w", err)
				}
				if ok {
					upd.Holder.Top100Rank = intPtr(int(rank))
					upd.Holder.RewardDelta = s.cfg.Top100Reward
					upd.TotalRewardsDelta = s.cfg.Top100Reward
					result.RanksIssued++
				}
			}
		}

		if err := s.members.Update(ctx, m.TelegramID, upd); err != nil {
			return nil, false, fmt.Errorf("failed to store day0 balance for member %d: %w", m.TelegramID, err)
		}
		result.Processed++
	}

	if err := s.snapshots.InsertOnce(ctx, model.SnapshotDayZero, result); err != nil {
		if errors.Is(err, repository.ErrSnapshotExists) {
			return s.SnapshotDayZero(ctx)
		}
		return nil, false, err
	}

	log.Info().
		Int("processed", result.Processed).
		Int("qualified", result.Qualified).
		Int("ranks_issued", result.RanksIssued).
		Msg("Day-0 snapshot completed")

	return result, false, nil
}

// SnapshotDaySeven re-checks every day0-qualified member against the
// holder threshold. Members who dropped below lose lottery eligibility
// but keep any TOP100 reward already issued at Day-0. Returns the pass
// result and whether it was previously recorded.
func (s *SnapshotService) SnapshotDaySeven(ctx context.Context) (*model.DaySevenResult, bool, error) {
	if snap, err := s.snapshots.Get(ctx, model.SnapshotDaySeven); err == nil {
		var result model.DaySevenResult
		if err := unmarshalPayload(snap.Payload, &result); err != nil {
			return nil, false, err
		}
		return &result, true, nil
	}

	if _, err := s.snapshots.Get(ctx, model.SnapshotDayZero); err != nil {
		return nil, false, ErrDayZeroMissing
	}

	pool, err := s.members.Find(ctx, model.MemberFilter{
		SnapshotDay0: boolPtr(true),
		Disqualified: boolPtr(false),
	})
	if err != nil {
		return nil, false, err
	}

	balances := s.fetchBalances(ctx, pool)

	result := &model.DaySevenResult{TakenAt: s.now()}
	for i, m := range pool {
		bal := balances[i]
		held := bal >= s.cfg.HolderThreshold
		// The day7 flag marks that the pass observed the member; only
		// the lottery qualification depends on the rechecked balance.
		upd := model.MemberUpdate{Holder: &model.HolderUpdate{
			Balance:          &bal,
			SnapshotDay7:     boolPtr(true),
			QualifiedLottery: boolPtr(held),
		}}
		if held {
			result.Requalified++
		} else {
			result.Dropped++
		}
		if err := s.members.Update(ctx, m.TelegramID, upd); err != nil {
			return nil, false, fmt.Errorf("failed to store day7 balance for member %d: %w", m.TelegramID, err)
		}
		result.Processed++
	}

	if err := s.snapshots.InsertOnce(ctx, model.SnapshotDaySeven, result); err != nil {
		if errors.Is(err, repository.ErrSnapshotExists) {
			return s.SnapshotDaySeven(ctx)
		}
		return nil, false, err
	}

	log.Info().
		Int("processed", result.Processed).
		Int("requalified", result.Requalified).
		Int("dropped", result.Dropped).
		Msg("Day-7 snapshot completed")

	return result, false, nil
}

// DailySnapshot records one day of the biggest-holder contest: the
// balance of every day0-qualified member plus the day's maximum holder.
// The day index is derived from day0; a second run on the same day
// returns ErrDayAlreadyTaken and runs past the contest window return
// ErrContestOver.
func (s *SnapshotService) DailySnapshot(ctx context.Context) (*model.DailySnapshot, error) {
	day, err := settlementDay(ctx, s.snapshots, s.now())
	if err != nil {
		return nil, err
	}
	if day > s.cfg.ContestDays {
		return nil, fmt.Errorf("%w: day %d of %d", ErrContestOver, day, s.cfg.ContestDays)
	}
	if _, err := s.snapshots.GetDaily(ctx, day); err == nil {
		return nil, fmt.Errorf("%w: day %d", ErrDayAlreadyTaken, day)
	}

	pool, err := s.members.Find(ctx, model.MemberFilter{
		SnapshotDay0: boolPtr(true),
		Disqualified: boolPtr(false),
	})
	if err != nil {
		return nil, err
	}

	balances := s.fetchBalances(ctx, pool)

	ds := &model.DailySnapshot{
		Day:      day,
		Balances: make(map[int64]float64, len(pool)),
		TakenAt:  s.now(),
	}
	for i, m := range pool {
		bal := balances[i]
		ds.Balances[m.TelegramID] = bal
		if err := s.members.Update(ctx, m.TelegramID, model.MemberUpdate{
			Holder: &model.HolderUpdate{Balance: &bal},
		}); err != nil {
			return nil, fmt.Errorf("failed to store daily balance for member %d: %w", m.TelegramID, err)
		}
		if bal > ds.MaxBalance || ds.MaxMemberID == 0 {
			ds.MaxBalance = bal
			ds.MaxMemberID = m.TelegramID
		}
	}

	if err := s.snapshots.InsertDailyOnce(ctx, ds); err != nil {
		if errors.Is(err, repository.ErrSnapshotExists) {
			return nil, fmt.Errorf("%w: day %d", ErrDayAlreadyTaken, day)
		}
		return nil, err
	}

	log.Info().
		Int("day", day).
		Int("members", len(pool)).
		Int64("max_member_id", ds.MaxMemberID).
		Float64("max_balance", ds.MaxBalance).
		Msg("Daily snapshot completed")

	return ds, nil
}

// ExecuteLottery draws one winner for a task lottery. Task 1 draws from
// members who completed social verification, task 3 from members still
// lottery-qualified after Day-7. Each task has exactly one draw;
// repeating it returns the recorded result with recorded=true.
func (s *SnapshotService) ExecuteLottery(ctx context.Context, task int) (*model.LotteryResult, bool, error) {
	var typ model.SnapshotType
	var filter model.MemberFilter
	switch task {
	case 1:
		typ = model.SnapshotLotteryTask1
		filter = model.MemberFilter{Task1Completed: boolPtr(true), Disqualified: boolPtr(false)}
	case 3:
		typ = model.SnapshotLotteryTask3
		filter = model.MemberFilter{QualifiedLottery: boolPtr(true), Disqualified: boolPtr(false)}
	default:
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownLotteryTask, task)
	}

	if snap, err := s.snapshots.Get(ctx, typ); err == nil {
		var result model.LotteryResult
		if err := unmarshalPayload(snap.Payload, &result); err != nil {
			return nil, false, err
		}
		return &result, true, nil
	}

	if task == 3 {
		if _, err := s.snapshots.Get(ctx, model.SnapshotDaySeven); err != nil {
			return nil, false, ErrDaySevenMissing
		}
	}

	pool, err := s.members.Find(ctx, filter)
	if err != nil {
		return nil, false, err
	}
	if len(pool) == 0 {
		return nil, false, fmt.Errorf("%w: task %d", ErrEmptyLotteryPool, task)
	}

	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(pool))))
	if err != nil {
		return nil, false, fmt.Errorf("failed to draw lottery winner: %w", err)
	}
	winner := pool[idx.Int64()]

	entry := winner.Task1LotteryEntry
	if task == 3 {
		entry = winner.Task3LotteryEntry
	}
	result := &model.LotteryResult{
		DrawID:   uuid.NewString(),
		Task:     task,
		WinnerID: winner.TelegramID,
		Entry:    entry,
		PoolSize: len(pool),
		DrawnAt:  s.now(),
	}

	if err := s.snapshots.InsertOnce(ctx, typ, result); err != nil {
		if errors.Is(err, repository.ErrSnapshotExists) {
			return s.ExecuteLottery(ctx, task)
		}
		return nil, false, err
	}

	log.Info().
		Str("draw_id", result.DrawID).
		Int("task", task).
		Int64("winner_id", winner.TelegramID).
		Int("pool_size", len(pool)).
		Msg("Lottery draw completed")

	s.notifier.Notify(winner.TelegramID, fmt.Sprintf(
		"🎰 Congratulations! You won the Task %d lottery!\n\n"+
			"🎟 Your winning entry: %s\n"+
			"The team will contact you about your prize.", task, entry))

	return result, false, nil
}

// AwardBiggestHolder settles the 30-day contest: the member with the
// highest mean balance over the recorded daily snapshots wins the
// grand reward. Available only once every contest day has a snapshot;
// a tie goes to the lower member id. Returns the award result and
// whether it was previously recorded.
func (s *SnapshotService) AwardBiggestHolder(ctx context.Context) (*model.BiggestHolderResult, bool, error) {
	if snap, err := s.snapshots.Get(ctx, model.SnapshotBiggestHolder); err == nil {
		var result model.BiggestHolderResult
		if err := unmarshalPayload(snap.Payload, &result); err != nil {
			return nil, false, err
		}
		return &result, true, nil
	}

	count, err := s.snapshots.CountDaily(ctx)
	if err != nil {
		return nil, false, err
	}
	if count < s.cfg.ContestDays {
		return nil, false, fmt.Errorf("%w: %d of %d", ErrNotEnoughSnapshots, count, s.cfg.ContestDays)
	}

	days, err := s.snapshots.ListDaily(ctx)
	if err != nil {
		return nil, false, err
	}

	eligible, err := s.members.Find(ctx, model.MemberFilter{
		SnapshotDay0: boolPtr(true),
		Disqualified: boolPtr(false),
	})
	if err != nil {
		return nil, false, err
	}
	inContest := make(map[int64]bool, len(eligible))
	for _, m := range eligible {
		inContest[m.TelegramID] = true
	}

	sums := make(map[int64]float64)
	observed := make(map[int64]int)
	for _, ds := range days {
		for id, bal := range ds.Balances {
			if !inContest[id] {
				continue
			}
			sums[id] += bal
			observed[id]++
		}
	}

	var winnerID int64
	var best float64
	for id, sum := range sums {
		mean := sum / float64(observed[id])
		switch {
		case winnerID == 0, mean > best:
			winnerID, best = id, mean
		case mean == best && id < winnerID:
			winnerID = id
		}
	}
	if winnerID == 0 {
		return nil, false, fmt.Errorf("%w: no contest balances recorded", ErrEmptyLotteryPool)
	}

	err = s.members.Update(ctx, winnerID, model.MemberUpdate{
		Holder:            &model.HolderUpdate{RewardDelta: s.cfg.BiggestHolderReward},
		TotalRewardsDelta: s.cfg.BiggestHolderReward,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to award biggest holder %d: %w", winnerID, err)
	}

	result := &model.BiggestHolderResult{
		WinnerID:       winnerID,
		AverageBalance: best,
		DaysObserved:   observed[winnerID],
		Reward:         s.cfg.BiggestHolderReward,
		AwardedAt:      s.now(),
	}
	if err := s.snapshots.InsertOnce(ctx, model.SnapshotBiggestHolder, result); err != nil {
		if errors.Is(err, repository.ErrSnapshotExists) {
			return s.AwardBiggestHolder(ctx)
		}
		return nil, false, err
	}

	log.Info().
		Int64("winner_id", winnerID).
		Float64("average_balance", best).
		Int64("reward", s.cfg.BiggestHolderReward).
		Msg("Biggest-holder award completed")

	s.notifier.Notify(winnerID, fmt.Sprintf(
		"🏆 Congratulations! You are the biggest GGRD holder of the contest!\n\n"+
			"📊 Average balance: %.2f GGRD\n"+
			"💰 Reward: %d GGRD added to your total rewards.",
		best, s.cfg.BiggestHolderReward))

	return result, false, nil
}
