package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ggrd-rewards-bot/internal/model"
)

var testSettlement = SettlementConfig{
	HolderThreshold:     2500,
	Top100Reward:        50,
	Top100Limit:         100,
	BiggestHolderReward: 20000,
	ContestDays:         3,
	OracleConcurrency:   2,
}

type snapshotFixture struct {
	svc       *SnapshotService
	members   *memStore
	snapshots *snapStore
	oracle    *stubOracle
	notifier  *recordingNotifier
	base      time.Time
}

func newSnapshotFixture(cfg SettlementConfig) *snapshotFixture {
	f := &snapshotFixture{
		members:   newMemStore(),
		snapshots: newSnapStore(),
		oracle:    &stubOracle{balances: make(map[string]float64)},
		notifier:  newRecordingNotifier(),
		base:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewSnapshotService(f.members, f.snapshots, newMemSlots(), f.oracle, cfg)
	f.svc.SetNotifier(f.notifier)
	f.setDay(0)
	return f
}

// setDay moves the service clock to a given offset in days from the
// fixture base time.
func (f *snapshotFixture) setDay(day int) {
	at := f.base.Add(time.Duration(day) * 24 * time.Hour)
	f.svc.now = func() time.Time { return at }
}

func (f *snapshotFixture) addHolder(id int64, balance float64) {
	wallet := fmt.Sprintf("wallet-%d", id)
	f.members.add(&model.Member{TelegramID: id, WalletAddress: wallet})
	f.oracle.balances[wallet] = balance
}

func TestSnapshotDayZeroRanks(t *testing.T) {
	ctx := context.Background()
	f := newSnapshotFixture(testSettlement)

	// First-contact order: A qualifies, B does not, C qualifies.
	f.addHolder(1, 3000)
	f.addHolder(2, 2000)
	f.addHolder(3, 5000)

	result, recorded, err := f.svc.SnapshotDayZero(ctx)
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Qualified)
	assert.Equal(t, 2, result.RanksIssued)

	a, _ := f.members.GetByID(ctx, 1)
	b, _ := f.members.GetByID(ctx, 2)
	c, _ := f.members.GetByID(ctx, 3)

	require.NotNil(t, a.Task3Top100Rank)
	assert.Equal(t, 1, *a.Task3Top100Rank)
	assert.True(t, a.Task3SnapshotDay0)
	assert.True(t, a.Task3QualifiedLottery)
	assert.Equal(t, int64(50), a.Task3Reward)
	assert.Equal(t, int64(50), a.TotalRewards)
	assert.NotEmpty(t, a.Task3LotteryEntry)

	assert.Nil(t, b.Task3Top100Rank, "below threshold gets no rank")
	assert.False(t, b.Task3SnapshotDay0)
	assert.Equal(t, float64(2000), b.Task3Balance)
	assert.Zero(t, b.TotalRewards)

	// Ranks are dense: the skipped member does not consume one.
	require.NotNil(t, c.Task3Top100Rank)
	assert.Equal(t, 2, *c.Task3Top100Rank)
}

func TestSnapshotDayZeroIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newSnapshotFixture(testSettlement)
	f.addHolder(1, 3000)

	first, recorded, err := f.svc.SnapshotDayZero(ctx)
	require.NoError(t, err)
	require.False(t, recorded)

	// A later member and a higher balance must not change the recorded
	// result.
	f.addHolder(2, 9000)
	second, recorded, err := f.svc.SnapshotDayZero(ctx)
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.Equal(t, first.Processed, second.Processed)
	assert.Equal(t, first.Qualified, second.Qualified)

	m2, _ := f.members.GetByID(ctx, 2)
	assert.False(t, m2.Task3SnapshotDay0)
	assert.Nil(t, m2.Task3Top100Rank)
}

func TestSnapshotDayZeroRankCap(t *testing.T) {
	ctx := context.Background()
	cfg := testSettlement
	cfg.Top100Limit = 2
	f := newSnapshotFixture(cfg)
	for id := int64(1); id <= 3; id++ {
		f.addHolder(id, 3000)
	}

	result, _, err := f.svc.SnapshotDayZero(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Qualified)
	assert.Equal(t, 2, result.RanksIssued)

	third, _ := f.members.GetByID(ctx, 3)
	assert.Nil(t, third.Task3Top100Rank)
	assert.True(t, third.Task3SnapshotDay0, "qualification is independent of the rank cap")
	assert.Zero(t, third.TotalRewards)
}

func TestSnapshotDaySevenRequiresDayZero(t *testing.T) {
	f := newSnapshotFixture(testSettlement)
	_, _, err := f.svc.SnapshotDaySeven(context.Background())
	assert.ErrorIs(t, err, ErrDayZeroMissing)
}

func TestSnapshotDaySevenDropKeepsRankReward(t *testing.T) {
	ctx := context.Background()
	f := newSnapshotFixture(testSettlement)
	f.addHolder(1, 3000)
	f.addHolder(2, 4000)

	_, _, err := f.svc.SnapshotDayZero(ctx)
	require.NoError(t, err)

	// Member 1 sells down below the threshold before day 7.
	f.oracle.balances["wallet-1"] = 100
	f.setDay(7)

	result, recorded, err := f.svc.SnapshotDaySeven(ctx)
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Requalified)
	assert.Equal(t, 1, result.Dropped)

	dropped, _ := f.members.GetByID(ctx, 1)
	assert.True(t, dropped.Task3SnapshotDay7, "the pass observed the member even though they dropped")
	assert.False(t, dropped.Task3QualifiedLottery, "dropping loses lottery eligibility")
	assert.Equal(t, int64(50), dropped.Task3Reward, "rank reward issued at day 0 is kept")
	assert.Equal(t, int64(50), dropped.TotalRewards)

	kept, _ := f.members.GetByID(ctx, 2)
	assert.True(t, kept.Task3SnapshotDay7)
	assert.True(t, kept.Task3QualifiedLottery)
}

func TestDailySnapshot(t *testing.T) {
	ctx := context.Background()
	f := newSnapshotFixture(testSettlement)
	f.addHolder(1, 3000)
	f.addHolder(2, 4000)

	_, _, err := f.svc.SnapshotDayZero(ctx)
	require.NoError(t, err)

	_, err = f.svc.DailySnapshot(ctx)
	require.NoError(t, err)

	// Same day again.
	_, err = f.svc.DailySnapshot(ctx)
	assert.ErrorIs(t, err, ErrDayAlreadyTaken)

	f.setDay(1)
	ds, err := f.svc.DailySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Day)
	assert.Equal(t, int64(2), ds.MaxMemberID)
	assert.Equal(t, float64(4000), ds.MaxBalance)
	assert.Len(t, ds.Balances, 2)

	// Past the contest window.
	f.setDay(testSettlement.ContestDays)
	_, err = f.svc.DailySnapshot(ctx)
	assert.ErrorIs(t, err, ErrContestOver)
}

func TestDailySnapshotRequiresDayZero(t *testing.T) {
	f := newSnapshotFixture(testSettlement)
	_, err := f.svc.DailySnapshot(context.Background())
	assert.ErrorIs(t, err, ErrDayZeroMissing)
}

func TestExecuteLotteryTaskOne(t *testing.T) {
	ctx := context.Background()
	f := newSnapshotFixture(testSettlement)

	_, _, err := f.svc.ExecuteLottery(ctx, 1)
	assert.ErrorIs(t, err, ErrEmptyLotteryPool)

	f.members.add(&model.Member{TelegramID: 1, Task1Completed: true, Task1LotteryEntry: "1-100-1"})
	f.members.add(&model.Member{TelegramID: 2, Task1Completed: true, Task1LotteryEntry: "1-200-2", Disqualified: true})

	result, recorded, err := f.svc.ExecuteLottery(ctx, 1)
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Equal(t, int64(1), result.WinnerID, "disqualified members are excluded")
	assert.Equal(t, "1-100-1", result.Entry)
	assert.Equal(t, 1, result.PoolSize)
	assert.NotEmpty(t, result.DrawID)
	assert.Equal(t, 1, f.notifier.count(1))

	// A draw happens once; repeating returns the recorded result.
	again, recorded, err := f.svc.ExecuteLottery(ctx, 1)
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.Equal(t, result.DrawID, again.DrawID)
	assert.Equal(t, 1, f.notifier.count(1), "no repeat notification")
}

func TestExecuteLotteryTaskThreeRequiresDaySeven(t *testing.T) {
	ctx := context.Background()
	f := newSnapshotFixture(testSettlement)
	f.members.add(&model.Member{TelegramID: 1, Task3QualifiedLottery: true})

	_, _, err := f.svc.ExecuteLottery(ctx, 3)
	assert.ErrorIs(t, err, ErrDaySevenMissing)
}

func TestExecuteLotteryUnknownTask(t *testing.T) {
	f := newSnapshotFixture(testSettlement)
	_, _, err := f.svc.ExecuteLottery(context.Background(), 2)
	assert.ErrorIs(t, err, ErrUnknownLotteryTask)
}

func TestAwardBiggestHolder(t *testing.T) {
	ctx := context.Background()
	f := newSnapshotFixture(testSettlement)
	f.addHolder(1, 3000)
	f.addHolder(2, 5000)

	_, _, err := f.svc.SnapshotDayZero(ctx)
	require.NoError(t, err)

	// One snapshot short of the full window.
	for day := 0; day < testSettlement.ContestDays-1; day++ {
		f.setDay(day)
		_, err = f.svc.DailySnapshot(ctx)
		require.NoError(t, err)
	}
	_, _, err = f.svc.AwardBiggestHolder(ctx)
	assert.ErrorIs(t, err, ErrNotEnoughSnapshots)

	f.setDay(testSettlement.ContestDays - 1)
	_, err = f.svc.DailySnapshot(ctx)
	require.NoError(t, err)

	result, recorded, err := f.svc.AwardBiggestHolder(ctx)
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Equal(t, int64(2), result.WinnerID)
	assert.Equal(t, float64(5000), result.AverageBalance)
	assert.Equal(t, testSettlement.ContestDays, result.DaysObserved)
	assert.Equal(t, int64(20000), result.Reward)

	winner, _ := f.members.GetByID(ctx, 2)
	assert.Equal(t, int64(20050), winner.TotalRewards, "rank reward plus grand reward")
	assert.Equal(t, 1, f.notifier.count(2))

	again, recorded, err := f.svc.AwardBiggestHolder(ctx)
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.Equal(t, result.WinnerID, again.WinnerID)

	winner, _ = f.members.GetByID(ctx, 2)
	assert.Equal(t, int64(20050), winner.TotalRewards, "repeat award does not pay twice")
}

func TestAwardBiggestHolderTieGoesToLowerID(t *testing.T) {
	ctx := context.Background()
	f := newSnapshotFixture(testSettlement)
	f.addHolder(7, 4000)
	f.addHolder(3, 4000)

	_, _, err := f.svc.SnapshotDayZero(ctx)
	require.NoError(t, err)
	for day := 0; day < testSettlement.ContestDays; day++ {
		f.setDay(day)
		_, err = f.svc.DailySnapshot(ctx)
		require.NoError(t, err)
	}

	result, _, err := f.svc.AwardBiggestHolder(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.WinnerID)
}
