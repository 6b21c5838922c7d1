package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ggrd-rewards-bot/internal/model"
)

func newTaskFixture() (*TaskService, *memStore) {
	members := newMemStore()
	svc := NewTaskService(members, newMemSlots(), TaskConfig{
		Task1Reward:   10,
		Task2Reward:   20,
		Task2MaxUsers: 500,
	})
	return svc, members
}

func TestCompleteTaskOne(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		member model.Member
		want   Task1Status
	}{
		{
			name:   "eligible member is granted",
			member: model.Member{TelegramID: 1, InChannel: true, InGroup: true, WalletAddress: "wallet"},
			want:   Task1Granted,
		},
		{
			name:   "missing group join",
			member: model.Member{TelegramID: 2, InChannel: true, WalletAddress: "wallet"},
			want:   Task1NotEligible,
		},
		{
			name:   "missing wallet",
			member: model.Member{TelegramID: 3, InChannel: true, InGroup: true},
			want:   Task1NotEligible,
		},
		{
			name:   "disqualified member",
			member: model.Member{TelegramID: 4, InChannel: true, InGroup: true, WalletAddress: "wallet", Disqualified: true},
			want:   Task1NotEligible,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, members := newTaskFixture()
			m := tt.member
			members.add(&m)

			res, err := svc.CompleteTaskOne(ctx, tt.member.TelegramID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)

			stored, err := members.GetByID(ctx, tt.member.TelegramID)
			require.NoError(t, err)
			if tt.want == Task1Granted {
				assert.True(t, stored.Task1Completed)
				assert.Equal(t, int64(10), stored.Task1Reward)
				assert.Equal(t, int64(10), stored.TotalRewards)
				assert.NotEmpty(t, stored.Task1LotteryEntry)
			} else {
				assert.False(t, stored.Task1Completed)
				assert.Zero(t, stored.TotalRewards)
			}
		})
	}
}

func TestCompleteTaskOneIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, members := newTaskFixture()
	members.add(&model.Member{TelegramID: 1, InChannel: true, InGroup: true, WalletAddress: "wallet"})

	first, err := svc.CompleteTaskOne(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, Task1Granted, first.Status)

	second, err := svc.CompleteTaskOne(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Task1AlreadyDone, second.Status)
	assert.Equal(t, first.Reward, second.Reward)
	assert.Equal(t, first.LotteryEntry, second.LotteryEntry)

	stored, err := members.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.TotalRewards)
}

func TestRegisterWalletSetOnce(t *testing.T) {
	ctx := context.Background()
	svc, members := newTaskFixture()
	members.add(&model.Member{TelegramID: 1, Conversation: model.ConversationAwaitingWallet})

	status, err := svc.RegisterWallet(ctx, 1, "first-wallet")
	require.NoError(t, err)
	assert.Equal(t, WalletSaved, status)

	status, err = svc.RegisterWallet(ctx, 1, "second-wallet")
	require.NoError(t, err)
	assert.Equal(t, WalletAlreadySet, status)

	stored, err := members.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "first-wallet", stored.WalletAddress)
	assert.Equal(t, model.ConversationIdle, stored.Conversation)
}

func TestSubmitPurchase(t *testing.T) {
	ctx := context.Background()
	svc, members := newTaskFixture()
	members.add(&model.Member{TelegramID: 1, Conversation: model.ConversationAwaitingTxHash})

	status, err := svc.SubmitPurchase(ctx, 1, "txhash")
	require.NoError(t, err)
	assert.Equal(t, PurchaseSubmitted, status)

	status, err = svc.SubmitPurchase(ctx, 1, "another")
	require.NoError(t, err)
	assert.Equal(t, PurchaseAlreadyPending, status)

	stored, err := members.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "txhash", stored.Task2TxHash)
	assert.Equal(t, model.ConversationIdle, stored.Conversation)
}

func TestVerifyPurchaseRejectAllowsResubmit(t *testing.T) {
	ctx := context.Background()
	svc, members := newTaskFixture()
	members.add(&model.Member{TelegramID: 1})

	_, err := svc.SubmitPurchase(ctx, 1, "bad-tx")
	require.NoError(t, err)

	status, err := svc.VerifyPurchase(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, VerifyRejected, status)

	stored, err := members.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, stored.Task2Submitted)
	assert.Empty(t, stored.Task2TxHash)

	resubmit, err := svc.SubmitPurchase(ctx, 1, "good-tx")
	require.NoError(t, err)
	assert.Equal(t, PurchaseSubmitted, resubmit)

	status, err = svc.VerifyPurchase(ctx, 1, true)
	require.NoError(t, err)
	assert.Equal(t, VerifyApproved, status)

	stored, err = members.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, stored.Task2Verified)
	assert.Equal(t, int64(20), stored.Task2Reward)
	assert.Equal(t, int64(20), stored.TotalRewards)
}

func TestVerifyPurchaseRejectAfterVerified(t *testing.T) {
	ctx := context.Background()
	members := newMemStore()
	slots := newMemSlots()
	svc := NewTaskService(members, slots, TaskConfig{
		Task1Reward:   10,
		Task2Reward:   20,
		Task2MaxUsers: 500,
	})
	members.add(&model.Member{TelegramID: 1})

	_, err := svc.SubmitPurchase(ctx, 1, "tx-1")
	require.NoError(t, err)
	status, err := svc.VerifyPurchase(ctx, 1, true)
	require.NoError(t, err)
	require.Equal(t, VerifyApproved, status)

	status, err = svc.VerifyPurchase(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, VerifyAlreadyVerified, status)

	stored, err := members.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, stored.Task2Submitted)
	assert.True(t, stored.Task2Verified)
	assert.Equal(t, "tx-1", stored.Task2TxHash)
	assert.Equal(t, int64(20), stored.Task2Reward)
	assert.Equal(t, int64(20), stored.TotalRewards)
	assert.Equal(t, int64(1), slots.values[model.CounterTask2Verified], "only one verification slot consumed")
}

func TestVerifyPurchaseCapLimit(t *testing.T) {
	ctx := context.Background()
	members := newMemStore()
	svc := NewTaskService(members, newMemSlots(), TaskConfig{
		Task1Reward:   10,
		Task2Reward:   20,
		Task2MaxUsers: 2,
	})

	for id := int64(1); id <= 3; id++ {
		members.add(&model.Member{TelegramID: id})
		_, err := svc.SubmitPurchase(ctx, id, fmt.Sprintf("tx-%d", id))
		require.NoError(t, err)
	}

	for id := int64(1); id <= 2; id++ {
		status, err := svc.VerifyPurchase(ctx, id, true)
		require.NoError(t, err)
		assert.Equal(t, VerifyApproved, status)
	}

	status, err := svc.VerifyPurchase(ctx, 3, true)
	require.NoError(t, err)
	assert.Equal(t, VerifyLimitReached, status)

	third, err := members.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.True(t, third.Task2Submitted, "submission stays pending at the cap")
	assert.False(t, third.Task2Verified)
	assert.Zero(t, third.TotalRewards)
}

func TestVerifyPurchaseNotSubmitted(t *testing.T) {
	ctx := context.Background()
	svc, members := newTaskFixture()
	members.add(&model.Member{TelegramID: 1})

	status, err := svc.VerifyPurchase(ctx, 1, true)
	require.NoError(t, err)
	assert.Equal(t, VerifyNotSubmitted, status)
}

func TestDisqualify(t *testing.T) {
	ctx := context.Background()
	svc, members := newTaskFixture()
	members.add(&model.Member{TelegramID: 1, Task1Completed: true, Task1Reward: 10, TotalRewards: 10})

	require.NoError(t, svc.Disqualify(ctx, 1, "multi-account"))

	stored, err := members.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, stored.Disqualified)
	assert.Equal(t, "multi-account", stored.DisqualifiedReason)
	assert.Equal(t, int64(10), stored.TotalRewards, "granted rewards are kept")
}
