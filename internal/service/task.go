package service

import (
	"context"
	"fmt"
	"time"

	"ggrd-rewards-bot/internal/model"
)

// TaskConfig holds the reward amounts and caps for tasks 1 and 2.
type TaskConfig struct {
	Task1Reward   int64
	Task2Reward   int64
	Task2MaxUsers int64
}

// TaskService encapsulates the reward/task state machine: eligibility
// checks, idempotent reward grants and capacity enforcement.
type TaskService struct {
	members MemberStore
	slots   SlotReserver
	cfg     TaskConfig
	now     func() time.Time
}

// NewTaskService creates a new TaskService instance.
func NewTaskService(members MemberStore, slots SlotReserver, cfg TaskConfig) *TaskService {
	return &TaskService{
		members: members,
		slots:   slots,
		cfg:     cfg,
		now:     time.Now,
	}
}

// EnsureMember ensures a member record exists, creating one on first
// contact. Returns the member and whether it was newly created.
func (s *TaskService) EnsureMember(ctx context.Context, telegramID int64, username, firstName, lastName string) (*model.Member, bool, error) {
	m, created, err := s.members.GetOrCreate(ctx, telegramID, username, firstName, lastName)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure member: %w", err)
	}

	// Refresh the handle if it changed since first contact.
	if !created && username != "" && m.Username != username {
		if err := s.members.Update(ctx, telegramID, model.MemberUpdate{Username: &username}); err == nil {
			m.Username = username
		}
	}

	return m, created, nil
}

// GetMember retrieves a member by Telegram ID.
func (s *TaskService) GetMember(ctx context.Context, telegramID int64) (*model.Member, error) {
	return s.members.GetByID(ctx, telegramID)
}

// UpdateMembership records the channel/group verification signals.
func (s *TaskService) UpdateMembership(ctx context.Context, telegramID int64, inChannel, inGroup bool) error {
	return s.members.Update(ctx, telegramID, model.MemberUpdate{
		Membership: &model.MembershipUpdate{
			InChannel: &inChannel,
			InGroup:   &inGroup,
		},
	})
}

// SetConversation moves the member's conversation state, controlling
// which free-text input the bot accepts from them next.
func (s *TaskService) SetConversation(ctx context.Context, telegramID int64, state model.ConversationState) error {
	return s.members.Update(ctx, telegramID, model.MemberUpdate{Conversation: &state})
}

// Task1Status classifies the outcome of a Task 1 completion attempt.
type Task1Status int

// Task 1 completion outcomes.
const (
	Task1Granted Task1Status = iota
	Task1AlreadyDone
	Task1NotEligible
)

// Task1Result carries the Task 1 outcome with the granted (or
// previously granted) reward and lottery entry.
type Task1Result struct {
	Status       Task1Status
	Reward       int64
	LotteryEntry string
}

// CompleteTaskOne attempts to complete the social-verification task.
// Requires both chats joined and a registered wallet. Re-invocation on
// a completed task returns the recorded reward without granting again.
func (s *TaskService) CompleteTaskOne(ctx context.Context, telegramID int64) (*Task1Result, error) {
	m, err := s.members.GetByID(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	if m.Task1Completed {
		return &Task1Result{
			Status:       Task1AlreadyDone,
			Reward:       m.Task1Reward,
			LotteryEntry: m.Task1LotteryEntry,
		}, nil
	}

	if m.Disqualified || !m.InChannel || !m.InGroup || m.WalletAddress == "" {
		return &Task1Result{Status: Task1NotEligible}, nil
	}

	entry := lotteryEntry(1, s.now())
	err = s.members.Update(ctx, telegramID, model.MemberUpdate{
		TaskOne: &model.TaskOneUpdate{
			Completed:    boolPtr(true),
			Reward:       int64Ptr(s.cfg.Task1Reward),
			LotteryEntry: &entry,
		},
		TotalRewardsDelta: s.cfg.Task1Reward,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete task 1: %w", err)
	}

	return &Task1Result{
		Status:       Task1Granted,
		Reward:       s.cfg.Task1Reward,
		LotteryEntry: entry,
	}, nil
}

// WalletStatus classifies the outcome of a wallet registration.
type WalletStatus int

// Wallet registration outcomes.
const (
	WalletSaved WalletStatus = iota
	WalletAlreadySet
)

// RegisterWallet records the member's wallet address. The address is
// intended immutable: a second registration is refused. The caller is
// responsible for format validation.
func (s *TaskService) RegisterWallet(ctx context.Context, telegramID int64, wallet string) (WalletStatus, error) {
	m, err := s.members.GetByID(ctx, telegramID)
	if err != nil {
		return 0, err
	}
	if m.WalletAddress != "" {
		return WalletAlreadySet, nil
	}

	err = s.members.Update(ctx, telegramID, model.MemberUpdate{
		WalletAddress: &wallet,
		Conversation:  statePtr(model.ConversationIdle),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to register wallet: %w", err)
	}
	return WalletSaved, nil
}

// PurchaseStatus classifies the outcome of a purchase-proof submission.
type PurchaseStatus int

// Purchase submission outcomes.
const (
	PurchaseSubmitted PurchaseStatus = iota
	PurchaseAlreadyPending
	PurchaseAlreadyVerified
)

// SubmitPurchase records a purchase transaction hash for admin review.
// A member may resubmit only after a rejection cleared the previous
// submission. The caller is responsible for format validation.
func (s *TaskService) SubmitPurchase(ctx context.Context, telegramID int64, txHash string) (PurchaseStatus, error) {
	m, err := s.members.GetByID(ctx, telegramID)
	if err != nil {
		return 0, err
	}
	if m.Task2Verified {
		return PurchaseAlreadyVerified, nil
	}
	if m.Task2Submitted {
		return PurchaseAlreadyPending, nil
	}

	err = s.members.Update(ctx, telegramID, model.MemberUpdate{
		Purchase: &model.PurchaseUpdate{
			Submitted: boolPtr(true),
			TxHash:    &txHash,
		},
		Conversation: statePtr(model.ConversationIdle),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to submit purchase: %w", err)
	}
	return PurchaseSubmitted, nil
}

// AwaitPurchaseProof moves the member into tx-hash entry mode unless a
// submission is already pending or verified.
func (s *TaskService) AwaitPurchaseProof(ctx context.Context, telegramID int64) (PurchaseStatus, error) {
	m, err := s.members.GetByID(ctx, telegramID)
	if err != nil {
		return 0, err
	}
	if m.Task2Verified {
		return PurchaseAlreadyVerified, nil
	}
	if m.Task2Submitted {
		return PurchaseAlreadyPending, nil
	}

	if err := s.SetConversation(ctx, telegramID, model.ConversationAwaitingTxHash); err != nil {
		return 0, err
	}
	return PurchaseSubmitted, nil
}

// VerifyStatus classifies the outcome of an admin purchase decision.
type VerifyStatus int

// Purchase verification outcomes.
const (
	VerifyApproved VerifyStatus = iota
	VerifyRejected
	VerifyNotSubmitted
	VerifyAlreadyVerified
	VerifyLimitReached
)

// VerifyPurchase applies an admin decision to a pending submission.
// Approval reserves one of the capped verification slots and grants the
// Task 2 reward exactly once; when the cap is exhausted the submission
// stays pending. Rejection clears the submission so the member can
// resubmit; a submission that already reached verified is final and
// cannot be rejected.
func (s *TaskService) VerifyPurchase(ctx context.Context, telegramID int64, approve bool) (VerifyStatus, error) {
	m, err := s.members.GetByID(ctx, telegramID)
	if err != nil {
		return 0, err
	}
	if !m.Task2Submitted {
		return VerifyNotSubmitted, nil
	}
	// A verified submission is final. Letting a reject through here
	// would clear the flags while the reward and the reserved
	// verification slot stay spent.
	if m.Task2Verified {
		return VerifyAlreadyVerified, nil
	}

	if !approve {
		empty := ""
		err := s.members.Update(ctx, telegramID, model.MemberUpdate{
			Purchase: &model.PurchaseUpdate{
				Submitted: boolPtr(false),
				Verified:  boolPtr(false),
				TxHash:    &empty,
			},
		})
		if err != nil {
			return 0, fmt.Errorf("failed to reject purchase: %w", err)
		}
		return VerifyRejected, nil
	}

	_, ok, err := s.slots.Reserve(ctx, model.CounterTask2Verified, 1, s.cfg.Task2MaxUsers)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve verification slot: %w", err)
	}
	if !ok {
		return VerifyLimitReached, nil
	}

	// Reward is granted once even if a retry finds the verified flag
	// already written.
	rewardDelta := s.cfg.Task2Reward
	update := model.MemberUpdate{
		Purchase: &model.PurchaseUpdate{
			Verified: boolPtr(true),
			Reward:   int64Ptr(s.cfg.Task2Reward),
		},
		TotalRewardsDelta: rewardDelta,
	}
	if m.Task2Reward > 0 {
		update.Purchase.Reward = nil
		update.TotalRewardsDelta = 0
	}
	if err := s.members.Update(ctx, telegramID, update); err != nil {
		return 0, fmt.Errorf("failed to approve purchase: %w", err)
	}
	return VerifyApproved, nil
}

// Disqualify freezes a member out of all further settlement. History
// and already-granted rewards are kept.
func (s *TaskService) Disqualify(ctx context.Context, telegramID int64, reason string) error {
	err := s.members.Update(ctx, telegramID, model.MemberUpdate{
		Disqualified:       boolPtr(true),
		DisqualifiedReason: &reason,
	})
	if err != nil {
		return fmt.Errorf("failed to disqualify member: %w", err)
	}
	return nil
}
