// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ggrd-rewards-bot/internal/model"
)

// Common errors for repository operations.
var (
	ErrMemberNotFound = errors.New("member not found")
)

const memberColumns = `
	telegram_id, username, first_name, last_name, wallet_address, referred_by,
	conversation, in_channel, in_group,
	task1_completed, task1_reward, task1_lottery_entry,
	task2_submitted, task2_tx_hash, task2_verified, task2_reward,
	task3_balance, task3_snapshot_day0, task3_snapshot_day7, task3_qualified_lottery,
	task3_top100_rank, task3_reward, task3_lottery_entry,
	referral_count, referral_count_with_wallet, referral_earned, referral_reward_paid,
	total_rewards, disqualified, disqualified_reason, created_at, updated_at`

// MemberRepository handles member record persistence.
type MemberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository creates a new MemberRepository instance.
func NewMemberRepository(pool *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

func scanMember(row pgx.Row) (*model.Member, error) {
	var m model.Member
	err := row.Scan(
		&m.TelegramID, &m.Username, &m.FirstName, &m.LastName, &m.WalletAddress, &m.ReferredBy,
		&m.Conversation, &m.InChannel, &m.InGroup,
		&m.Task1Completed, &m.Task1Reward, &m.Task1LotteryEntry,
		&m.Task2Submitted, &m.Task2TxHash, &m.Task2Verified, &m.Task2Reward,
		&m.Task3Balance, &m.Task3SnapshotDay0, &m.Task3SnapshotDay7, &m.Task3QualifiedLottery,
		&m.Task3Top100Rank, &m.Task3Reward, &m.Task3LotteryEntry,
		&m.ReferralCount, &m.ReferralCountWithWallet, &m.ReferralEarned, &m.ReferralRewardPaid,
		&m.TotalRewards, &m.Disqualified, &m.DisqualifiedReason, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByID retrieves a member by their Telegram ID.
// Returns ErrMemberNotFound if the member does not exist.
func (r *MemberRepository) GetByID(ctx context.Context, telegramID int64) (*model.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE telegram_id = $1`

	m, err := scanMember(r.pool.QueryRow(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// Create creates a new member record on first contact.
func (r *MemberRepository) Create(ctx context.Context, telegramID int64, username, firstName, lastName string) (*model.Member, error) {
	query := `
		INSERT INTO members (telegram_id, username, first_name, last_name, conversation, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'idle', NOW(), NOW())
		RETURNING ` + memberColumns

	m, err := scanMember(r.pool.QueryRow(ctx, query, telegramID, username, firstName, lastName))
	if err != nil {
		return nil, fmt.Errorf("failed to create member: %w", err)
	}
	return m, nil
}

// GetOrCreate retrieves a member by Telegram ID, creating one if it
// doesn't exist. Members are never created twice: a concurrent insert
// loses to the existing row.
func (r *MemberRepository) GetOrCreate(ctx context.Context, telegramID int64, username, firstName, lastName string) (*model.Member, bool, error) {
	m, err := r.GetByID(ctx, telegramID)
	if err == nil {
		return m, false, nil
	}
	if !errors.Is(err, ErrMemberNotFound) {
		return nil, false, err
	}

	m, err = r.Create(ctx, telegramID, username, firstName, lastName)
	if err != nil {
		// Another request might have created the member in between.
		m, err = r.GetByID(ctx, telegramID)
		if err != nil {
			return nil, false, err
		}
		return m, false, nil
	}

	return m, true, nil
}

// Update applies a typed partial update to a member record. Only the
// fields present in the update are written; updated_at always refreshes.
func (r *MemberRepository) Update(ctx context.Context, telegramID int64, u model.MemberUpdate) error {
	set := []string{"updated_at = NOW()"}
	args := []any{telegramID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if u.Username != nil {
		set = append(set, "username = "+arg(*u.Username))
	}
	if u.FirstName != nil {
		set = append(set, "first_name = "+arg(*u.FirstName))
	}
	if u.LastName != nil {
		set = append(set, "last_name = "+arg(*u.LastName))
	}
	if u.WalletAddress != nil {
		set = append(set, "wallet_address = "+arg(*u.WalletAddress))
	}
	if u.ReferredBy != nil {
		set = append(set, "referred_by = "+arg(*u.ReferredBy))
	}
	if u.Conversation != nil {
		set = append(set, "conversation = "+arg(string(*u.Conversation)))
	}
	if u.Membership != nil {
		if u.Membership.InChannel != nil {
			set = append(set, "in_channel = "+arg(*u.Membership.InChannel))
		}
		if u.Membership.InGroup != nil {
			set = append(set, "in_group = "+arg(*u.Membership.InGroup))
		}
	}
	if u.TaskOne != nil {
		if u.TaskOne.Completed != nil {
			set = append(set, "task1_completed = "+arg(*u.TaskOne.Completed))
		}
		if u.TaskOne.Reward != nil {
			set = append(set, "task1_reward = "+arg(*u.TaskOne.Reward))
		}
		if u.TaskOne.LotteryEntry != nil {
			set = append(set, "task1_lottery_entry = "+arg(*u.TaskOne.LotteryEntry))
		}
	}
	if u.Purchase != nil {
		if u.Purchase.Submitted != nil {
			set = append(set, "task2_submitted = "+arg(*u.Purchase.Submitted))
		}
		if u.Purchase.TxHash != nil {
			set = append(set, "task2_tx_hash = "+arg(*u.Purchase.TxHash))
		}
		if u.Purchase.Verified != nil {
			set = append(set, "task2_verified = "+arg(*u.Purchase.Verified))
		}
		if u.Purchase.Reward != nil {
			set = append(set, "task2_reward = "+arg(*u.Purchase.Reward))
		}
	}
	if u.Holder != nil {
		if u.Holder.Balance != nil {
			set = append(set, "task3_balance = "+arg(*u.Holder.Balance))
		}
		if u.Holder.SnapshotDay0 != nil {
			set = append(set, "task3_snapshot_day0 = "+arg(*u.Holder.SnapshotDay0))
		}
		if u.Holder.SnapshotDay7 != nil {
			set = append(set, "task3_snapshot_day7 = "+arg(*u.Holder.SnapshotDay7))
		}
		if u.Holder.QualifiedLottery != nil {
			set = append(set, "task3_qualified_lottery = "+arg(*u.Holder.QualifiedLottery))
		}
		if u.Holder.Top100Rank != nil {
			set = append(set, "task3_top100_rank = "+arg(*u.Holder.Top100Rank))
		}
		if u.Holder.RewardDelta != 0 {
			set = append(set, "task3_reward = task3_reward + "+arg(u.Holder.RewardDelta))
		}
		if u.Holder.LotteryEntry != nil {
			set = append(set, "task3_lottery_entry = "+arg(*u.Holder.LotteryEntry))
		}
	}
	if u.Referrals != nil {
		if u.Referrals.CountDelta != 0 {
			set = append(set, "referral_count = referral_count + "+arg(u.Referrals.CountDelta))
		}
		if u.Referrals.CountWithWalletDelta != 0 {
			set = append(set, "referral_count_with_wallet = referral_count_with_wallet + "+arg(u.Referrals.CountWithWalletDelta))
		}
		if u.Referrals.EarnedDelta != 0 {
			set = append(set, "referral_earned = referral_earned + "+arg(u.Referrals.EarnedDelta))
		}
		if u.Referrals.RewardPaid != nil {
			set = append(set, "referral_reward_paid = "+arg(*u.Referrals.RewardPaid))
		}
	}
	if u.TotalRewardsDelta != 0 {
		set = append(set, "total_rewards = total_rewards + "+arg(u.TotalRewardsDelta))
	}
	if u.Disqualified != nil {
		set = append(set, "disqualified = "+arg(*u.Disqualified))
	}
	if u.DisqualifiedReason != nil {
		set = append(set, "disqualified_reason = "+arg(*u.DisqualifiedReason))
	}

	query := "UPDATE members SET " + strings.Join(set, ", ") + " WHERE telegram_id = $1"
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func filterClauses(f model.MemberFilter) (string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.HasWallet != nil {
		if *f.HasWallet {
			where = append(where, "wallet_address <> ''")
		} else {
			where = append(where, "wallet_address = ''")
		}
	}
	if f.Task1Completed != nil {
		where = append(where, "task1_completed = "+arg(*f.Task1Completed))
	}
	if f.Task2Verified != nil {
		where = append(where, "task2_verified = "+arg(*f.Task2Verified))
	}
	if f.SnapshotDay0 != nil {
		where = append(where, "task3_snapshot_day0 = "+arg(*f.SnapshotDay0))
	}
	if f.QualifiedLottery != nil {
		where = append(where, "task3_qualified_lottery = "+arg(*f.QualifiedLottery))
	}
	if f.ReferralUnpaid != nil {
		if *f.ReferralUnpaid {
			where = append(where, "referral_earned > 0 AND NOT referral_reward_paid")
		} else {
			where = append(where, "NOT (referral_earned > 0 AND NOT referral_reward_paid)")
		}
	}
	if f.Disqualified != nil {
		where = append(where, "disqualified = "+arg(*f.Disqualified))
	}

	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// Find retrieves all members matching the filter, in first-contact
// order. Settlement passes rely on this order for rank assignment.
func (r *MemberRepository) Find(ctx context.Context, f model.MemberFilter) ([]*model.Member, error) {
	where, args := filterClauses(f)
	query := `SELECT ` + memberColumns + ` FROM members` + where + ` ORDER BY created_at, telegram_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find members: %w", err)
	}
	defer rows.Close()

	var members []*model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	return members, nil
}

// Count returns the number of members matching the filter.
func (r *MemberRepository) Count(ctx context.Context, f model.MemberFilter) (int, error) {
	where, args := filterClauses(f)
	query := `SELECT COUNT(*) FROM members` + where

	var count int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

// SumReferralEarned returns the global sum of earned referral credit.
func (r *MemberRepository) SumReferralEarned(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(SUM(referral_earned), 0) FROM members`

	var sum int64
	if err := r.pool.QueryRow(ctx, query).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum referral earnings: %w", err)
	}
	return sum, nil
}

// Put writes a full member record, inserting or replacing every field.
// Used by the export/import path.
func (r *MemberRepository) Put(ctx context.Context, m *model.Member) error {
	query := `
		INSERT INTO members (` + memberColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)
		ON CONFLICT (telegram_id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			wallet_address = EXCLUDED.wallet_address,
			referred_by = EXCLUDED.referred_by,
			conversation = EXCLUDED.conversation,
			in_channel = EXCLUDED.in_channel,
			in_group = EXCLUDED.in_group,
			task1_completed = EXCLUDED.task1_completed,
			task1_reward = EXCLUDED.task1_reward,
			task1_lottery_entry = EXCLUDED.task1_lottery_entry,
			task2_submitted = EXCLUDED.task2_submitted,
			task2_tx_hash = EXCLUDED.task2_tx_hash,
			task2_verified = EXCLUDED.task2_verified,
			task2_reward = EXCLUDED.task2_reward,
			task3_balance = EXCLUDED.task3_balance,
			task3_snapshot_day0 = EXCLUDED.task3_snapshot_day0,
			task3_snapshot_day7 = EXCLUDED.task3_snapshot_day7,
			task3_qualified_lottery = EXCLUDED.task3_qualified_lottery,
			task3_top100_rank = EXCLUDED.task3_top100_rank,
			task3_reward = EXCLUDED.task3_reward,
			task3_lottery_entry = EXCLUDED.task3_lottery_entry,
			referral_count = EXCLUDED.referral_count,
			referral_count_with_wallet = EXCLUDED.referral_count_with_wallet,
			referral_earned = EXCLUDED.referral_earned,
			referral_reward_paid = EXCLUDED.referral_reward_paid,
			total_rewards = EXCLUDED.total_rewards,
			disqualified = EXCLUDED.disqualified,
			disqualified_reason = EXCLUDED.disqualified_reason,
			updated_at = NOW()`

	_, err := r.pool.Exec(ctx, query,
		m.TelegramID, m.Username, m.FirstName, m.LastName, m.WalletAddress, m.ReferredBy,
		string(m.Conversation), m.InChannel, m.InGroup,
		m.Task1Completed, m.Task1Reward, m.Task1LotteryEntry,
		m.Task2Submitted, m.Task2TxHash, m.Task2Verified, m.Task2Reward,
		m.Task3Balance, m.Task3SnapshotDay0, m.Task3SnapshotDay7, m.Task3QualifiedLottery,
		m.Task3Top100Rank, m.Task3Reward, m.Task3LotteryEntry,
		m.ReferralCount, m.ReferralCountWithWallet, m.ReferralEarned, m.ReferralRewardPaid,
		m.TotalRewards, m.Disqualified, m.DisqualifiedReason, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put member: %w", err)
	}
	return nil
}
