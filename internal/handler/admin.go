package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"ggrd-rewards-bot/internal/pkg/lock"
	"ggrd-rewards-bot/internal/repository"
	"ggrd-rewards-bot/internal/service"
)

// AdminHandler handles the admin commands driving review and
// settlement.
type AdminHandler struct {
	tasks      *service.TaskService
	settlement *service.SnapshotService
	referrals  *service.ReferralService
	export     *service.ExportService
	memberLock *lock.MemberLock
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(tasks *service.TaskService, settlement *service.SnapshotService, referrals *service.ReferralService, export *service.ExportService, memberLock *lock.MemberLock) *AdminHandler {
	return &AdminHandler{
		tasks:      tasks,
		settlement: settlement,
		referrals:  referrals,
		export:     export,
		memberLock: memberLock,
	}
}

// HandleVerifyPurchase handles the /verify_purchase command.
// Format: /verify_purchase <user_id> <approve|reject>
func (h *AdminHandler) HandleVerifyPurchase(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) != 2 {
		return c.Reply("Usage: /verify_purchase <user_id> <approve|reject>")
	}

	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("❌ Invalid user ID.")
	}
	var approve bool
	switch strings.ToLower(args[1]) {
	case "approve", "yes":
		approve = true
	case "reject", "no":
		approve = false
	default:
		return c.Reply("❌ Decision must be approve or reject.")
	}

	h.memberLock.Lock(targetID)
	defer h.memberLock.Unlock(targetID)

	status, err := h.tasks.VerifyPurchase(ctx, targetID, approve)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return c.Reply("❌ No such member.")
		}
		return c.Reply("❌ Verification failed, check the logs.")
	}

	log.Info().
		Int64("admin_id", c.Sender().ID).
		Int64("target_id", targetID).
		Bool("approve", approve).
		Str("operation", "verify_purchase").
		Msg("Admin operation executed")

	switch status {
	case service.VerifyApproved:
		return c.Reply(fmt.Sprintf("✅ Purchase of member %d approved, reward granted.", targetID))
	case service.VerifyRejected:
		return c.Reply(fmt.Sprintf("🚫 Purchase of member %d rejected, they may resubmit.", targetID))
	case service.VerifyNotSubmitted:
		return c.Reply(fmt.Sprintf("⚠️ Member %d has no pending submission.", targetID))
	case service.VerifyAlreadyVerified:
		return c.Reply(fmt.Sprintf("✅ Member %d is already verified.", targetID))
	case service.VerifyLimitReached:
		return c.Reply("⚠️ The verified-purchase cap is reached; the submission stays pending.")
	}
	return nil
}

// HandleLottery handles the /lottery command.
// Format: /lottery <1|3>
func (h *AdminHandler) HandleLottery(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("Usage: /lottery <1|3>")
	}
	task, err := strconv.Atoi(args[0])
	if err != nil {
		return c.Reply("❌ Invalid task number.")
	}

	result, recorded, err := h.settlement.ExecuteLottery(ctx, task)
	if err != nil {
		return h.replySettlementError(c, err)
	}

	log.Info().
		Int64("admin_id", c.Sender().ID).
		Int("task", task).
		Str("draw_id", result.DrawID).
		Str("operation", "lottery").
		Msg("Admin operation executed")

	prefix := "🎰 Lottery drawn"
	if recorded {
		prefix = "🎰 Lottery already drawn"
	}
	return c.Reply(fmt.Sprintf(
		"%s for Task %d.\n\n"+
			"🏆 Winner: %d\n"+
			"🎟 Entry: %s\n"+
			"👥 Pool size: %d\n"+
			"🆔 Draw: %s",
		prefix, result.Task, result.WinnerID, result.Entry, result.PoolSize, result.DrawID))
}

// HandleSnapshotDayZero handles the /snapshot_day0 command.
func (h *AdminHandler) HandleSnapshotDayZero(c tele.Context) error {
	result, recorded, err := h.settlement.SnapshotDayZero(context.Background())
	if err != nil {
		return h.replySettlementError(c, err)
	}

	log.Info().
		Int64("admin_id", c.Sender().ID).
		Str("operation", "snapshot_day0").
		Msg("Admin operation executed")

	prefix := "📸 Day-0 snapshot taken"
	if recorded {
		prefix = "📸 Day-0 snapshot was already taken"
	}
	return c.Reply(fmt.Sprintf(
		"%s.\n\n"+
			"👥 Processed: %d\n"+
			"✅ Qualified: %d\n"+
			"🏅 TOP100 ranks issued: %d",
		prefix, result.Processed, result.Qualified, result.RanksIssued))
}

// HandleSnapshotDaySeven handles the /snapshot_day7 command.
func (h *AdminHandler) HandleSnapshotDaySeven(c tele.Context) error {
	result, recorded, err := h.settlement.SnapshotDaySeven(context.Background())
	if err != nil {
		return h.replySettlementError(c, err)
	}

	log.Info().
		Int64("admin_id", c.Sender().ID).
		Str("operation", "snapshot_day7").
		Msg("Admin operation executed")

	prefix := "📸 Day-7 snapshot taken"
	if recorded {
		prefix = "📸 Day-7 snapshot was already taken"
	}
	return c.Reply(fmt.Sprintf(
		"%s.\n\n"+
			"👥 Processed: %d\n"+
			"✅ Requalified: %d\n"+
			"📉 Dropped: %d",
		prefix, result.Processed, result.Requalified, result.Dropped))
}

// HandleDailySnapshot handles the /daily_snapshot command.
func (h *AdminHandler) HandleDailySnapshot(c tele.Context) error {
	ds, err := h.settlement.DailySnapshot(context.Background())
	if err != nil {
		return h.replySettlementError(c, err)
	}

	log.Info().
		Int64("admin_id", c.Sender().ID).
		Int("day", ds.Day).
		Str("operation", "daily_snapshot").
		Msg("Admin operation executed")

	return c.Reply(fmt.Sprintf(
		"📸 Daily snapshot for day %d taken.\n\n"+
			"👥 Members: %d\n"+
			"🥇 Top holder: %d (%.2f GGRD)",
		ds.Day, len(ds.Balances), ds.MaxMemberID, ds.MaxBalance))
}

// HandleAwardBiggestHolder handles the /award_biggest_holder command.
func (h *AdminHandler) HandleAwardBiggestHolder(c tele.Context) error {
	result, recorded, err := h.settlement.AwardBiggestHolder(context.Background())
	if err != nil {
		return h.replySettlementError(c, err)
	}

	log.Info().
		Int64("admin_id", c.Sender().ID).
		Int64("winner_id", result.WinnerID).
		Str("operation", "award_biggest_holder").
		Msg("Admin operation executed")

	prefix := "🏆 Biggest holder awarded"
	if recorded {
		prefix = "🏆 Biggest holder was already awarded"
	}
	return c.Reply(fmt.Sprintf(
		"%s.\n\n"+
			"👤 Winner: %d\n"+
			"📊 Average balance: %.2f GGRD over %d days\n"+
			"💰 Reward: %d GGRD",
		prefix, result.WinnerID, result.AverageBalance, result.DaysObserved, result.Reward))
}

// HandlePayReferrals handles the /pay_referrals command.
func (h *AdminHandler) HandlePayReferrals(c tele.Context) error {
	result, recorded, err := h.referrals.PayReferrals(context.Background())
	if err != nil {
		return h.replySettlementError(c, err)
	}

	log.Info().
		Int64("admin_id", c.Sender().ID).
		Int("members_paid", result.MembersPaid).
		Str("operation", "pay_referrals").
		Msg("Admin operation executed")

	prefix := "💸 Referral payout completed"
	if recorded {
		prefix = "💸 Referral payout was already completed"
	}
	return c.Reply(fmt.Sprintf(
		"%s.\n\n"+
			"👥 Members paid: %d\n"+
			"💰 Total paid: %d GGRD",
		prefix, result.MembersPaid, result.TotalPaid))
}

// HandleDisqualify handles the /disqualify command.
// Format: /disqualify <user_id> <reason...>
func (h *AdminHandler) HandleDisqualify(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) < 2 {
		return c.Reply("Usage: /disqualify <user_id> <reason>")
	}

	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("❌ Invalid user ID.")
	}
	reason := strings.Join(args[1:], " ")

	h.memberLock.Lock(targetID)
	defer h.memberLock.Unlock(targetID)

	if err := h.tasks.Disqualify(ctx, targetID, reason); err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return c.Reply("❌ No such member.")
		}
		return c.Reply("❌ Disqualification failed, check the logs.")
	}

	log.Info().
		Int64("admin_id", c.Sender().ID).
		Int64("target_id", targetID).
		Str("reason", reason).
		Str("operation", "disqualify").
		Msg("Admin operation executed")

	return c.Reply(fmt.Sprintf("🚫 Member %d disqualified: %s", targetID, reason))
}

// HandleExport handles the /export command, sending the full member
// ledger as a JSON document.
func (h *AdminHandler) HandleExport(c tele.Context) error {
	data, err := h.export.Export(context.Background())
	if err != nil {
		return c.Reply("❌ Export failed, check the logs.")
	}

	log.Info().
		Int64("admin_id", c.Sender().ID).
		Int("bytes", len(data)).
		Str("operation", "export").
		Msg("Admin operation executed")

	doc := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(data)),
		FileName: fmt.Sprintf("ggrd-members-%s.json", time.Now().Format("2006-01-02")),
		MIME:     "application/json",
	}
	return c.Send(doc)
}

// replySettlementError maps the settlement sentinels to short admin
// messages.
func (h *AdminHandler) replySettlementError(c tele.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrDayZeroMissing):
		return c.Reply("⚠️ Run /snapshot_day0 first.")
	case errors.Is(err, service.ErrDaySevenMissing):
		return c.Reply("⚠️ Run /snapshot_day7 first.")
	case errors.Is(err, service.ErrDayAlreadyTaken):
		return c.Reply("⚠️ Today's snapshot is already taken.")
	case errors.Is(err, service.ErrContestOver):
		return c.Reply("⚠️ The contest window has ended, no more daily snapshots.")
	case errors.Is(err, service.ErrNotEnoughSnapshots):
		return c.Reply(fmt.Sprintf("⚠️ Not ready yet: %v.", err))
	case errors.Is(err, service.ErrEmptyLotteryPool):
		return c.Reply("⚠️ No eligible entries to draw from.")
	case errors.Is(err, service.ErrUnknownLotteryTask):
		return c.Reply("❌ Lottery task must be 1 or 3.")
	case errors.Is(err, service.ErrPayoutNotDue):
		return c.Reply(fmt.Sprintf("⚠️ Payout is not due yet: %v.", err))
	default:
		log.Error().Err(err).Msg("Settlement pass failed")
		return c.Reply("❌ Operation failed, check the logs.")
	}
}
