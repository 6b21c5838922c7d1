// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"ggrd-rewards-bot/internal/config"
	"ggrd-rewards-bot/internal/model"
	"ggrd-rewards-bot/internal/pkg/lock"
	"ggrd-rewards-bot/internal/service"
	"ggrd-rewards-bot/internal/validate"
)

// MembershipChecker reports whether a user has joined the community
// channel and group. Implementations fail soft: an API error counts as
// not joined.
type MembershipChecker interface {
	IsMember(userID int64) (inChannel, inGroup bool)
}

// MemberHandler handles the member-facing commands and the
// conversation-driven text input.
type MemberHandler struct {
	tasks       *service.TaskService
	referrals   *service.ReferralService
	memberLock  *lock.MemberLock
	membership  MembershipChecker
	chats       config.ChatsConfig
	botUsername string
}

// NewMemberHandler creates a new MemberHandler.
func NewMemberHandler(tasks *service.TaskService, referrals *service.ReferralService, memberLock *lock.MemberLock, membership MembershipChecker, chats config.ChatsConfig, botUsername string) *MemberHandler {
	return &MemberHandler{
		tasks:       tasks,
		referrals:   referrals,
		memberLock:  memberLock,
		membership:  membership,
		chats:       chats,
		botUsername: botUsername,
	}
}

// VerifyTasksUnique is the callback unique for the task verification
// button.
const VerifyTasksUnique = "verify_tasks"

// HandleStart handles the /start command: first contact, referral
// attribution from a ref_<id> payload and the onboarding keyboard.
func (h *MemberHandler) HandleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	h.memberLock.Lock(sender.ID)
	defer h.memberLock.Unlock(sender.ID)

	_, created, err := h.tasks.EnsureMember(ctx, sender.ID, sender.Username, sender.FirstName, sender.LastName)
	if err != nil {
		return c.Reply("❌ Something went wrong, please try again later.")
	}

	if created {
		if referrerID, ok := parseReferralPayload(c.Message()); ok {
			// Best effort: a bad payload never blocks onboarding.
			_, _ = h.referrals.Attribute(ctx, sender.ID, referrerID)
		}
	}

	markup := h.onboardingKeyboard()
	return c.Reply(fmt.Sprintf(
		"👋 Welcome to the GGRD community, %s!\n\n"+
			"Complete the tasks below to earn GGRD rewards:\n\n"+
			"1️⃣ Join our channel and group, register your Solana wallet\n"+
			"2️⃣ Buy GGRD and submit your transaction for review\n"+
			"3️⃣ Hold GGRD through the snapshots to enter the holder contest\n\n"+
			"Tap ✅ Verify once you have joined both chats.",
		sender.FirstName,
	), markup)
}

// HandleVerifyCallback handles the verification button: it records the
// membership signals and advances the member to wallet entry or task
// completion.
func (h *MemberHandler) HandleVerifyCallback(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	h.memberLock.Lock(sender.ID)
	defer h.memberLock.Unlock(sender.ID)

	if _, _, err := h.tasks.EnsureMember(ctx, sender.ID, sender.Username, sender.FirstName, sender.LastName); err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Something went wrong, please try again."})
	}

	inChannel, inGroup := h.membership.IsMember(sender.ID)
	if err := h.tasks.UpdateMembership(ctx, sender.ID, inChannel, inGroup); err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Something went wrong, please try again."})
	}

	if !inChannel || !inGroup {
		var missing []string
		if !inChannel {
			missing = append(missing, "📢 the channel")
		}
		if !inGroup {
			missing = append(missing, "💬 the group")
		}
		if err := c.Respond(&tele.CallbackResponse{}); err != nil {
			return err
		}
		return c.Send(fmt.Sprintf(
			"⚠️ You still need to join %s.\n\n"+
				"Join and tap ✅ Verify again.",
			strings.Join(missing, " and "),
		), h.onboardingKeyboard())
	}

	m, err := h.tasks.GetMember(ctx, sender.ID)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Something went wrong, please try again."})
	}

	if m.WalletAddress == "" {
		if err := h.tasks.SetConversation(ctx, sender.ID, model.ConversationAwaitingWallet); err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "Something went wrong, please try again."})
		}
		if err := c.Respond(&tele.CallbackResponse{}); err != nil {
			return err
		}
		return c.Send(
			"✅ Both chats joined!\n\n" +
				"Now send me your Solana wallet address to finish Task 1.")
	}

	if err := c.Respond(&tele.CallbackResponse{}); err != nil {
		return err
	}
	return h.completeTaskOne(ctx, c, sender.ID)
}

// HandleText routes free-text input by the member's conversation state.
func (h *MemberHandler) HandleText(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil || chat.Type != tele.ChatPrivate {
		return nil
	}

	h.memberLock.Lock(sender.ID)
	defer h.memberLock.Unlock(sender.ID)

	m, err := h.tasks.GetMember(ctx, sender.ID)
	if err != nil {
		return nil
	}

	text := strings.TrimSpace(c.Text())
	switch m.Conversation {
	case model.ConversationAwaitingWallet:
		return h.handleWalletInput(ctx, c, sender.ID, text)
	case model.ConversationAwaitingTxHash:
		return h.handleTxHashInput(ctx, c, sender.ID, text)
	default:
		return nil
	}
}

func (h *MemberHandler) handleWalletInput(ctx context.Context, c tele.Context, memberID int64, text string) error {
	if !validate.WalletAddress(text) {
		return c.Reply(
			"❌ That does not look like a Solana wallet address.\n\n" +
				"Please send a valid base58 address (32-44 characters).")
	}

	status, err := h.tasks.RegisterWallet(ctx, memberID, text)
	if err != nil {
		return c.Reply("❌ Failed to save your wallet, please try again.")
	}
	if status == service.WalletAlreadySet {
		return c.Reply("⚠️ Your wallet is already registered and cannot be changed.")
	}

	// The referrer earns their credit when the referred wallet lands.
	// The wallet is already saved at this point, so a credit failure
	// must not stop the member's own flow.
	if _, err := h.referrals.CreditWalletSet(ctx, memberID); err != nil {
		log.Error().Err(err).Int64("member_id", memberID).Msg("failed to credit referrer on wallet set")
	}

	if err := c.Reply("💼 Wallet saved!"); err != nil {
		return err
	}
	return h.completeTaskOne(ctx, c, memberID)
}

func (h *MemberHandler) handleTxHashInput(ctx context.Context, c tele.Context, memberID int64, text string) error {
	if !validate.TxSignature(text) {
		return c.Reply(
			"❌ That does not look like a Solana transaction signature.\n\n" +
				"Please send the full signature of your GGRD purchase.")
	}

	status, err := h.tasks.SubmitPurchase(ctx, memberID, text)
	if err != nil {
		return c.Reply("❌ Failed to submit your transaction, please try again.")
	}
	switch status {
	case service.PurchaseAlreadyVerified:
		return c.Reply("✅ Your purchase is already verified.")
	case service.PurchaseAlreadyPending:
		return c.Reply("⏳ Your previous submission is still under review.")
	}

	return c.Reply(
		"📨 Transaction submitted for review!\n\n" +
			"You will be notified once an admin has checked it.")
}

// HandleBuy handles the /buy command, moving the member into
// transaction-signature entry for Task 2.
func (h *MemberHandler) HandleBuy(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	h.memberLock.Lock(sender.ID)
	defer h.memberLock.Unlock(sender.ID)

	if _, _, err := h.tasks.EnsureMember(ctx, sender.ID, sender.Username, sender.FirstName, sender.LastName); err != nil {
		return c.Reply("❌ Something went wrong, please try again later.")
	}

	status, err := h.tasks.AwaitPurchaseProof(ctx, sender.ID)
	if err != nil {
		return c.Reply("❌ Something went wrong, please try again later.")
	}
	switch status {
	case service.PurchaseAlreadyVerified:
		return c.Reply("✅ Your purchase is already verified, Task 2 is done!")
	case service.PurchaseAlreadyPending:
		return c.Reply("⏳ Your submission is under review, hang tight.")
	}

	return c.Reply(
		"🛒 Task 2: buy GGRD and prove it.\n\n" +
			"Send me the transaction signature of your purchase and an admin will review it.")
}

// HandleMe handles the /me command: the member's task progress and
// reward totals.
func (h *MemberHandler) HandleMe(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	m, _, err := h.tasks.EnsureMember(ctx, sender.ID, sender.Username, sender.FirstName, sender.LastName)
	if err != nil {
		return c.Reply("❌ Something went wrong, please try again later.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👤 %s\n\n", m.DisplayName())

	fmt.Fprintf(&b, "1️⃣ Social: %s", mark(m.Task1Completed))
	if m.Task1Completed {
		fmt.Fprintf(&b, "  (+%d GGRD, entry %s)", m.Task1Reward, m.Task1LotteryEntry)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "2️⃣ Purchase: %s", mark(m.Task2Verified))
	switch {
	case m.Task2Verified:
		fmt.Fprintf(&b, "  (+%d GGRD)", m.Task2Reward)
	case m.Task2Submitted:
		b.WriteString("  ⏳ under review")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "3️⃣ Holder: %s", mark(m.Task3SnapshotDay0))
	if m.Task3Top100Rank != nil {
		fmt.Fprintf(&b, "  🏅 TOP100 rank #%d", *m.Task3Top100Rank)
	}
	b.WriteString("\n\n")

	if m.WalletAddress != "" {
		fmt.Fprintf(&b, "💼 Wallet: %s\n", m.WalletAddress)
	}
	if m.ReferralCount > 0 {
		fmt.Fprintf(&b, "🤝 Referrals: %d (%d with wallet, %d GGRD earned)\n",
			m.ReferralCount, m.ReferralCountWithWallet, m.ReferralEarned)
	}
	fmt.Fprintf(&b, "💰 Total rewards: %d GGRD\n", m.TotalRewards)
	fmt.Fprintf(&b, "\n🔗 Your referral link:\nhttps://t.me/%s?start=ref_%d", h.botUsername, sender.ID)

	return c.Reply(b.String())
}

// HandleHelp handles the /help command.
func (h *MemberHandler) HandleHelp(c tele.Context) error {
	return c.Reply(
		"📖 GGRD rewards bot commands:\n\n" +
			"/start - Begin and see the task list\n" +
			"/buy - Submit your GGRD purchase for Task 2\n" +
			"/me - Your progress, rewards and referral link\n" +
			"/help - This message\n\n" +
			"Invite friends with the referral link from /me to earn extra GGRD.")
}

func (h *MemberHandler) completeTaskOne(ctx context.Context, c tele.Context, memberID int64) error {
	res, err := h.tasks.CompleteTaskOne(ctx, memberID)
	if err != nil {
		return c.Send("❌ Something went wrong, please try again later.")
	}

	switch res.Status {
	case service.Task1Granted:
		return c.Send(fmt.Sprintf(
			"🎉 Task 1 complete! +%d GGRD\n\n"+
				"🎟 Your lottery entry: %s\n\n"+
				"Next: /buy to start Task 2.",
			res.Reward, res.LotteryEntry))
	case service.Task1AlreadyDone:
		return c.Send(fmt.Sprintf(
			"✅ Task 1 is already complete (+%d GGRD).", res.Reward))
	default:
		return c.Send(
			"⚠️ Task 1 is not complete yet. Make sure you joined both chats and registered a wallet.")
	}
}

// onboardingKeyboard builds the join/verify inline keyboard.
func (h *MemberHandler) onboardingKeyboard() *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	verify := markup.Data("✅ Verify", VerifyTasksUnique)

	var rows []tele.Row
	if url := chatURL(h.chats.Channel); url != "" {
		rows = append(rows, markup.Row(markup.URL("📢 Join channel", url)))
	}
	if url := chatURL(h.chats.Group); url != "" {
		rows = append(rows, markup.Row(markup.URL("💬 Join group", url)))
	}
	rows = append(rows, markup.Row(verify))
	markup.Inline(rows...)
	return markup
}

// chatURL turns an @username chat reference into a t.me link. Numeric
// chat IDs have no public link.
func chatURL(chat string) string {
	if strings.HasPrefix(chat, "@") {
		return "https://t.me/" + strings.TrimPrefix(chat, "@")
	}
	return ""
}

func mark(done bool) string {
	if done {
		return "✅"
	}
	return "❌"
}

// parseReferralPayload extracts the referrer ID from a /start ref_<id>
// deep-link payload.
func parseReferralPayload(msg *tele.Message) (int64, bool) {
	if msg == nil {
		return 0, false
	}
	payload := strings.TrimSpace(msg.Payload)
	if !strings.HasPrefix(payload, "ref_") {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(payload, "ref_"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
