// Package bot provides the Telegram bot initialization, middleware and
// handler registration.
package bot

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"ggrd-rewards-bot/internal/config"
	"ggrd-rewards-bot/internal/handler"
	"ggrd-rewards-bot/internal/pkg/lock"
	"ggrd-rewards-bot/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot        *tele.Bot
	cfg        *config.Config
	membership *membershipChecker

	memberHandler *handler.MemberHandler
	adminHandler  *handler.AdminHandler
}

// Dependencies holds everything the bot handlers need.
type Dependencies struct {
	Config     *config.Config
	Tasks      *service.TaskService
	Referrals  *service.ReferralService
	Settlement *service.SnapshotService
	Export     *service.ExportService
	MemberLock *lock.MemberLock
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		bot:        teleBot,
		cfg:        deps.Config,
		membership: newMembershipChecker(teleBot, deps.Config.Chats),
	}

	b.memberHandler = handler.NewMemberHandler(
		deps.Tasks, deps.Referrals, deps.MemberLock,
		b.membership, deps.Config.Chats, teleBot.Me.Username,
	)
	b.adminHandler = handler.NewAdminHandler(
		deps.Tasks, deps.Settlement, deps.Referrals, deps.Export, deps.MemberLock,
	)

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command and callback handlers.
func (b *Bot) registerHandlers() {
	// Member handlers
	b.bot.Handle("/start", b.memberHandler.HandleStart)
	b.bot.Handle("/buy", b.memberHandler.HandleBuy)
	b.bot.Handle("/me", b.memberHandler.HandleMe)
	b.bot.Handle("/help", b.memberHandler.HandleHelp)
	b.bot.Handle(tele.OnText, b.memberHandler.HandleText)
	b.bot.Handle(&tele.Btn{Unique: handler.VerifyTasksUnique}, b.memberHandler.HandleVerifyCallback)

	// Admin handlers (with admin middleware)
	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/verify_purchase", b.adminHandler.HandleVerifyPurchase)
	adminGroup.Handle("/lottery", b.adminHandler.HandleLottery)
	adminGroup.Handle("/snapshot_day0", b.adminHandler.HandleSnapshotDayZero)
	adminGroup.Handle("/snapshot_day7", b.adminHandler.HandleSnapshotDaySeven)
	adminGroup.Handle("/daily_snapshot", b.adminHandler.HandleDailySnapshot)
	adminGroup.Handle("/award_biggest_holder", b.adminHandler.HandleAwardBiggestHolder)
	adminGroup.Handle("/pay_referrals", b.adminHandler.HandlePayReferrals)
	adminGroup.Handle("/disqualify", b.adminHandler.HandleDisqualify)
	adminGroup.Handle("/export", b.adminHandler.HandleExport)
}

// Notify sends a best-effort direct message to a member. Delivery
// failures are logged, never propagated; a blocked bot must not break a
// settlement pass.
func (b *Bot) Notify(memberID int64, text string) {
	if _, err := b.bot.Send(&tele.User{ID: memberID}, text); err != nil {
		log.Warn().Err(err).
			Int64("member_id", memberID).
			Msg("Failed to deliver notification")
	}
}

// Start starts the bot polling. Blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Str("username", b.bot.Me.Username).Msg("Starting bot")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot")
	b.bot.Stop()
}
