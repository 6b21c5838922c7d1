package bot

import (
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"ggrd-rewards-bot/internal/config"
)

// membershipChecker verifies channel/group membership through the
// Telegram API. Chats configured as @usernames are resolved once and
// cached. Lookups fail soft: any API error counts as not joined, so a
// Telegram hiccup can delay a member but never grant a task.
type membershipChecker struct {
	bot   *tele.Bot
	chats config.ChatsConfig

	mu       sync.Mutex
	resolved map[string]*tele.Chat
}

func newMembershipChecker(bot *tele.Bot, chats config.ChatsConfig) *membershipChecker {
	return &membershipChecker{
		bot:      bot,
		chats:    chats,
		resolved: make(map[string]*tele.Chat),
	}
}

// IsMember reports whether the user has joined the community channel
// and group.
func (m *membershipChecker) IsMember(userID int64) (inChannel, inGroup bool) {
	return m.isIn(m.chats.Channel, userID), m.isIn(m.chats.Group, userID)
}

func (m *membershipChecker) isIn(chatRef string, userID int64) bool {
	chat := m.resolve(chatRef)
	if chat == nil {
		return false
	}

	member, err := m.bot.ChatMemberOf(chat, &tele.User{ID: userID})
	if err != nil {
		log.Warn().Err(err).
			Str("chat", chatRef).
			Int64("user_id", userID).
			Msg("Membership lookup failed")
		return false
	}

	switch member.Role {
	case tele.Member, tele.Administrator, tele.Creator:
		return true
	}
	return false
}

// resolve turns a configured chat reference into a chat the API
// accepts. Numeric IDs are used directly, @usernames go through one
// cached ChatByUsername lookup.
func (m *membershipChecker) resolve(chatRef string) *tele.Chat {
	if chatRef == "" {
		return nil
	}
	if id, err := strconv.ParseInt(chatRef, 10, 64); err == nil {
		return &tele.Chat{ID: id}
	}
	if !strings.HasPrefix(chatRef, "@") {
		log.Warn().Str("chat", chatRef).Msg("Unrecognized chat reference")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if chat, ok := m.resolved[chatRef]; ok {
		return chat
	}

	chat, err := m.bot.ChatByUsername(chatRef)
	if err != nil {
		log.Warn().Err(err).Str("chat", chatRef).Msg("Failed to resolve chat username")
		return nil
	}
	m.resolved[chatRef] = chat
	return chat
}
