package verify

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/taskpool/taskpool/internal/repository"
)

// MembershipCheck verifies channel-subscription tasks by asking Telegram
// whether the submitting user is a member of the target chat.
type MembershipCheck struct {
	bot   *bot.Bot
	store repository.Store
}

func NewMembershipCheck(b *bot.Bot, store repository.Store) *MembershipCheck {
	return &MembershipCheck{bot: b, store: store}
}

func (c *MembershipCheck) Check(ctx context.Context, target string, userID int64) (bool, string, error) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return false, "", fmt.Errorf("load user: %w", err)
	}

	member, err := c.bot.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: target,
		UserID: user.TelegramID,
	})
	if err != nil {
		return false, "", fmt.Errorf("get chat member: %w", err)
	}
	if member == nil {
		return false, "not a member of the target chat", nil
	}

	switch member.Type {
	case models.ChatMemberTypeLeft, models.ChatMemberTypeBanned:
		return false, "left or banned from the target chat", nil
	}
	return true, "member of the target chat", nil
}
