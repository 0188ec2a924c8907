package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"catalog_bot/internal/gating"
)

type chatMemberGetter interface {
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// MembershipChecker asks Telegram for a user's status in a public channel.
type MembershipChecker struct {
	api chatMemberGetter
}

// NewMembershipChecker creates a MembershipChecker over api.
func NewMembershipChecker(api chatMemberGetter) *MembershipChecker {
	return &MembershipChecker{api: api}
}

// CheckMembership implements gating.MembershipChecker.
func (c *MembershipChecker) CheckMembership(_ context.Context, handle string, userID int64) (gating.Status, error) {
	member, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			SuperGroupUsername: handle,
			UserID:             userID,
		},
	})
	if err != nil {
		return "", classifyMembershipError(err)
	}
	return gating.Status(member.Status), nil
}

// classifyMembershipError maps Bot API error descriptions onto the gating
// faults. Unrecognised errors are returned as they are.
func classifyMembershipError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user not found"),
		strings.Contains(msg, "participant_id_invalid"):
		return fmt.Errorf("%w: %v", gating.ErrUserNotFound, err)
	case strings.Contains(msg, "chat not found"),
		strings.Contains(msg, "username_not_occupied"),
		strings.Contains(msg, "channel_invalid"):
		return fmt.Errorf("%w: %v", gating.ErrTargetNotFound, err)
	case strings.Contains(msg, "bot is not a member"),
		strings.Contains(msg, "member list is inaccessible"),
		strings.Contains(msg, "not enough rights"),
		strings.Contains(msg, "forbidden"):
		return fmt.Errorf("%w: %v", gating.ErrNoVisibility, err)
	}
	return err
}
