package bot

import (
	"context"
	"errors"
	"strings"

	"catalog_bot/internal/metrics"
	"catalog_bot/internal/model"
	"catalog_bot/internal/session"
)

const (
	flowAdminLogin   = "admin_login"
	maxLoginAttempts = 3
)

var errTooManyAttempts = errors.New("too many password attempts")

// adminFlows may only be continued by a user who is still an admin.
var adminFlows = map[string]bool{
	session.FlowAddItem:        true,
	session.FlowAddPart:        true,
	session.FlowAddChannel:     true,
	session.FlowPromoteAdmin:   true,
	session.FlowDemoteAdmin:    true,
	session.FlowDeleteItem:     true,
	session.FlowPurgeItem:      true,
	session.FlowBlockUser:      true,
	session.FlowUnblockUser:    true,
	session.FlowDeleteChannel:  true,
	session.FlowAddCategory:    true,
	session.FlowRemoveCategory: true,
	session.FlowUserSearch:     true,
	session.FlowBroadcast:      true,
	session.FlowSetWelcome:     true,
}

func (b *Bot) beginSession(ctx context.Context, chatID int64, user *model.User, flow *session.Flow) {
	reply, err := b.sessions.Begin(ctx, user.ID, flow, nil)
	b.renderSession(ctx, chatID, user, reply, err)
}

func (b *Bot) continueSession(ctx context.Context, chatID int64, user *model.User, in session.Input) {
	if flow, ok := b.sessions.Active(user.ID); ok && adminFlows[flow] && !b.isAdmin(user) {
		b.sessions.Cancel(user.ID)
		b.reply(chatID, "Access denied.")
		return
	}
	reply, err := b.sessions.Handle(ctx, user.ID, in)
	b.renderSession(ctx, chatID, user, reply, err)
}

func (b *Bot) renderSession(ctx context.Context, chatID int64, user *model.User, reply session.Reply, err error) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		b.reply(chatID, "This form is no longer active.")
		return
	case errors.Is(err, errTooManyAttempts):
		b.sessions.Cancel(user.ID)
		b.log.Warn("admin login locked out", "user_id", user.ID)
		b.reply(chatID, "Too many wrong attempts.")
		return
	case err != nil:
		b.fail(chatID, "session", err)
		return
	}

	if !reply.Done {
		text := reply.Prompt.Text
		if reply.Problem != "" {
			text = reply.Problem + "\n\n" + text
		}
		b.replyWithMarkup(chatID, text, promptKeyboard(reply.Prompt))
		return
	}

	metrics.SessionsCommitted.WithLabelValues(reply.Flow).Inc()
	b.log.Info("session committed", "flow", reply.Flow, "user_id", user.ID)
	b.finishSession(ctx, chatID, user, reply)
}

// finishSession acts on a completed flow.
func (b *Bot) finishSession(ctx context.Context, chatID int64, user *model.User, reply session.Reply) {
	switch reply.Flow {
	case session.FlowSearch:
		b.showSearch(ctx, chatID, user.ID, reply.Draft.String("query"), 0)
		return
	case session.FlowUserSearch:
		b.showUserSearch(ctx, chatID, reply.Draft.String("query"))
		return
	case session.FlowBroadcast:
		b.startBroadcast(ctx, chatID, reply.Draft.String("text"))
		return
	case session.FlowBlockUser:
		target := reply.Draft.Int64("user_id")
		b.sessions.Cancel(target)
		b.notify(target, msgBlocked)
	case session.FlowUnblockUser:
		b.notify(reply.Draft.Int64("user_id"), "You have been unblocked.")
	case flowAdminLogin:
		b.log.Info("admin login", "user_id", user.ID)
		b.reply(chatID, reply.Message)
		b.showAdminPanel(chatID)
		return
	}

	if reply.Message != "" {
		b.reply(chatID, reply.Message)
	}
}

// notify tells a user about an admin action. Failures are only logged.
func (b *Bot) notify(chatID int64, text string) {
	if err := b.SendText(context.Background(), chatID, text); err != nil {
		b.log.Debug("notify user", "chat_id", chatID, "error", err)
	}
}

// adminLoginFlow asks for the admin password and grants admin rights on
// success.
func (b *Bot) adminLoginFlow(userID int64) *session.Flow {
	return &session.Flow{
		Name: flowAdminLogin,
		Steps: []session.Step{{
			Field:  "password",
			Prompt: session.Static("Enter the admin password."),
			Accept: func(_ context.Context, d session.Draft, in session.Input) error {
				if b.cfg.CheckAdminPassword(strings.TrimSpace(in.Text)) {
					return nil
				}
				attempts := d.Int("attempts") + 1
				d["attempts"] = attempts
				b.log.Warn("wrong admin password", "user_id", userID, "attempt", attempts)
				if attempts >= maxLoginAttempts {
					return errTooManyAttempts
				}
				return session.Invalid("Wrong password, try again or press Cancel.")
			},
		}},
		Commit: func(ctx context.Context, _ session.Draft) (string, error) {
			if err := b.store.SetAdmin(ctx, userID, true); err != nil {
				return "", err
			}
			return "Access granted.", nil
		},
	}
}
