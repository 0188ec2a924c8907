package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"catalog_bot/internal/broadcast"
	"catalog_bot/internal/model"
	"catalog_bot/internal/session"
	"catalog_bot/internal/storage"
)

const msgAccessDenied = "Access denied."

func (b *Bot) handleAdmin(ctx context.Context, chatID int64, user *model.User) {
	switch {
	case b.isAdmin(user):
		b.showAdminPanel(chatID)
	case b.cfg.PasswordEnabled():
		b.beginSession(ctx, chatID, user, b.adminLoginFlow(user.ID))
	default:
		b.log.Warn("admin panel denied", "user_id", user.ID)
		b.reply(chatID, msgAccessDenied)
	}
}

func (b *Bot) showAdminPanel(chatID int64) {
	b.replyWithMarkup(chatID, "Admin panel", adminPanel())
}

// adminFlow returns the form behind an admin panel action, or nil if the
// action is a plain listing.
func (b *Bot) adminFlow(action string, user *model.User) *session.Flow {
	switch action {
	case "add_item":
		return b.flows.AddItem(user.ID)
	case "add_part":
		return b.flows.AddPart()
	case "delete_item":
		return b.flows.DeleteItem()
	case "purge_item":
		return b.flows.PurgeItem()
	case "block":
		return b.flows.SetBlocked(true)
	case "unblock":
		return b.flows.SetBlocked(false)
	case "user_search":
		return session.UserSearch()
	case "add_channel":
		return b.flows.AddChannel(user.ID)
	case "delete_channel":
		return b.flows.DeleteChannel()
	case "broadcast":
		return session.Broadcast()
	case "promote":
		return b.flows.PromoteAdmin()
	case "demote":
		return b.flows.DemoteAdmin()
	case "add_category":
		return b.flows.AddCategory()
	case "remove_category":
		return b.flows.RemoveCategory()
	case "set_welcome":
		return b.flows.SetWelcome()
	}
	return nil
}

func (b *Bot) handleAdminAction(ctx context.Context, chatID int64, user *model.User, action string) {
	if !b.isAdmin(user) {
		b.log.Warn("admin action denied", "user_id", user.ID, "action", action)
		b.reply(chatID, msgAccessDenied)
		return
	}
	b.log.Info("admin action", "user_id", user.ID, "action", action)

	if flow := b.adminFlow(action, user); flow != nil {
		if flow.Name == session.FlowBroadcast && b.caster.Running() {
			b.reply(chatID, "A broadcast is already running.")
			return
		}
		b.beginSession(ctx, chatID, user, flow)
		return
	}

	switch action {
	case "items":
		items, total, err := b.store.ListItems(ctx, listLimit, 0)
		if err != nil {
			b.fail(chatID, "list items", err)
			return
		}
		b.reply(chatID, FormatItemList(fmt.Sprintf("Items (%d total):", total), items, 0))
	case "stats":
		st, err := b.store.Statistics(ctx, b.now())
		if err != nil {
			b.fail(chatID, "statistics", err)
			return
		}
		b.reply(chatID, FormatStatistics(st))
	case "users":
		users, err := b.store.ListUsers(ctx, listLimit)
		if err != nil {
			b.fail(chatID, "list users", err)
			return
		}
		b.reply(chatID, FormatUserList("Recent users:", users))
	case "channels":
		channels, err := b.store.ListChannels(ctx, false)
		if err != nil {
			b.fail(chatID, "list channels", err)
			return
		}
		b.reply(chatID, FormatChannelList(channels))
	case "admins":
		admins, err := b.admins(ctx)
		if err != nil {
			b.fail(chatID, "list admins", err)
			return
		}
		b.reply(chatID, FormatUserList("Admins:", admins))
	case "categories":
		names, err := b.store.ListCategories(ctx)
		if err != nil {
			b.fail(chatID, "list categories", err)
			return
		}
		if len(names) == 0 {
			b.reply(chatID, "No categories yet.")
			return
		}
		b.reply(chatID, "Categories:\n\n"+strings.Join(names, "\n"))
	default:
		b.reply(chatID, "Unknown action.")
	}
}

// admins merges stored admins with the ids granted by configuration.
func (b *Bot) admins(ctx context.Context) ([]model.User, error) {
	admins, err := b.store.ListAdmins(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(admins))
	for _, a := range admins {
		seen[a.ID] = true
	}
	for _, id := range b.cfg.AdminIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		u, err := b.store.GetUser(ctx, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			admins = append(admins, model.User{ID: id, IsAdmin: true})
		case err != nil:
			return nil, err
		default:
			u.IsAdmin = true
			admins = append(admins, *u)
		}
	}
	return admins, nil
}

func (b *Bot) showUserSearch(ctx context.Context, chatID int64, query string) {
	query = strings.TrimSpace(query)
	if id, err := strconv.ParseInt(query, 10, 64); err == nil {
		u, err := b.store.GetUser(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("No user with id %d.", id))
			return
		}
		if err != nil {
			b.fail(chatID, "get user", err)
			return
		}
		b.reply(chatID, FormatUserList("User:", []model.User{*u}))
		return
	}

	users, err := b.store.SearchUsers(ctx, query, listLimit)
	if err != nil {
		b.fail(chatID, "search users", err)
		return
	}
	b.reply(chatID, FormatUserList(fmt.Sprintf("Users matching %q:", query), users))
}

// startBroadcast sends text to every recipient in the background, editing a
// status message as deliveries progress.
func (b *Bot) startBroadcast(ctx context.Context, chatID int64, text string) {
	status, err := b.api.Send(tgbotapi.NewMessage(chatID, "Broadcast starting..."))
	if err != nil {
		b.log.Error("send broadcast status", "chat_id", chatID, "error", err)
	}

	edit := func(s string) {
		if status.MessageID == 0 {
			b.reply(chatID, s)
			return
		}
		if _, err := b.api.Request(tgbotapi.NewEditMessageText(chatID, status.MessageID, s)); err != nil {
			b.log.Debug("edit broadcast status", "error", err)
		}
	}

	b.bg.Add(1)
	go func() {
		defer b.bg.Done()

		report, err := b.caster.Run(ctx, text, func(r broadcast.Report) {
			if status.MessageID != 0 {
				edit(FormatReport(r, false))
			}
		})
		switch {
		case errors.Is(err, broadcast.ErrBusy):
			edit("A broadcast is already running.")
		case err != nil && report.Total == 0:
			b.log.Error("broadcast", "error", err)
			edit(msgGenericError)
		default:
			if err != nil {
				b.log.Warn("broadcast interrupted", "run_id", report.RunID, "error", err)
			}
			edit(FormatReport(report, true))
		}
	}()
}
