package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"catalog_bot/internal/model"
	"catalog_bot/internal/session"
	"catalog_bot/internal/storage"
)

const (
	msgItemGone      = "This item is no longer available."
	msgStillOutside  = "You have not joined all channels yet."
	msgSearchExpired = "This search has expired, start a new one."
)

// handleCallback routes an inline-button press. Every query is answered
// exactly once, with the toast left in toast when the handler returns.
func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	toast := ""
	defer func() { b.answer(cb, toast) }()

	if cb.From == nil || cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	msgID := cb.Message.MessageID

	user, err := b.register(ctx, cb.From)
	if err != nil {
		b.log.Error("register user", "user_id", cb.From.ID, "error", err)
		toast = msgGenericError
		return
	}
	if user.IsBlocked && !b.cfg.IsAdminID(user.ID) {
		toast = msgBlocked
		return
	}

	c := ParseCallback(cb.Data)
	b.log.Debug("callback", "action", c.Action, "arg", c.Arg, "user_id", user.ID)

	switch c.Action {
	case cbNoop:
		b.deleteMessage(chatID, msgID)

	case cbCancel:
		if b.sessions.Cancel(user.ID) {
			toast = "Cancelled."
		}
		b.deleteMessage(chatID, msgID)

	case cbInput:
		b.continueSession(ctx, chatID, user, session.Input{Choice: c.Arg})

	case cbGet:
		code := model.NormalizeCode(c.Arg)
		b.withGate(ctx, chatID, user, code, func() { b.sendItem(ctx, chatID, user.ID, code) })

	case cbPart:
		code, n, err := ParseCodeNumber(c.Arg)
		if err != nil {
			b.log.Warn("bad part callback", "data", cb.Data, "error", err)
			return
		}
		b.withGate(ctx, chatID, user, code, func() { b.deliverPart(ctx, chatID, user.ID, code, n) })

	case cbFavorite:
		toast = b.toggleFavorite(ctx, chatID, msgID, user.ID, c.Arg)

	case cbRate:
		b.askRating(ctx, chatID, user.ID, c.Arg)

	case cbRateSet:
		toast = b.setRating(ctx, chatID, msgID, user.ID, c.Arg)

	case cbSearchPg:
		page, err := strconv.Atoi(c.Arg)
		if err != nil || page < 0 {
			return
		}
		query, ok := b.lastSearch(user.ID)
		if !ok {
			toast = msgSearchExpired
			return
		}
		b.showSearch(ctx, chatID, user.ID, query, page)

	case cbCategory:
		toast = b.openCategory(ctx, chatID, user, c.Arg)

	case cbGate:
		if res := b.gate.Evaluate(ctx, user.ID); !res.Passed {
			toast = msgStillOutside
			return
		}
		b.deleteMessage(chatID, msgID)
		b.handleStart(ctx, chatID, user, model.NormalizeCode(c.Arg))

	case cbAdmin:
		b.handleAdminAction(ctx, chatID, user, c.Arg)

	default:
		b.log.Warn("unknown callback", "data", cb.Data)
	}
}

// toggleFavorite flips the favorite flag and refreshes the item keyboard.
func (b *Bot) toggleFavorite(ctx context.Context, chatID int64, msgID int, userID int64, code string) string {
	code = model.NormalizeCode(code)
	favorite, err := b.store.IsFavorite(ctx, userID, code)
	if err != nil {
		b.log.Error("check favorite", "user_id", userID, "code", code, "error", err)
		return msgGenericError
	}

	toast := "Removed from favorites."
	if favorite {
		err = b.store.RemoveFavorite(ctx, userID, code)
	} else {
		toast = "Added to favorites."
		err = b.store.AddFavorite(ctx, userID, code)
		if err == nil {
			if err := b.store.IncrementLikes(ctx, code); err != nil {
				b.log.Error("increment likes", "code", code, "error", err)
			}
		}
	}
	if errors.Is(err, storage.ErrNotFound) {
		return msgItemGone
	}
	if err != nil {
		b.log.Error("toggle favorite", "user_id", userID, "code", code, "error", err)
		return msgGenericError
	}

	item, err := b.store.GetItem(ctx, code)
	if err != nil {
		return toast
	}
	parts, err := b.store.ListParts(ctx, code)
	if err != nil {
		b.log.Error("list parts", "code", code, "error", err)
	}
	markup := tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, b.itemKeyboard(*item, !favorite, parts))
	if _, err := b.api.Request(markup); err != nil {
		b.log.Debug("edit item keyboard", "error", err)
	}
	return toast
}

func (b *Bot) askRating(ctx context.Context, chatID, userID int64, code string) {
	code = model.NormalizeCode(code)
	text := fmt.Sprintf("Rate %s from 1 to 5:", code)

	current, err := b.store.RatingOf(ctx, userID, code)
	switch {
	case err == nil:
		text += fmt.Sprintf("\nYour current rating: %d.", current)
	case !errors.Is(err, storage.ErrNotFound):
		b.log.Error("get rating", "user_id", userID, "code", code, "error", err)
	}
	b.replyWithMarkup(chatID, text, ratingKeyboard(code))
}

func (b *Bot) setRating(ctx context.Context, chatID int64, msgID int, userID int64, arg string) string {
	code, value, err := ParseCodeNumber(arg)
	if err != nil {
		b.log.Warn("bad rating callback", "arg", arg, "error", err)
		return ""
	}

	err = b.store.UpsertRating(ctx, userID, code, value)
	switch {
	case errors.Is(err, storage.ErrInvalidArgument):
		return "Ratings go from 1 to 5."
	case errors.Is(err, storage.ErrNotFound):
		return msgItemGone
	case err != nil:
		b.log.Error("upsert rating", "user_id", userID, "code", code, "error", err)
		return msgGenericError
	}

	text := fmt.Sprintf("Thanks! You rated %s %d/5.", model.NormalizeCode(code), value)
	if _, err := b.api.Request(tgbotapi.NewEditMessageText(chatID, msgID, text)); err != nil {
		b.log.Debug("edit rating message", "error", err)
	}
	return "Rating saved."
}

// openCategory resolves a category button by its position in the current
// list.
func (b *Bot) openCategory(ctx context.Context, chatID int64, user *model.User, arg string) string {
	i, err := strconv.Atoi(arg)
	if err != nil {
		return ""
	}
	names, err := b.store.ListCategories(ctx)
	if err != nil {
		b.log.Error("list categories", "error", err)
		return msgGenericError
	}
	if i < 0 || i >= len(names) {
		return "This category no longer exists."
	}
	b.withGate(ctx, chatID, user, "", func() { b.handleCategory(ctx, chatID, names[i]) })
	return ""
}
