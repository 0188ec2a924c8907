package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"catalog_bot/internal/metrics"
	"catalog_bot/internal/model"
	"catalog_bot/internal/session"
	"catalog_bot/internal/storage"
)

const (
	msgGenericError = "Something went wrong. Please try again later."
	msgBlocked      = "You have been blocked by the administrators."
	msgGate         = "To use the bot, join the channels below and press \"I have joined\"."
	topLimit        = 10
	categoryLimit   = 20
	listLimit       = 20
)

const helpText = `How to use the bot:

Send an item code (for example A1B2) to receive it.
Search - find items by title or code
Top - the most viewed items
Categories - browse by category
Favorites - items you saved
Profile - your statistics

/start - main menu
/channels - channels to join
/cancel - abort the current form
/help - this message`

func (b *Bot) handleUpdate(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.CallbackQuery != nil:
		metrics.UpdatesTotal.WithLabelValues("callback").Inc()
		defer metrics.Track("callback")()
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		metrics.UpdatesTotal.WithLabelValues("message").Inc()
		defer metrics.Track("message")()
		b.handleMessage(ctx, u.Message)
	}
}

// register records the sender and returns their stored profile.
func (b *Bot) register(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	if err := b.store.UpsertUser(ctx, from.ID, fullName(from), from.UserName); err != nil {
		return nil, err
	}
	if err := b.store.TouchUserActivity(ctx, from.ID); err != nil {
		return nil, err
	}
	return b.store.GetUser(ctx, from.ID)
}

func (b *Bot) isAdmin(u *model.User) bool {
	return u.IsAdmin || b.cfg.IsAdminID(u.ID)
}

// fail logs a storage fault and tells the user something went wrong.
func (b *Bot) fail(chatID int64, op string, err error) {
	b.log.Error(op, "chat_id", chatID, "error", err)
	b.reply(chatID, msgGenericError)
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || !msg.Chat.IsPrivate() {
		return
	}
	chatID := msg.Chat.ID

	user, err := b.register(ctx, msg.From)
	if err != nil {
		b.fail(chatID, "register user", err)
		return
	}
	if user.IsBlocked && !b.cfg.IsAdminID(user.ID) {
		b.reply(chatID, msgBlocked)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, user)
		return
	}

	if flow, ok := b.sessions.Active(user.ID); ok {
		if flow == flowAdminLogin {
			b.deleteMessage(chatID, msg.MessageID)
		}
		b.continueSession(ctx, chatID, user, InputFromMessage(msg))
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch text {
	case "":
		b.reply(chatID, "Send an item code or use the menu.")
	case menuSearch:
		b.withGate(ctx, chatID, user, "", func() { b.beginSession(ctx, chatID, user, session.Search()) })
	case menuTop:
		b.withGate(ctx, chatID, user, "", func() { b.handleTop(ctx, chatID) })
	case menuCategories:
		b.withGate(ctx, chatID, user, "", func() { b.handleCategories(ctx, chatID) })
	case menuFavorites:
		b.withGate(ctx, chatID, user, "", func() { b.handleFavorites(ctx, chatID, user.ID) })
	case menuProfile:
		b.handleProfile(ctx, chatID, user)
	case menuHelp:
		b.handleHelp(chatID)
	default:
		b.handleCode(ctx, chatID, user, text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *model.User) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "user_id", user.ID)

	// Any command abandons the form in progress.
	cancelled := b.sessions.Cancel(user.ID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID, user, ParseStartCode(args))
	case "help":
		b.handleHelp(chatID)
	case "channels":
		b.handleChannels(ctx, chatID)
	case "cancel":
		if cancelled {
			b.replyWithMarkup(chatID, "Cancelled.", mainMenu())
		} else {
			b.replyWithMarkup(chatID, "Nothing to cancel.", mainMenu())
		}
	case "admin":
		b.handleAdmin(ctx, chatID, user)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func (b *Bot) handleStart(ctx context.Context, chatID int64, user *model.User, code string) {
	if !b.isAdmin(user) {
		res := b.gate.Evaluate(ctx, user.ID)
		if !res.Passed {
			b.replyWithMarkup(chatID, msgGate, gateKeyboard(res.Outstanding, code))
			return
		}
	}

	if code != "" {
		b.sendItem(ctx, chatID, user.ID, code)
		return
	}

	welcome, err := b.store.GetSetting(ctx, storage.SettingWelcomeMessage, "Welcome!")
	if err != nil {
		b.log.Error("get welcome message", "error", err)
	}
	b.replyWithMarkup(chatID, welcome+"\n\nSend an item code or use the menu below.", mainMenu())
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, helpText)
}

func (b *Bot) handleChannels(ctx context.Context, chatID int64) {
	channels, err := b.store.ListChannels(ctx, true)
	if err != nil {
		b.fail(chatID, "list channels", err)
		return
	}
	if len(channels) == 0 {
		b.reply(chatID, "There are no channels to join.")
		return
	}
	b.replyWithMarkup(chatID, "Our channels:", gateKeyboard(channels, ""))
}

// withGate runs fn if the user passes gating, otherwise shows the channels to
// join. code is resumed by the re-check button.
func (b *Bot) withGate(ctx context.Context, chatID int64, user *model.User, code string, fn func()) {
	if !b.isAdmin(user) {
		if res := b.gate.Evaluate(ctx, user.ID); !res.Passed {
			b.replyWithMarkup(chatID, msgGate, gateKeyboard(res.Outstanding, code))
			return
		}
	}
	fn()
}

func (b *Bot) handleCode(ctx context.Context, chatID int64, user *model.User, text string) {
	code := model.NormalizeCode(text)
	if strings.ContainsAny(code, " \n\t") {
		b.reply(chatID, "Send an item code or use the menu.")
		return
	}
	b.withGate(ctx, chatID, user, code, func() { b.sendItem(ctx, chatID, user.ID, code) })
}

func (b *Bot) sendItem(ctx context.Context, chatID, userID int64, code string) {
	item, err := b.store.GetItem(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("No item with code %s.", model.NormalizeCode(code)))
		return
	}
	if err != nil {
		b.fail(chatID, "get item", err)
		return
	}
	b.deliverItem(ctx, chatID, userID, item)
}

func (b *Bot) handleTop(ctx context.Context, chatID int64) {
	items, err := b.store.TopItems(ctx, topLimit)
	if err != nil {
		b.fail(chatID, "top items", err)
		return
	}
	b.replyWithMarkup(chatID, FormatItemList("Top items:", items, 0),
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: listKeyboard(items, 0)})
}

func (b *Bot) handleCategories(ctx context.Context, chatID int64) {
	names, err := b.store.ListCategories(ctx)
	if err != nil {
		b.fail(chatID, "list categories", err)
		return
	}
	if len(names) == 0 {
		b.reply(chatID, "No categories yet.")
		return
	}
	b.replyWithMarkup(chatID, "Pick a category:", categoryKeyboard(names))
}

func (b *Bot) handleCategory(ctx context.Context, chatID int64, name string) {
	items, err := b.store.ListByCategory(ctx, name, categoryLimit)
	if err != nil {
		b.fail(chatID, "list by category", err)
		return
	}
	b.replyWithMarkup(chatID, FormatItemList(name+":", items, 0),
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: listKeyboard(items, 0)})
}

func (b *Bot) handleFavorites(ctx context.Context, chatID, userID int64) {
	items, err := b.store.ListFavorites(ctx, userID)
	if err != nil {
		b.fail(chatID, "list favorites", err)
		return
	}
	b.replyWithMarkup(chatID, FormatItemList("Your favorites:", items, 0),
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: listKeyboard(items, 0)})
}

func (b *Bot) handleProfile(ctx context.Context, chatID int64, user *model.User) {
	favorites, err := b.store.ListFavorites(ctx, user.ID)
	if err != nil {
		b.fail(chatID, "list favorites", err)
		return
	}
	b.reply(chatID, FormatProfile(*user, len(favorites)))
}

func (b *Bot) showSearch(ctx context.Context, chatID, userID int64, query string, page int) {
	items, total, err := b.store.SearchItems(ctx, query, searchPageSize, page*searchPageSize)
	if err != nil {
		b.fail(chatID, "search items", err)
		return
	}
	b.rememberSearch(userID, query)
	b.replyWithMarkup(chatID, FormatSearchPage(query, items, total, page), searchKeyboard(items, total, page))
}

func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.log.Debug("delete message", "chat_id", chatID, "error", err)
	}
}
