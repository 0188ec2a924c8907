package bot

import (
	"fmt"
	"net/url"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"catalog_bot/internal/gating"
	"catalog_bot/internal/model"
	"catalog_bot/internal/session"
)

// Main menu labels.
const (
	menuSearch     = "Search"
	menuTop        = "Top"
	menuCategories = "Categories"
	menuFavorites  = "Favorites"
	menuProfile    = "Profile"
	menuHelp       = "Help"
)

const searchPageSize = 10

type adminAction struct {
	Label  string
	Action string
}

// Admin panel actions, two per row.
var adminActions = []adminAction{
	{"Add item", "add_item"}, {"Add part", "add_part"},
	{"Delete item", "delete_item"}, {"Purge item", "purge_item"},
	{"Items", "items"}, {"Statistics", "stats"},
	{"Block user", "block"}, {"Unblock user", "unblock"},
	{"Find user", "user_search"}, {"Users", "users"},
	{"Channels", "channels"}, {"Add channel", "add_channel"},
	{"Delete channel", "delete_channel"}, {"Broadcast", "broadcast"},
	{"Admins", "admins"}, {"Promote admin", "promote"},
	{"Demote admin", "demote"}, {"Categories", "categories"},
	{"Add category", "add_category"}, {"Remove category", "remove_category"},
	{"Welcome message", "set_welcome"},
}

func mainMenu() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(menuSearch), tgbotapi.NewKeyboardButton(menuTop)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(menuCategories), tgbotapi.NewKeyboardButton(menuFavorites)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(menuProfile), tgbotapi.NewKeyboardButton(menuHelp)),
	)
	kb.ResizeKeyboard = true
	return kb
}

// dataButton builds a callback button; ok is false if the data is too long.
func dataButton(label, action string, args ...string) (tgbotapi.InlineKeyboardButton, bool) {
	data, ok := callbackData(action, args...)
	return tgbotapi.NewInlineKeyboardButtonData(label, data), ok
}

// rows lays out buttons n per row.
func rows(buttons []tgbotapi.InlineKeyboardButton, n int) [][]tgbotapi.InlineKeyboardButton {
	var out [][]tgbotapi.InlineKeyboardButton
	for len(buttons) > 0 {
		k := min(n, len(buttons))
		out = append(out, buttons[:k])
		buttons = buttons[k:]
	}
	return out
}

func adminPanel() tgbotapi.InlineKeyboardMarkup {
	var buttons []tgbotapi.InlineKeyboardButton
	for _, a := range adminActions {
		btn, _ := dataButton(a.Label, cbAdmin, a.Action)
		buttons = append(buttons, btn)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows(buttons, 2)}
}

func (b *Bot) shareURL(code string) string {
	link := fmt.Sprintf("https://t.me/%s?start=%s", b.username, code)
	return "https://t.me/share/url?url=" + url.QueryEscape(link)
}

// itemKeyboard holds the actions shown under a delivered item.
func (b *Bot) itemKeyboard(item model.Item, favorite bool, parts []model.ItemPart) tgbotapi.InlineKeyboardMarkup {
	favLabel := "Add to favorites"
	if favorite {
		favLabel = "Remove from favorites"
	}

	var kb [][]tgbotapi.InlineKeyboardButton
	var partButtons []tgbotapi.InlineKeyboardButton
	for _, p := range parts {
		if btn, ok := dataButton(strconv.Itoa(p.PartNumber), cbPart, item.Code, strconv.Itoa(p.PartNumber)); ok {
			partButtons = append(partButtons, btn)
		}
	}
	kb = append(kb, rows(partButtons, 5)...)

	var actions []tgbotapi.InlineKeyboardButton
	if btn, ok := dataButton(favLabel, cbFavorite, item.Code); ok {
		actions = append(actions, btn)
	}
	if btn, ok := dataButton("Rate", cbRate, item.Code); ok {
		actions = append(actions, btn)
	}
	if len(actions) > 0 {
		kb = append(kb, actions)
	}
	// Codes outside the deep-link alphabet cannot be opened from a link.
	if b.username != "" && model.LinkableCode(item.Code) {
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Share", b.shareURL(item.Code))))
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: kb}
}

func ratingKeyboard(code string) tgbotapi.InlineKeyboardMarkup {
	var stars []tgbotapi.InlineKeyboardButton
	for v := 1; v <= 5; v++ {
		btn, _ := dataButton(strconv.Itoa(v), cbRateSet, code, strconv.Itoa(v))
		stars = append(stars, btn)
	}
	cancel, _ := dataButton("Cancel", cbNoop)
	return tgbotapi.NewInlineKeyboardMarkup(stars, tgbotapi.NewInlineKeyboardRow(cancel))
}

// listKeyboard offers one button per item, numbered from offset+1.
func listKeyboard(items []model.Item, offset int) [][]tgbotapi.InlineKeyboardButton {
	var buttons []tgbotapi.InlineKeyboardButton
	for i, it := range items {
		if btn, ok := dataButton(strconv.Itoa(offset+i+1), cbGet, it.Code); ok {
			buttons = append(buttons, btn)
		}
	}
	return rows(buttons, 5)
}

func searchKeyboard(items []model.Item, total, page int) tgbotapi.InlineKeyboardMarkup {
	kb := listKeyboard(items, page*searchPageSize)

	var nav []tgbotapi.InlineKeyboardButton
	if page > 0 {
		btn, _ := dataButton("Previous", cbSearchPg, strconv.Itoa(page-1))
		nav = append(nav, btn)
	}
	if (page+1)*searchPageSize < total {
		btn, _ := dataButton("Next", cbSearchPg, strconv.Itoa(page+1))
		nav = append(nav, btn)
	}
	if len(nav) > 0 {
		kb = append(kb, nav)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: kb}
}

func categoryKeyboard(names []string) tgbotapi.InlineKeyboardMarkup {
	var buttons []tgbotapi.InlineKeyboardButton
	for i, n := range names {
		btn, _ := dataButton(n, cbCategory, strconv.Itoa(i))
		buttons = append(buttons, btn)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows(buttons, 2)}
}

// gateKeyboard links every outstanding channel and offers a re-check that
// resumes code, if any.
func gateKeyboard(outstanding []model.Channel, code string) tgbotapi.InlineKeyboardMarkup {
	var kb [][]tgbotapi.InlineKeyboardButton
	for _, ch := range outstanding {
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(ch.Name, gating.JoinURL(ch.URL)),
		))
	}
	check, ok := dataButton("I have joined", cbGate, code)
	if !ok {
		check, _ = dataButton("I have joined", cbGate)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: append(kb, tgbotapi.NewInlineKeyboardRow(check))}
}

// promptKeyboard renders a session prompt's choices plus a cancel button.
// Choices whose value cannot fit into callback data are left out; they can
// still be typed.
func promptKeyboard(p session.Prompt) tgbotapi.InlineKeyboardMarkup {
	var buttons []tgbotapi.InlineKeyboardButton
	for _, c := range p.Choices {
		if btn, ok := dataButton(c.Label, cbInput, c.Value); ok {
			buttons = append(buttons, btn)
		}
	}
	kb := rows(buttons, 3)
	cancel, _ := dataButton("Cancel", cbCancel)
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: append(kb, tgbotapi.NewInlineKeyboardRow(cancel))}
}
