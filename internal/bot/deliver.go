package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"catalog_bot/internal/metrics"
	"catalog_bot/internal/model"
	"catalog_bot/internal/storage"
)

const msgSendFailed = "Sorry, sending failed. Please try again later."

// DeliveryError reports a message or media send that Telegram rejected.
type DeliveryError struct {
	ChatID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %d: %v", e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// sendPayload sends a stored media reference with a caption and markup.
func (b *Bot) sendPayload(chatID int64, ref string, kind model.PayloadKind, caption string, markup any) error {
	file := tgbotapi.FileID(ref)
	caption = truncate(caption, captionLimit)

	var c tgbotapi.Chattable
	switch kind {
	case model.PayloadPhoto:
		p := tgbotapi.NewPhoto(chatID, file)
		p.Caption = caption
		p.ReplyMarkup = markup
		c = p
	case model.PayloadDocument:
		d := tgbotapi.NewDocument(chatID, file)
		d.Caption = caption
		d.ReplyMarkup = markup
		c = d
	default:
		v := tgbotapi.NewVideo(chatID, file)
		v.Caption = caption
		v.ReplyMarkup = markup
		v.SupportsStreaming = true
		c = v
	}

	if _, err := b.api.Send(c); err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	return nil
}

// deliverItem sends item to userID. The view is counted before sending; the
// download counters move only after Telegram accepted the payload.
func (b *Bot) deliverItem(ctx context.Context, chatID, userID int64, item *model.Item) {
	if err := b.store.IncrementViews(ctx, item.Code); err != nil {
		b.log.Error("increment views", "code", item.Code, "error", err)
	} else {
		item.Views++
	}

	parts, err := b.store.ListParts(ctx, item.Code)
	if err != nil {
		b.log.Error("list parts", "code", item.Code, "error", err)
	}
	favorite, err := b.store.IsFavorite(ctx, userID, item.Code)
	if err != nil {
		b.log.Error("check favorite", "user_id", userID, "code", item.Code, "error", err)
	}

	caption := FormatItemCaption(*item)
	if len(parts) > 0 {
		caption = truncate(caption+fmt.Sprintf("\n\n%d parts, pick one below.", len(parts)), captionLimit)
	}

	err = b.sendPayload(chatID, item.PayloadRef, item.PayloadKind, caption, b.itemKeyboard(*item, favorite, parts))
	b.recordDelivery(ctx, chatID, userID, item.Code, err)
}

func (b *Bot) deliverPart(ctx context.Context, chatID, userID int64, code string, number int) {
	item, err := b.store.GetItem(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("Item %s is no longer available.", code))
		return
	}
	if err != nil {
		b.fail(chatID, "get item", err)
		return
	}

	parts, err := b.store.ListParts(ctx, item.Code)
	if err != nil {
		b.fail(chatID, "list parts", err)
		return
	}
	for _, p := range parts {
		if p.PartNumber != number {
			continue
		}
		err := b.sendPayload(chatID, p.PayloadRef, p.PayloadKind, FormatPartCaption(*item, p), nil)
		b.recordDelivery(ctx, chatID, userID, item.Code, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Part %d of %s was not found.", number, item.Code))
}

func (b *Bot) recordDelivery(ctx context.Context, chatID, userID int64, code string, err error) {
	metrics.Deliveries.WithLabelValues(metrics.Result(err == nil)).Inc()
	if err != nil {
		b.log.Error("deliver item", "user_id", userID, "code", code, "error", err)
		b.reply(chatID, msgSendFailed)
		return
	}

	if err := b.store.IncrementDownloads(ctx, code); err != nil {
		b.log.Error("increment downloads", "code", code, "error", err)
	}
	if err := b.store.IncrementUserDownloads(ctx, userID); err != nil {
		b.log.Error("increment user downloads", "user_id", userID, "error", err)
	}
}
