package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"catalog_bot/internal/broadcast"
	"catalog_bot/internal/config"
	"catalog_bot/internal/gating"
	"catalog_bot/internal/session"
	"catalog_bot/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot is the Telegram front-end of the catalog.
type Bot struct {
	api      telegramAPI
	store    storage.Storage
	cfg      *config.Config
	gate     *gating.Evaluator
	sessions *session.Engine
	flows    *session.Flows
	caster   *broadcast.Broadcaster
	disp     *dispatcher
	log      *slog.Logger
	username string
	now      func() time.Time

	// searches remembers each user's last item search for paging.
	mu       sync.Mutex
	searches map[int64]string

	// bg tracks broadcasts running in the background.
	bg sync.WaitGroup
}

// New creates a Bot with the given Telegram token, storage, and config.
// cache may be nil to disable membership caching.
func New(token string, store storage.Storage, cfg *config.Config, cache gating.Cache, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	b := newBot(api, store, cfg, cache, log)
	b.username = api.Self.UserName
	return b, nil
}

func newBot(api telegramAPI, store storage.Storage, cfg *config.Config, cache gating.Cache, log *slog.Logger) *Bot {
	b := &Bot{
		api:      api,
		store:    store,
		cfg:      cfg,
		gate:     gating.NewEvaluator(store, NewMembershipChecker(api), cache, log),
		sessions: session.NewEngine(),
		flows:    session.NewFlows(store),
		log:      log,
		now:      time.Now,
		searches: make(map[int64]string),
	}
	b.caster = broadcast.New(store, b, log, cfg.BroadcastDelay)
	b.disp = newDispatcher(cfg.Workers, b.handleUpdate, log)
	return b
}

// Run handles updates until ctx is cancelled. Without a webhook URL it
// long-polls Telegram; otherwise it registers the webhook and serves
// updates passed to HandleUpdate.
func (b *Bot) Run(ctx context.Context) error {
	done := b.disp.start(ctx)
	defer func() {
		<-done
		b.bg.Wait()
	}()

	if b.cfg.WebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(b.cfg.WebhookURL)
		if err != nil {
			return fmt.Errorf("webhook config: %w", err)
		}
		if _, err := b.api.Request(wh); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		b.log.Info("webhook registered", "url", b.cfg.WebhookURL)
		<-ctx.Done()
		return nil
	}

	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.log.Warn("delete webhook", "error", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := b.disp.dispatch(ctx, update); err != nil {
				return nil
			}
		}
	}
}

// HandleUpdate queues an update received over the webhook.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	return b.disp.dispatch(ctx, update)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	for _, part := range SplitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send message", "chat_id", chatID, "error", err)
			return
		}
	}
}

// SendText implements broadcast.Sender.
func (b *Bot) SendText(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	return nil
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) replyWithMarkup(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = markup
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

// answer acknowledges a callback query, optionally with a toast.
func (b *Bot) answer(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
}

func (b *Bot) rememberSearch(userID int64, query string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.searches[userID] = query
}

func (b *Bot) lastSearch(userID int64) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.searches[userID]
	return q, ok
}
