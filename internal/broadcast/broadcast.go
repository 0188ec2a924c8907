// Package broadcast delivers one message to every non-blocked user.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"catalog_bot/internal/metrics"
)

// ErrBusy is returned by Run while another broadcast is in progress.
var ErrBusy = errors.New("broadcast already running")

// progressEvery is how many deliveries pass between progress callbacks.
const progressEvery = 10

// Sender delivers a text message to a single user.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Recipients lists the users a broadcast goes to.
type Recipients interface {
	ListRecipients(ctx context.Context) ([]int64, error)
}

// Report summarises a broadcast run.
type Report struct {
	RunID  string
	Total  int
	Sent   int
	Failed int
}

// Done returns how many deliveries were attempted.
func (r Report) Done() int {
	return r.Sent + r.Failed
}

// Broadcaster sends messages sequentially with a fixed delay between them.
type Broadcaster struct {
	recipients Recipients
	sender     Sender
	log        *slog.Logger
	delay      time.Duration
	running    atomic.Bool
}

// New creates a Broadcaster. delay is the pause after each delivery; Telegram
// allows roughly 30 messages per second per bot.
func New(recipients Recipients, sender Sender, log *slog.Logger, delay time.Duration) *Broadcaster {
	return &Broadcaster{
		recipients: recipients,
		sender:     sender,
		log:        log,
		delay:      delay,
	}
}

// Running reports whether a broadcast is in progress.
func (b *Broadcaster) Running() bool {
	return b.running.Load()
}

// Run sends text to every recipient. A failed delivery is counted and the
// run continues. progress, if non-nil, is called every few deliveries.
// Run stops early only when ctx is cancelled, returning the partial report.
func (b *Broadcaster) Run(ctx context.Context, text string, progress func(Report)) (Report, error) {
	if !b.running.CompareAndSwap(false, true) {
		return Report{}, ErrBusy
	}
	defer b.running.Store(false)

	report := Report{RunID: uuid.NewString()}

	ids, err := b.recipients.ListRecipients(ctx)
	if err != nil {
		return report, fmt.Errorf("list recipients: %w", err)
	}
	report.Total = len(ids)

	log := b.log.With("run_id", report.RunID)
	log.Info("broadcast started", "recipients", report.Total)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			log.Warn("broadcast interrupted", "sent", report.Sent, "failed", report.Failed)
			return report, err
		}

		if err := b.sender.SendText(ctx, id, text); err != nil {
			log.Debug("broadcast delivery failed", "chat_id", id, "error", err)
			report.Failed++
		} else {
			report.Sent++
		}
		metrics.BroadcastMessages.WithLabelValues(metrics.Result(err == nil)).Inc()

		if progress != nil && report.Done()%progressEvery == 0 && report.Done() < report.Total {
			progress(report)
		}

		if b.delay > 0 {
			t := time.NewTimer(b.delay)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}

	log.Info("broadcast finished", "sent", report.Sent, "failed", report.Failed)
	return report, nil
}
