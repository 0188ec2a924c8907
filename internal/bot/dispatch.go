package bot

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"catalog_bot/internal/metrics"
)

const shardQueue = 64

// dispatcher fans updates out to a fixed set of workers keyed by sender, so
// one user's updates are handled in order while different users proceed in
// parallel.
type dispatcher struct {
	shards []chan tgbotapi.Update
	handle func(context.Context, tgbotapi.Update)
	log    *slog.Logger
}

func newDispatcher(workers int, handle func(context.Context, tgbotapi.Update), log *slog.Logger) *dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &dispatcher{
		shards: make([]chan tgbotapi.Update, workers),
		handle: handle,
		log:    log,
	}
	for i := range d.shards {
		d.shards[i] = make(chan tgbotapi.Update, shardQueue)
	}
	return d
}

// start runs one worker per shard until ctx is cancelled. The returned
// channel is closed once every worker has exited.
func (d *dispatcher) start(ctx context.Context) <-chan struct{} {
	var wg sync.WaitGroup
	for _, ch := range d.shards {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case u := <-ch:
					d.safeHandle(ctx, u)
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// dispatch queues u on its sender's shard, blocking while the shard is full.
func (d *dispatcher) dispatch(ctx context.Context, u tgbotapi.Update) error {
	ch := d.shards[shardOf(senderID(u), len(d.shards))]
	select {
	case ch <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *dispatcher) safeHandle(ctx context.Context, u tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.Inc()
			d.log.Error("handler panic", "update_id", u.UpdateID, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	d.handle(ctx, u)
}

func senderID(u tgbotapi.Update) int64 {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID
	}
	return 0
}

func shardOf(id int64, n int) int {
	return int(uint64(id) % uint64(n))
}
