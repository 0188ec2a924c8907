package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"

	"catalog_bot/internal/storage"
)

type sentMessage struct {
	ChatID int64
	Text   string
}

type mockSender struct {
	mu       sync.Mutex
	messages []sentMessage
	fail     map[int64]bool
	onSend   func(chatID int64)
}

func (m *mockSender) SendText(_ context.Context, chatID int64, text string) error {
	m.mu.Lock()
	m.messages = append(m.messages, sentMessage{ChatID: chatID, Text: text})
	fail := m.fail[chatID]
	m.mu.Unlock()

	if m.onSend != nil {
		m.onSend(chatID)
	}
	if fail {
		return errors.New("Forbidden: bot was blocked by the user")
	}
	return nil
}

func (m *mockSender) getMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]sentMessage, len(m.messages))
	copy(cp, m.messages)
	return cp
}

type staticRecipients struct {
	ids []int64
	err error
}

func (r staticRecipients) ListRecipients(context.Context) ([]int64, error) {
	return r.ids, r.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunContinuesOnError(t *testing.T) {
	sender := &mockSender{fail: map[int64]bool{2: true, 4: true}}
	b := New(staticRecipients{ids: []int64{1, 2, 3, 4, 5}}, sender, discard(), 0)

	report, err := b.Run(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := Report{Total: 5, Sent: 3, Failed: 2}
	if diff := cmp.Diff(want, report, cmpopts.IgnoreFields(Report{}, "RunID")); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	if _, err := uuid.Parse(report.RunID); err != nil {
		t.Errorf("RunID %q is not a uuid: %v", report.RunID, err)
	}

	var chats []int64
	for _, m := range sender.getMessages() {
		chats = append(chats, m.ChatID)
		if m.Text != "hello" {
			t.Errorf("text = %q, want hello", m.Text)
		}
	}
	if diff := cmp.Diff([]int64{1, 2, 3, 4, 5}, chats); diff != "" {
		t.Errorf("delivery order mismatch (-want +got):\n%s", diff)
	}
}

func TestRunProgress(t *testing.T) {
	ids := make([]int64, 25)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	b := New(staticRecipients{ids: ids}, &mockSender{}, discard(), 0)

	var seen []int
	report, err := b.Run(context.Background(), "x", func(r Report) {
		seen = append(seen, r.Done())
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]int{10, 20}, seen); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	if report.Sent != 25 {
		t.Errorf("Sent = %d, want 25", report.Sent)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &mockSender{}
	sender.onSend = func(chatID int64) {
		if chatID == 2 {
			cancel()
		}
	}
	b := New(staticRecipients{ids: []int64{1, 2, 3, 4}}, sender, discard(), 0)

	report, err := b.Run(ctx, "x", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if report.Sent != 2 || report.Total != 4 {
		t.Errorf("report = %+v, want 2 of 4 sent", report)
	}
}

func TestRunRecipientsFault(t *testing.T) {
	b := New(staticRecipients{err: errors.New("disk I/O error")}, &mockSender{}, discard(), 0)

	if _, err := b.Run(context.Background(), "x", nil); err == nil {
		t.Fatal("expected error")
	}
	if b.Running() {
		t.Error("broadcaster still marked running")
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	sender := &mockSender{}
	sender.onSend = func(int64) {
		close(started)
		<-release
	}
	b := New(staticRecipients{ids: []int64{1}}, sender, discard(), 0)

	done := make(chan error, 1)
	go func() {
		_, err := b.Run(context.Background(), "first", nil)
		done <- err
	}()
	<-started

	if _, err := b.Run(context.Background(), "second", nil); !errors.Is(err, ErrBusy) {
		t.Errorf("second Run: got %v, want ErrBusy", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("first Run: %v", err)
	}
}

func TestRunSkipsBlockedUsers(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	for _, id := range []int64{10, 20, 30} {
		if err := store.UpsertUser(ctx, id, "u", ""); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := store.SetBlocked(ctx, 20, true); err != nil {
		t.Fatalf("block: %v", err)
	}

	sender := &mockSender{}
	report, err := New(store, sender, discard(), 0).Run(ctx, "news", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []sentMessage{{ChatID: 10, Text: "news"}, {ChatID: 30, Text: "news"}}
	if diff := cmp.Diff(want, sender.getMessages()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if report.Total != 2 {
		t.Errorf("Total = %d, want 2", report.Total)
	}
}
