package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type recordingHandler struct {
	got []tgbotapi.Update
	err error
}

func (h *recordingHandler) HandleUpdate(_ context.Context, u tgbotapi.Update) error {
	h.got = append(h.got, u)
	return h.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name     string
		checks   map[string]Pinger
		wantCode int
		want     healthResponse
	}{
		{
			name:     "no checks",
			wantCode: http.StatusOK,
			want:     healthResponse{Status: "ok"},
		},
		{
			name:     "all healthy",
			checks:   map[string]Pinger{"database": ok, "redis": ok},
			wantCode: http.StatusOK,
			want:     healthResponse{Status: "ok", Checks: map[string]string{"database": "ok", "redis": "ok"}},
		},
		{
			name:     "redis down",
			checks:   map[string]Pinger{"database": ok, "redis": down},
			wantCode: http.StatusServiceUnavailable,
			want: healthResponse{Status: "unavailable", Checks: map[string]string{
				"database": "ok", "redis": "connection refused",
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(":0", nil, tt.checks, discard())
			rec := do(t, s, http.MethodGet, "/healthz", "")

			if diff := cmp.Diff(tt.wantCode, rec.Code); diff != "" {
				t.Errorf("status code (-want +got):\n%s", diff)
			}
			var got healthResponse
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("body (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	s := New(":0", nil, nil, discard())
	rec := do(t, s, http.MethodGet, "/metrics", "")
	if diff := cmp.Diff(http.StatusOK, rec.Code); diff != "" {
		t.Errorf("status code (-want +got):\n%s", diff)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output missing runtime collectors")
	}
}

func TestWebhook(t *testing.T) {
	t.Run("not mounted when polling", func(t *testing.T) {
		s := New(":0", nil, nil, discard())
		rec := do(t, s, http.MethodPost, WebhookPath, `{"update_id":1}`)
		if diff := cmp.Diff(http.StatusNotFound, rec.Code); diff != "" {
			t.Errorf("status code (-want +got):\n%s", diff)
		}
	})

	t.Run("queues update", func(t *testing.T) {
		h := &recordingHandler{}
		s := New(":0", h, nil, discard())
		rec := do(t, s, http.MethodPost, WebhookPath, `{"update_id":42,"message":{"message_id":7,"text":"A1B2"}}`)

		if diff := cmp.Diff(http.StatusOK, rec.Code); diff != "" {
			t.Errorf("status code (-want +got):\n%s", diff)
		}
		if len(h.got) != 1 {
			t.Fatalf("got %d updates, want 1", len(h.got))
		}
		if diff := cmp.Diff([]any{42, "A1B2"}, []any{h.got[0].UpdateID, h.got[0].Message.Text}); diff != "" {
			t.Errorf("update (-want +got):\n%s", diff)
		}
	})

	t.Run("bad json", func(t *testing.T) {
		h := &recordingHandler{}
		s := New(":0", h, nil, discard())
		rec := do(t, s, http.MethodPost, WebhookPath, `{not json`)
		if diff := cmp.Diff(http.StatusBadRequest, rec.Code); diff != "" {
			t.Errorf("status code (-want +got):\n%s", diff)
		}
		if len(h.got) != 0 {
			t.Error("bad update was queued")
		}
	})

	t.Run("handler unavailable", func(t *testing.T) {
		h := &recordingHandler{err: context.Canceled}
		s := New(":0", h, nil, discard())
		rec := do(t, s, http.MethodPost, WebhookPath, `{"update_id":1}`)
		if diff := cmp.Diff(http.StatusServiceUnavailable, rec.Code); diff != "" {
			t.Errorf("status code (-want +got):\n%s", diff)
		}
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New("127.0.0.1:0", nil, nil, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("run: %v", err)
	}
}
