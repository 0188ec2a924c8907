package gating

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"catalog_bot/internal/model"
)

type fakeLister struct {
	channels []model.Channel
	err      error
}

func (f *fakeLister) ListChannels(_ context.Context, _ bool) ([]model.Channel, error) {
	return f.channels, f.err
}

type lookup struct {
	status Status
	err    error
}

type fakeChecker struct {
	results map[string]lookup
	calls   []string
}

func (f *fakeChecker) CheckMembership(_ context.Context, handle string, _ int64) (Status, error) {
	f.calls = append(f.calls, handle)
	r, ok := f.results[handle]
	if !ok {
		return StatusMember, nil
	}
	return r.status, r.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tgChannel(id int64, url string) model.Channel {
	return model.Channel{ID: id, Name: url, URL: url, Kind: model.ChannelTelegram, IsMandatory: true, IsActive: true}
}

func TestEvaluate(t *testing.T) {
	transport := errors.New("dial tcp: i/o timeout")

	tests := []struct {
		name            string
		channels        []model.Channel
		results         map[string]lookup
		wantPassed      bool
		wantOutstanding []int64
	}{
		{
			name:       "no channels",
			wantPassed: true,
		},
		{
			name:     "member everywhere",
			channels: []model.Channel{tgChannel(1, "@a"), tgChannel(2, "https://t.me/b")},
			results: map[string]lookup{
				"@a": {status: StatusAdministrator},
				"@b": {status: StatusCreator},
			},
			wantPassed: true,
		},
		{
			name:       "transport fault fails open",
			channels:   []model.Channel{tgChannel(1, "@a")},
			results:    map[string]lookup{"@a": {err: transport}},
			wantPassed: true,
		},
		{
			name:     "target not found and no visibility fail open",
			channels: []model.Channel{tgChannel(1, "@gone"), tgChannel(2, "@private")},
			results: map[string]lookup{
				"@gone":    {err: ErrTargetNotFound},
				"@private": {err: ErrNoVisibility},
			},
			wantPassed: true,
		},
		{
			name:            "left fails closed",
			channels:        []model.Channel{tgChannel(1, "@a"), tgChannel(2, "@b")},
			results:         map[string]lookup{"@b": {status: StatusLeft}},
			wantPassed:      false,
			wantOutstanding: []int64{2},
		},
		{
			name:            "kicked and user not found fail",
			channels:        []model.Channel{tgChannel(1, "@a"), tgChannel(2, "@b")},
			results:         map[string]lookup{"@a": {status: StatusKicked}, "@b": {err: ErrUserNotFound}},
			wantPassed:      false,
			wantOutstanding: []int64{1, 2},
		},
		{
			name: "non telegram kinds are never checked",
			channels: []model.Channel{
				{ID: 5, URL: "https://instagram.com/x", Kind: model.ChannelInstagram, IsMandatory: true, IsActive: true},
				{ID: 6, URL: "https://youtube.com/@x", Kind: model.ChannelYouTube, IsMandatory: true, IsActive: true},
			},
			results: map[string]lookup{
				"@instagram.com": {status: StatusLeft},
			},
			wantPassed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &fakeChecker{results: tt.results}
			e := NewEvaluator(&fakeLister{channels: tt.channels}, checker, nil, discardLogger())

			got := e.Evaluate(context.Background(), 7)
			if got.Passed != tt.wantPassed {
				t.Errorf("Passed = %v, want %v", got.Passed, tt.wantPassed)
			}
			var ids []int64
			for _, ch := range got.Outstanding {
				ids = append(ids, ch.ID)
			}
			if diff := cmp.Diff(tt.wantOutstanding, ids); diff != "" {
				t.Errorf("outstanding mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluateListFault(t *testing.T) {
	checker := &fakeChecker{}
	e := NewEvaluator(&fakeLister{err: errors.New("disk I/O error")}, checker, nil, discardLogger())

	got := e.Evaluate(context.Background(), 1)
	if !got.Passed || len(got.Outstanding) != 0 {
		t.Errorf("Evaluate = %+v, want pass with nothing outstanding", got)
	}
	if len(checker.calls) != 0 {
		t.Errorf("checker called %d times, want 0", len(checker.calls))
	}
}

func TestEvaluateUsesCache(t *testing.T) {
	ctx := context.Background()
	checker := &fakeChecker{results: map[string]lookup{
		"@a": {status: StatusMember},
		"@b": {status: StatusLeft},
	}}
	channels := []model.Channel{tgChannel(1, "@a"), tgChannel(2, "@b")}
	cache := NewMemoryCache(time.Minute)
	e := NewEvaluator(&fakeLister{channels: channels}, checker, cache, discardLogger())

	for range 3 {
		if got := e.Evaluate(ctx, 9); got.Passed {
			t.Fatal("expected fail on @b")
		}
	}

	// @a is looked up once, @b (not a member) is never cached.
	want := []string{"@a", "@b", "@b", "@b"}
	if diff := cmp.Diff(want, checker.calls); diff != "" {
		t.Errorf("checker calls mismatch (-want +got):\n%s", diff)
	}

	e.Forget(ctx, 9, channels)
	e.Evaluate(ctx, 9)
	if n := len(checker.calls); n != 6 {
		t.Errorf("after Forget checker calls = %d, want 6", n)
	}
}
