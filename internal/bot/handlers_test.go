package bot

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"catalog_bot/internal/broadcast"
	"catalog_bot/internal/gating"
	"catalog_bot/internal/model"
	"catalog_bot/internal/session"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data string
		want Callback
	}{
		{"get:A1B2", Callback{Action: cbGet, Arg: "A1B2"}},
		{"part:A1B2:3", Callback{Action: cbPart, Arg: "A1B2:3"}},
		{"noop", Callback{Action: cbNoop}},
		{"gate:", Callback{Action: cbGate}},
		{"", Callback{}},
	}

	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseCallback(tt.data)); diff != "" {
				t.Errorf("ParseCallback(%q) mismatch (-want +got):\n%s", tt.data, diff)
			}
		})
	}
}

func TestCallbackData(t *testing.T) {
	data, ok := callbackData(cbRateSet, "A1B2", "5")
	if diff := cmp.Diff("rv:A1B2:5", data); diff != "" {
		t.Errorf("data (-want +got):\n%s", diff)
	}
	if !ok {
		t.Error("short data reported as too long")
	}

	_, ok = callbackData(cbGet, strings.Repeat("X", 61))
	if ok {
		t.Error("65-byte data reported as fitting")
	}
}

func TestParseCodeNumber(t *testing.T) {
	tests := []struct {
		name     string
		arg      string
		wantCode string
		wantN    int
		wantErr  bool
	}{
		{name: "simple", arg: "A1B2:3", wantCode: "A1B2", wantN: 3},
		{name: "colon in code", arg: "X:Y:12", wantCode: "X:Y", wantN: 12},
		{name: "missing number", arg: "A1B2", wantErr: true},
		{name: "empty code", arg: ":3", wantErr: true},
		{name: "bad number", arg: "A1B2:x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, n, err := ParseCodeNumber(tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCodeNumber(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.wantCode, code); diff != "" {
				t.Errorf("code (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantN, n); diff != "" {
				t.Errorf("number (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseStartCode(t *testing.T) {
	tests := map[string]string{
		"":            "",
		"a1b2":        "A1B2",
		"  x9 extra ": "X9",
	}
	for args, want := range tests {
		if diff := cmp.Diff(want, ParseStartCode(args)); diff != "" {
			t.Errorf("ParseStartCode(%q) mismatch (-want +got):\n%s", args, diff)
		}
	}
}

func TestInputFromMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  *tgbotapi.Message
		want session.Input
	}{
		{
			name: "text",
			msg:  &tgbotapi.Message{Text: "hello"},
			want: session.Input{Text: "hello"},
		},
		{
			name: "video with caption and thumbnail",
			msg: &tgbotapi.Message{
				Caption: "episode",
				Video:   &tgbotapi.Video{FileID: "vid", Thumbnail: &tgbotapi.PhotoSize{FileID: "thumb"}},
			},
			want: session.Input{Text: "episode", Media: &session.Media{Ref: "vid", ThumbRef: "thumb", Kind: model.PayloadVideo}},
		},
		{
			name: "photo picks largest size",
			msg: &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{
				{FileID: "small", Width: 90}, {FileID: "large", Width: 1280},
			}},
			want: session.Input{Media: &session.Media{Ref: "large", Kind: model.PayloadPhoto}},
		},
		{
			name: "document without thumbnail",
			msg:  &tgbotapi.Message{Document: &tgbotapi.Document{FileID: "doc"}},
			want: session.Input{Media: &session.Media{Ref: "doc", Kind: model.PayloadDocument}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, InputFromMessage(tt.msg)); diff != "" {
				t.Errorf("InputFromMessage mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSplitMessage(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if got := SplitMessage("  \n "); got != nil {
			t.Errorf("got %q, want nil", got)
		}
	})

	t.Run("short", func(t *testing.T) {
		if diff := cmp.Diff([]string{"hi"}, SplitMessage(" hi \n")); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("splits at newline", func(t *testing.T) {
		line := strings.Repeat("я", 100)
		lines := make([]string, 60)
		for i := range lines {
			lines[i] = line
		}
		parts := SplitMessage(strings.Join(lines, "\n"))
		if len(parts) != 2 {
			t.Fatalf("got %d parts, want 2", len(parts))
		}
		for i, p := range parts {
			if n := utf8.RuneCountInString(p); n > messageLimit {
				t.Errorf("part %d has %d runes", i, n)
			}
			if strings.HasPrefix(p, "\n") || strings.HasSuffix(p, "\n") {
				t.Errorf("part %d not trimmed", i)
			}
		}
		if diff := cmp.Diff(60, strings.Count(strings.Join(parts, "\n"), line)); diff != "" {
			t.Errorf("lines preserved (-want +got):\n%s", diff)
		}
	})

	t.Run("hard split without newlines", func(t *testing.T) {
		parts := SplitMessage(strings.Repeat("a", messageLimit*2+10))
		got := make([]int, len(parts))
		for i, p := range parts {
			got[i] = len(p)
		}
		if diff := cmp.Diff([]int{messageLimit, messageLimit, 10}, got); diff != "" {
			t.Errorf("part sizes (-want +got):\n%s", diff)
		}
	})
}

func TestFormatItemCaption(t *testing.T) {
	item := model.Item{
		Code: "A1B2", Title: "Inception", Year: 2010, Duration: "2h 28m", Category: "Drama",
		Views: 12, Downloads: 7, Rating: 4.5, RatingCount: 2, Description: "A thief who steals secrets.",
	}

	got := FormatItemCaption(item)
	for _, want := range []string{
		"Inception (2010)",
		"Rating: 4.5/5 (2 votes)",
		"Views: 12 | Downloads: 7",
		"Category: Drama",
		"Duration: 2h 28m",
		"Code: A1B2",
		"A thief who steals secrets.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("caption missing %q:\n%s", want, got)
		}
	}

	t.Run("unrated without optional fields", func(t *testing.T) {
		got := FormatItemCaption(model.Item{Code: "X", Title: "Plain"})
		want := "Plain\n\nRating: not rated yet\nViews: 0 | Downloads: 0\nCode: X"
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("long description fits caption limit", func(t *testing.T) {
		item.Description = strings.Repeat("word ", 500)
		got := FormatItemCaption(item)
		if n := utf8.RuneCountInString(got); n > captionLimit {
			t.Errorf("caption has %d runes, limit %d", n, captionLimit)
		}
		if !strings.HasSuffix(got, "...") {
			t.Error("truncated description not marked")
		}
	})
}

func TestFormatItemList(t *testing.T) {
	items := []model.Item{
		{Code: "A1", Title: "First", Views: 3, IsActive: true},
		{Code: "B2", Title: "Second", Views: 1},
	}

	got := FormatItemList("Top:", items, 10)
	want := "Top:\n\n11. First [A1] - 3 views\n12. Second [B2] - 1 views (deleted)"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff("Top:\n\nNothing here yet.", FormatItemList("Top:", nil, 0)); diff != "" {
		t.Errorf("empty list (-want +got):\n%s", diff)
	}
}

func TestFormatSearchPage(t *testing.T) {
	if diff := cmp.Diff(`Nothing found for "zzz".`, FormatSearchPage("zzz", nil, 0, 0)); diff != "" {
		t.Errorf("empty (-want +got):\n%s", diff)
	}

	got := FormatSearchPage("star", []model.Item{{Code: "S1", Title: "Star", IsActive: true}}, 21, 2)
	for _, want := range []string{`Results for "star": 21 found, page 3 of 3`, "21. Star [S1]"} {
		if !strings.Contains(got, want) {
			t.Errorf("page missing %q:\n%s", want, got)
		}
	}
}

func TestFormatUserList(t *testing.T) {
	users := []model.User{
		{ID: 1, DisplayName: "Aziz", Handle: "aziz", IsAdmin: true, LastActiveAt: time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)},
		{ID: 2, IsBlocked: true},
	}
	got := FormatUserList("Users:", users)
	for _, want := range []string{
		"1 - Aziz (@aziz) [admin], last seen 2025-06-15 10:30",
		"2 - user 2 [blocked]",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("list missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(FormatUserList("Users:", nil), "No users found.") {
		t.Error("empty list not reported")
	}
}

func TestFormatChannelList(t *testing.T) {
	got := FormatChannelList([]model.Channel{
		{ID: 3, Name: "News", URL: "@news", Kind: model.ChannelTelegram, IsMandatory: true},
	})
	if !strings.Contains(got, "#3 News (Telegram, mandatory)") {
		t.Errorf("unexpected list:\n%s", got)
	}
	if diff := cmp.Diff("No channels configured.", FormatChannelList(nil)); diff != "" {
		t.Errorf("empty (-want +got):\n%s", diff)
	}
}

func TestFormatReport(t *testing.T) {
	r := broadcast.Report{RunID: "run-1", Total: 30, Sent: 18, Failed: 2}
	if diff := cmp.Diff("Broadcasting... 20 of 30 (sent 18, failed 2)", FormatReport(r, false)); diff != "" {
		t.Errorf("progress (-want +got):\n%s", diff)
	}
	if !strings.Contains(FormatReport(r, true), "Sent: 18\nFailed: 2\nRun: run-1") {
		t.Errorf("unexpected final report:\n%s", FormatReport(r, true))
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		s    string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"привет мир", 7, "прив..."},
		{"abcdef", 2, "ab"},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, truncate(tt.s, tt.n)); diff != "" {
			t.Errorf("truncate(%q, %d) mismatch (-want +got):\n%s", tt.s, tt.n, diff)
		}
	}
}

func TestClassifyMembershipError(t *testing.T) {
	tests := []struct {
		desc string
		want error
	}{
		{"Bad Request: user not found", gating.ErrUserNotFound},
		{"Bad Request: PARTICIPANT_ID_INVALID", gating.ErrUserNotFound},
		{"Bad Request: chat not found", gating.ErrTargetNotFound},
		{"Bad Request: USERNAME_NOT_OCCUPIED", gating.ErrTargetNotFound},
		{"Bad Request: member list is inaccessible", gating.ErrNoVisibility},
		{"Forbidden: bot is not a member of the channel chat", gating.ErrNoVisibility},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			err := classifyMembershipError(&tgbotapi.Error{Code: 400, Message: tt.desc})
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("unknown error passes through", func(t *testing.T) {
		orig := errors.New("connection reset")
		if err := classifyMembershipError(orig); err != orig {
			t.Errorf("got %v, want original error", err)
		}
	})
}

func TestKeyboards(t *testing.T) {
	t.Run("rating", func(t *testing.T) {
		kb := ratingKeyboard("A1B2")
		var data []string
		for _, row := range kb.InlineKeyboard {
			for _, btn := range row {
				data = append(data, *btn.CallbackData)
			}
		}
		want := []string{"rv:A1B2:1", "rv:A1B2:2", "rv:A1B2:3", "rv:A1B2:4", "rv:A1B2:5", "noop"}
		if diff := cmp.Diff(want, data); diff != "" {
			t.Errorf("callback data (-want +got):\n%s", diff)
		}
	})

	t.Run("search paging", func(t *testing.T) {
		items := make([]model.Item, searchPageSize)
		for i := range items {
			items[i] = model.Item{Code: string(rune('A' + i))}
		}
		kb := searchKeyboard(items, 35, 1)
		nav := kb.InlineKeyboard[len(kb.InlineKeyboard)-1]
		var got []string
		for _, btn := range nav {
			got = append(got, *btn.CallbackData)
		}
		if diff := cmp.Diff([]string{"sp:0", "sp:2"}, got); diff != "" {
			t.Errorf("nav (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff("11", kb.InlineKeyboard[0][0].Text); diff != "" {
			t.Errorf("first number (-want +got):\n%s", diff)
		}
	})

	t.Run("prompt drops oversized choices", func(t *testing.T) {
		kb := promptKeyboard(session.Prompt{Choices: []session.Choice{
			{Label: "ok", Value: "short"},
			{Label: "long", Value: strings.Repeat("x", 70)},
		}})
		if diff := cmp.Diff(2, len(kb.InlineKeyboard)); diff != "" {
			t.Fatalf("rows (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(1, len(kb.InlineKeyboard[0])); diff != "" {
			t.Errorf("choice buttons (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff("cancel", *kb.InlineKeyboard[1][0].CallbackData); diff != "" {
			t.Errorf("cancel button (-want +got):\n%s", diff)
		}
	})

	t.Run("share only for linkable codes", func(t *testing.T) {
		b := &Bot{username: "catalog_test_bot"}
		tests := []struct {
			code      string
			wantShare bool
		}{
			{code: "A1B2", wantShare: true},
			{code: "MY_FILM-2", wantShare: true},
			{code: "A.B"},
			{code: "Ş1"},
		}
		for _, tt := range tests {
			kb := b.itemKeyboard(model.Item{Code: tt.code}, false, nil)
			var share string
			for _, row := range kb.InlineKeyboard {
				for _, btn := range row {
					if btn.URL != nil {
						share = *btn.URL
					}
				}
			}
			if got := share != ""; got != tt.wantShare {
				t.Errorf("%s: share button = %v, want %v", tt.code, got, tt.wantShare)
			}
			if tt.wantShare {
				requireContains(t, share, "start%3D"+tt.code)
			}
		}
	})

	t.Run("gate links outstanding channels", func(t *testing.T) {
		kb := gateKeyboard([]model.Channel{{Name: "News", URL: "@news"}}, "A1B2")
		if diff := cmp.Diff("https://t.me/news", *kb.InlineKeyboard[0][0].URL); diff != "" {
			t.Errorf("join url (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff("gate:A1B2", *kb.InlineKeyboard[1][0].CallbackData); diff != "" {
			t.Errorf("re-check (-want +got):\n%s", diff)
		}
	})
}

func TestShardOf(t *testing.T) {
	for _, id := range []int64{0, 1, 7, -5, 1 << 40} {
		s := shardOf(id, 4)
		if s < 0 || s >= 4 {
			t.Errorf("shardOf(%d, 4) = %d", id, s)
		}
		if s != shardOf(id, 4) {
			t.Errorf("shardOf(%d) not stable", id)
		}
	}
}
