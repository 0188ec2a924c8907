package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"catalog_bot/internal/model"
	"catalog_bot/internal/session"
)

// Telegram rejects callback data longer than this many bytes.
const callbackDataLimit = 64

// Callback actions.
const (
	cbGet      = "get"
	cbPart     = "part"
	cbFavorite = "fav"
	cbRate     = "rate"
	cbRateSet  = "rv"
	cbSearchPg = "sp"
	cbCategory = "cat"
	cbGate     = "gate"
	cbInput    = "in"
	cbCancel   = "cancel"
	cbAdmin    = "adm"
	cbNoop     = "noop"
)

// Callback is a decoded inline-button payload of the form "action:arg".
type Callback struct {
	Action string
	Arg    string
}

// ParseCallback splits callback data into its action and argument.
func ParseCallback(data string) Callback {
	action, arg, _ := strings.Cut(data, ":")
	return Callback{Action: action, Arg: arg}
}

// callbackData joins an action and its arguments. ok is false when the
// result does not fit into a button.
func callbackData(action string, args ...string) (string, bool) {
	data := strings.Join(append([]string{action}, args...), ":")
	return data, len(data) <= callbackDataLimit
}

// ParseCodeNumber splits "CODE:N" at the last colon.
func ParseCodeNumber(arg string) (string, int, error) {
	i := strings.LastIndex(arg, ":")
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed argument %q", arg)
	}
	n, err := strconv.Atoi(arg[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid number in %q", arg)
	}
	return arg[:i], n, nil
}

// ParseStartCode extracts an item code from a /start deep-link payload.
func ParseStartCode(args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return ""
	}
	return model.NormalizeCode(fields[0])
}

// InputFromMessage converts a message into session input, picking up any
// attached media.
func InputFromMessage(msg *tgbotapi.Message) session.Input {
	in := session.Input{Text: msg.Text}
	if in.Text == "" {
		in.Text = msg.Caption
	}

	switch {
	case msg.Video != nil:
		m := &session.Media{Ref: msg.Video.FileID, Kind: model.PayloadVideo}
		if msg.Video.Thumbnail != nil {
			m.ThumbRef = msg.Video.Thumbnail.FileID
		}
		in.Media = m
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		in.Media = &session.Media{Ref: largest.FileID, Kind: model.PayloadPhoto}
	case msg.Document != nil:
		m := &session.Media{Ref: msg.Document.FileID, Kind: model.PayloadDocument}
		if msg.Document.Thumbnail != nil {
			m.ThumbRef = msg.Document.Thumbnail.FileID
		}
		in.Media = m
	}
	return in
}

func fullName(u *tgbotapi.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
