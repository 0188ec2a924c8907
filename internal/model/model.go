// Package model defines the domain types used across the application.
package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// User is a person who has contacted the bot at least once.
type User struct {
	ID             int64
	DisplayName    string
	Handle         string
	Language       string
	JoinedAt       time.Time
	LastActiveAt   time.Time
	TotalDownloads int64
	IsBlocked      bool
	IsAdmin        bool
	IsPremium      bool
}

// PayloadKind defines how an item's media payload is delivered.
type PayloadKind string

// Supported payload kinds.
const (
	PayloadVideo    PayloadKind = "video"
	PayloadPhoto    PayloadKind = "photo"
	PayloadDocument PayloadKind = "document"
)

// Valid reports whether k is a known payload kind.
func (k PayloadKind) Valid() bool {
	switch k {
	case PayloadVideo, PayloadPhoto, PayloadDocument:
		return true
	}
	return false
}

// Item is a catalog entry addressed by its code.
type Item struct {
	Code         string
	Title        string
	Description  string
	Year         int
	Duration     string
	Category     string
	PayloadRef   string
	ThumbnailRef string
	PayloadKind  PayloadKind
	AddedBy      int64
	AddedAt      time.Time
	Views        int64
	Downloads    int64
	Likes        int64
	Rating       float64
	RatingCount  int
	IsActive     bool
}

// NewItem enumerates every field accepted when creating an item.
// Zero values are the defaults: no year, no duration, video payload,
// and for photo payloads the thumbnail falls back to the payload itself.
type NewItem struct {
	Code         string      `validate:"required,max=64"`
	Title        string      `validate:"required,max=256"`
	Description  string      `validate:"max=4096"`
	Year         int         `validate:"omitempty,gte=1870,lte=2100"`
	Duration     string      `validate:"max=32"`
	Category     string      `validate:"max=128"`
	PayloadRef   string      `validate:"required"`
	ThumbnailRef string
	PayloadKind  PayloadKind `validate:"omitempty,oneof=video photo document"`
	AddedBy      int64
}

// Normalize applies defaults and canonical forms in place.
func (n *NewItem) Normalize() {
	n.Code = NormalizeCode(n.Code)
	n.Title = strings.TrimSpace(n.Title)
	n.Category = strings.TrimSpace(n.Category)
	if n.PayloadKind == "" {
		n.PayloadKind = PayloadVideo
	}
	if n.PayloadKind == PayloadPhoto && n.ThumbnailRef == "" {
		n.ThumbnailRef = n.PayloadRef
	}
}

// ItemPart is one episode of a multi-part item.
type ItemPart struct {
	ID          int64
	ItemCode    string
	PartNumber  int
	Title       string
	PayloadRef  string
	PayloadKind PayloadKind
	AddedAt     time.Time
}

// ChannelKind defines where a gate channel lives.
type ChannelKind string

// Supported channel kinds.
const (
	ChannelTelegram  ChannelKind = "telegram"
	ChannelInstagram ChannelKind = "instagram"
	ChannelYouTube   ChannelKind = "youtube"
	ChannelWebsite   ChannelKind = "website"
)

// ChannelKinds lists the selectable kinds in display order.
var ChannelKinds = []ChannelKind{ChannelTelegram, ChannelInstagram, ChannelYouTube, ChannelWebsite}

// Valid reports whether k is a known channel kind.
func (k ChannelKind) Valid() bool {
	for _, v := range ChannelKinds {
		if v == k {
			return true
		}
	}
	return false
}

// Channel is an external community that may gate access to the bot.
type Channel struct {
	ID          int64
	Name        string      `validate:"required,max=128"`
	URL         string      `validate:"required,max=512"`
	Kind        ChannelKind `validate:"required,oneof=telegram instagram youtube website"`
	IsMandatory bool
	IsActive    bool
	AddedAt     time.Time
	AddedBy     int64
}

// Statistics is a point-in-time snapshot of catalog and audience counters.
type Statistics struct {
	TotalUsers        int64
	ActiveUsers       int64
	BlockedUsers      int64
	PremiumUsers      int64
	TotalItems        int64
	ActiveItems       int64
	TotalDownloads    int64
	TotalViews        int64
	MandatoryChannels int64
	TodayNewUsers     int64
	TodayActiveUsers  int64
}

// NormalizeCode returns the canonical (trimmed, upper-case) form of an item code.
// Casers carry state, so one is built per call.
func NormalizeCode(code string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(code))
}

// MaxCodeLen is the longest code that still fits a /start deep link.
const MaxCodeLen = 64

// LinkableCode reports whether code can travel as a /start deep-link
// payload: 1 to 64 characters of A-Z, a-z, 0-9, "_" or "-".
func LinkableCode(code string) bool {
	if code == "" || len(code) > MaxCodeLen {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// Fold returns the case-folded form of s used for case-insensitive matching.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// SameCategory reports whether two category names are equal ignoring case.
func SameCategory(a, b string) bool {
	return Fold(strings.TrimSpace(a)) == Fold(strings.TrimSpace(b))
}
