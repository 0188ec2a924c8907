// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"catalog_bot/internal/model"
)

// Sentinel errors returned by Storage implementations. Any other error is a
// storage fault and should be treated as an opaque failure.
var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	UserStore
	ItemStore
	ChannelStore

	Statistics(ctx context.Context, now time.Time) (model.Statistics, error)
	GetSetting(ctx context.Context, key, def string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	ListCategories(ctx context.Context) ([]string, error)
	AddCategory(ctx context.Context, name string) (bool, error)
	RemoveCategory(ctx context.Context, name string) error

	Close() error
}

// UserStore covers the user lifecycle.
type UserStore interface {
	UpsertUser(ctx context.Context, id int64, displayName, handle string) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	TouchUserActivity(ctx context.Context, id int64) error
	SetBlocked(ctx context.Context, id int64, blocked bool) error
	SetAdmin(ctx context.Context, id int64, admin bool) error
	IncrementUserDownloads(ctx context.Context, id int64) error
	SearchUsers(ctx context.Context, query string, limit int) ([]model.User, error)
	ListUsers(ctx context.Context, limit int) ([]model.User, error)
	ListAdmins(ctx context.Context) ([]model.User, error)
	ListRecipients(ctx context.Context) ([]int64, error)
}

// ItemStore covers items and their relations.
type ItemStore interface {
	CreateItem(ctx context.Context, item model.NewItem) (*model.Item, error)
	GetItem(ctx context.Context, code string) (*model.Item, error)
	ItemExists(ctx context.Context, code string) (bool, error)
	ListItems(ctx context.Context, limit, offset int) ([]model.Item, int, error)
	SearchItems(ctx context.Context, query string, limit, offset int) ([]model.Item, int, error)
	ListByCategory(ctx context.Context, category string, limit int) ([]model.Item, error)
	TopItems(ctx context.Context, limit int) ([]model.Item, error)
	DeleteItem(ctx context.Context, code string) error
	PurgeItem(ctx context.Context, code string) error

	IncrementViews(ctx context.Context, code string) error
	IncrementDownloads(ctx context.Context, code string) error
	IncrementLikes(ctx context.Context, code string) error

	UpsertRating(ctx context.Context, userID int64, code string, value int) error
	RatingOf(ctx context.Context, userID int64, code string) (int, error)

	AddFavorite(ctx context.Context, userID int64, code string) error
	RemoveFavorite(ctx context.Context, userID int64, code string) error
	ListFavorites(ctx context.Context, userID int64) ([]model.Item, error)
	IsFavorite(ctx context.Context, userID int64, code string) (bool, error)

	AddItemPart(ctx context.Context, code string, partNumber int, title, payloadRef string, kind model.PayloadKind) (*model.ItemPart, error)
	ListParts(ctx context.Context, code string) ([]model.ItemPart, error)
}

// ChannelStore covers gate channels.
type ChannelStore interface {
	AddChannel(ctx context.Context, ch *model.Channel) error
	DeleteChannel(ctx context.Context, id int64) error
	ListChannels(ctx context.Context, mandatoryOnly bool) ([]model.Channel, error)
	GetChannel(ctx context.Context, id int64) (*model.Channel, error)
}
