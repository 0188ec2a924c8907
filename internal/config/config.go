// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/bcrypt"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	DatabasePath     string `envconfig:"DATABASE_PATH" default:"./data/catalog.db"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info"`

	AdminIDs IDList `envconfig:"ADMIN_IDS"`
	// AdminPassword is hashed by Load and then cleared; only the hash is kept.
	AdminPassword     string `envconfig:"ADMIN_PASSWORD"`
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH"`

	RedisAddr          string        `envconfig:"REDIS_ADDR"`
	MembershipCacheTTL time.Duration `envconfig:"MEMBERSHIP_CACHE_TTL" default:"5m"`

	HTTPAddr   string `envconfig:"HTTP_ADDR" default:":8080"`
	WebhookURL string `envconfig:"WEBHOOK_URL"`

	Workers        int           `envconfig:"WORKERS" default:"8"`
	BroadcastDelay time.Duration `envconfig:"BROADCAST_DELAY" default:"50ms"`
}

// IDList is a comma-separated list of user ids. Blank entries and
// surrounding spaces are ignored.
type IDList []int64

// Decode implements envconfig.Decoder.
func (l *IDList) Decode(value string) error {
	var ids IDList
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user ID %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	*l = ids
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("WORKERS must be at least 1, got %d", cfg.Workers)
	}
	if cfg.BroadcastDelay < 0 {
		return nil, fmt.Errorf("BROADCAST_DELAY must not be negative")
	}

	if cfg.AdminPasswordHash == "" && cfg.AdminPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
		cfg.AdminPasswordHash = string(hash)
	}
	cfg.AdminPassword = ""

	return &cfg, nil
}

// IsAdminID reports whether userID is listed in ADMIN_IDS.
func (c *Config) IsAdminID(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// PasswordEnabled reports whether /admin accepts a password.
func (c *Config) PasswordEnabled() bool {
	return c.AdminPasswordHash != ""
}

// CheckAdminPassword reports whether password matches the configured one.
// It is always false when no password is configured.
func (c *Config) CheckAdminPassword(password string) bool {
	if c.AdminPasswordHash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.AdminPasswordHash), []byte(password)) == nil
}
