package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"catalog_bot/internal/bot"
	"catalog_bot/internal/config"
	"catalog_bot/internal/gating"
	"catalog_bot/internal/server"
	"catalog_bot/internal/storage"
)

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	checks := map[string]server.Pinger{"database": store}

	var cache gating.Cache = gating.NewMemoryCache(cfg.MembershipCacheTTL)
	if cfg.RedisAddr != "" {
		rc := gating.NewRedisCache(cfg.RedisAddr, cfg.MembershipCacheTTL, log)
		defer func() { _ = rc.Close() }()
		cache = rc
		checks["redis"] = rc
		log.Info("membership cache", "backend", "redis", "addr", cfg.RedisAddr)
	}

	b, err := bot.New(cfg.TelegramBotToken, store, cfg, cache, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	var updates server.UpdateHandler
	if cfg.WebhookURL != "" {
		updates = b
	}
	srv := server.New(cfg.HTTPAddr, updates, checks, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "webhook", cfg.WebhookURL != "", "workers", cfg.Workers)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	if err := g.Wait(); err != nil {
		log.Error("bot stopped", "error", err)
		os.Exit(1)
	}

	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
