package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"catalog_bot/migrations"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type gooseFunc func(db *sql.DB, dir string, opts ...goose.OptionsFunc) error

func newRootCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the catalog database schema",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", envOrDefault("DATABASE_PATH", "./data/catalog.db"), "path to sqlite database")

	sub := func(use, short string, run gooseFunc) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return withDB(dbPath, func(db *sql.DB) error {
					if err := run(db, "."); err != nil {
						return fmt.Errorf("%s: %w", use, err)
					}
					return nil
				})
			},
		}
	}

	cmd.AddCommand(
		sub("up", "Migrate to the latest version", goose.Up),
		sub("up-one", "Migrate one version up", goose.UpByOne),
		sub("down", "Roll back one version", goose.Down),
		sub("status", "Show migration status", goose.Status),
		sub("version", "Show current version", goose.Version),
		sub("reset", "Roll back all migrations", goose.Reset),
	)
	return cmd
}

func withDB(path string, fn func(db *sql.DB) error) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		return err
	}
	return fn(db)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
