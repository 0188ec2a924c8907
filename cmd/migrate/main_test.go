package main

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pressly/goose/v3"
)

func migrate(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCommand()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func dbVersion(t *testing.T, path string) int64 {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()
	v, err := goose.GetDBVersion(db)
	if err != nil {
		t.Fatalf("db version: %v", err)
	}
	return v
}

func TestMigrateUpAndReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	if err := migrate(t, "--db", path, "up"); err != nil {
		t.Fatalf("up: %v", err)
	}
	if diff := cmp.Diff(int64(2), dbVersion(t, path)); diff != "" {
		t.Errorf("version after up (-want +got):\n%s", diff)
	}

	if err := migrate(t, "--db", path, "reset"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if diff := cmp.Diff(int64(0), dbVersion(t, path)); diff != "" {
		t.Errorf("version after reset (-want +got):\n%s", diff)
	}
}

func TestMigrateRejectsArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	if err := migrate(t, "--db", path, "up", "extra"); err == nil {
		t.Error("expected error for extra argument")
	}
}
