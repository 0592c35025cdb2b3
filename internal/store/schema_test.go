package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"reelforge/internal/store"
)

func TestMigrateSetsUserVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reelforge.db")
	st, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	first, err := st.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if first < 3 {
		t.Fatalf("expected migrations applied, got version %d", first)
	}
	st.Close()

	reopened, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	again, _ := reopened.SchemaVersion(context.Background())
	if again != first {
		t.Fatalf("reopen changed version %d -> %d", first, again)
	}
}

func TestOpenRejectsNewerDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reelforge.db")
	st, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	st.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump user_version: %v", err)
	}
	db.Close()

	if _, err := store.OpenPath(path); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}
