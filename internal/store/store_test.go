package store_test

import (
	"context"
	"database/sql"
	"testing"

	"fableforge/internal/store"
	"fableforge/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)

	var count int
	err := db.Handle().QueryRow(
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='projects'",
	).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if count != 1 {
		t.Fatal("expected projects table to exist")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := testsupport.MustOpenDB(t, cfg)
	if err := first.Close(); err != nil {
		t.Fatalf("close first handle: %v", err)
	}

	second, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen database: %v", err)
	}
	defer second.Close()
}

func TestWithTxRollsBackOnError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	ctx := context.Background()

	wantErr := sql.ErrNoRows
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO accounts (id, created_at) VALUES (?, ?)`, "acct-1", store.FormatTime(testsupport.Now())); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}

	var count int
	if err := db.Handle().QueryRow("SELECT COUNT(1) FROM accounts").Scan(&count); err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to discard insert, found %d rows", count)
	}
}
