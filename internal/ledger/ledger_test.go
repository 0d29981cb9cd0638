package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"fableforge/internal/services"
	"fableforge/internal/store"
	"fableforge/internal/testsupport"
)

func newTestStore(t *testing.T) (*Store, *store.DB) {
	t.Helper()
	db := testsupport.MustOpenDB(t, testsupport.NewConfig(t))
	ensureAccount(t, db, "acct-1")
	return NewStore(db), db
}

func ensureAccount(t *testing.T, db *store.DB, id string) {
	t.Helper()
	_, err := db.Handle().Exec(
		`INSERT OR IGNORE INTO accounts (id, created_at) VALUES (?, ?)`,
		id,
		store.FormatTime(testsupport.Now()),
	)
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}
}

func TestBalanceIsSumOfEntries(t *testing.T) {
	ledger, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := ledger.Grant(ctx, "acct-1", 100, ReasonSignup, "signup:acct-1", Link{}); err != nil {
		t.Fatalf("grant signup: %v", err)
	}
	if _, err := ledger.Grant(ctx, "acct-1", 50, ReasonTopup, "topup-1", Link{}); err != nil {
		t.Fatalf("grant topup: %v", err)
	}

	balance, err := ledger.Balance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 150 {
		t.Fatalf("expected balance 150, got %d", balance)
	}

	entries, err := ledger.Entries(ctx, "acct-1")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	var total int64
	for _, entry := range entries {
		total += entry.Delta
	}
	if total != balance {
		t.Fatalf("entry sum %d does not match balance %d", total, balance)
	}
}

func TestGrantIsIdempotentPerExternalRef(t *testing.T) {
	ledger, _ := newTestStore(t)
	ctx := context.Background()

	applied, err := ledger.Grant(ctx, "acct-1", 100, ReasonSignup, "signup:acct-1", Link{})
	if err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if !applied {
		t.Fatal("expected first grant to apply")
	}

	applied, err = ledger.Grant(ctx, "acct-1", 100, ReasonSignup, "signup:acct-1", Link{})
	if err != nil {
		t.Fatalf("replayed grant: %v", err)
	}
	if applied {
		t.Fatal("expected replayed grant to be a no-op")
	}

	balance, err := ledger.Balance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("expected balance 100 after replay, got %d", balance)
	}
}

func TestReserveInsufficientWritesNothing(t *testing.T) {
	ledger, db := newTestStore(t)
	ctx := context.Background()

	if _, err := ledger.Grant(ctx, "acct-1", 10, ReasonSignup, "signup:acct-1", Link{}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := ledger.ReserveTx(ctx, tx, "acct-1", 40, Link{ProjectID: "proj-1", Stage: "videos"})
		return err
	})
	if !errors.Is(err, services.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	entries, err := ledger.Entries(ctx, "acct-1")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the grant entry, got %d entries", len(entries))
	}
	balance, err := ledger.Balance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("expected balance 10, got %d", balance)
	}
}

func TestRefundRestoresBalanceAndReplaysAreNoOps(t *testing.T) {
	ledger, db := newTestStore(t)
	ctx := context.Background()

	if _, err := ledger.Grant(ctx, "acct-1", 100, ReasonSignup, "signup:acct-1", Link{}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	var reservationID string
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		reservationID, err = ledger.ReserveTx(ctx, tx, "acct-1", 40, Link{ProjectID: "proj-1", Stage: "videos", JobID: "job-1"})
		return err
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	balance, err := ledger.Balance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 60 {
		t.Fatalf("expected balance 60 after reserve, got %d", balance)
	}

	for i := 0; i < 2; i++ {
		err = db.WithTx(ctx, func(tx *sql.Tx) error {
			_, err := ledger.RefundTx(ctx, tx, reservationID)
			return err
		})
		if err != nil {
			t.Fatalf("refund attempt %d: %v", i+1, err)
		}
	}

	balance, err = ledger.Balance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("expected balance restored to 100, got %d", balance)
	}
}

func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	ledger, db := newTestStore(t)
	ctx := context.Background()

	if _, err := ledger.Grant(ctx, "acct-1", 50, ReasonSignup, "signup:acct-1", Link{}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	// Two racing reserves of 30 against a balance of 50: only one may land.
	start := make(chan struct{})
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			results <- db.WithTx(ctx, func(tx *sql.Tx) error {
				_, err := ledger.ReserveTx(ctx, tx, "acct-1", 30, Link{ProjectID: "proj-1", Stage: "images"})
				return err
			})
		}()
	}
	close(start)

	var ok, insufficient int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			ok++
		case errors.Is(err, services.ErrInsufficientCredits):
			insufficient++
		default:
			t.Fatalf("unexpected reserve error: %v", err)
		}
	}
	if ok != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one reserve to land, got ok=%d insufficient=%d", ok, insufficient)
	}

	balance, err := ledger.Balance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 20 {
		t.Fatalf("expected balance 20 after the race, got %d", balance)
	}
}

func TestRefundUnknownReservation(t *testing.T) {
	ledger, db := newTestStore(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := ledger.RefundTx(ctx, tx, "missing")
		return err
	})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
