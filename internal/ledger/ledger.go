package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fableforge/internal/services"
	"fableforge/internal/store"
)

// Reason classifies a ledger entry.
type Reason string

const (
	ReasonSignup      Reason = "signup"
	ReasonTopup       Reason = "topup"
	ReasonReservation Reason = "reservation"
	ReasonRefund      Reason = "refund"
)

// Link ties a ledger entry to the pipeline activity that caused it.
type Link struct {
	ProjectID string
	Stage     string
	JobID     string
}

// Entry is one immutable ledger record. Delta is positive for grants and
// negative for debits.
type Entry struct {
	ID          string
	AccountID   string
	Delta       int64
	Reason      Reason
	ExternalRef string
	ProjectID   string
	Stage       string
	JobID       string
	CreatedAt   time.Time
}

// Store manages credit ledger persistence.
type Store struct {
	db *store.DB
}

// NewStore constructs a ledger store over the shared database.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Balance returns the account's current balance.
func (s *Store) Balance(ctx context.Context, accountID string) (int64, error) {
	return balance(ctx, s.db.Handle(), accountID)
}

// BalanceTx returns the balance inside a caller-owned transaction, so the
// read and any subsequent debit are one serialized unit.
func (s *Store) BalanceTx(ctx context.Context, tx *sql.Tx, accountID string) (int64, error) {
	return balance(ctx, tx, accountID)
}

func balance(ctx context.Context, q querier, accountID string) (int64, error) {
	var total int64
	err := q.QueryRowContext(
		ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM credit_ledger WHERE account_id = ?`,
		accountID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return total, nil
}

// ReserveTx checks the balance and appends a debit in one transaction.
// It returns the reservation id (the debit entry id) on success and
// ErrInsufficientCredits, with no write, when the balance is too low.
func (s *Store) ReserveTx(ctx context.Context, tx *sql.Tx, accountID string, amount int64, link Link) (string, error) {
	if amount <= 0 {
		return "", services.Wrap(services.ErrValidation, link.Stage, "reserve", "amount must be positive", nil)
	}
	current, err := balance(ctx, tx, accountID)
	if err != nil {
		return "", err
	}
	if current < amount {
		return "", services.Wrap(
			services.ErrInsufficientCredits,
			link.Stage,
			"reserve",
			fmt.Sprintf("balance %d, need %d", current, amount),
			nil,
		)
	}

	id := uuid.NewString()
	if err := insertEntry(ctx, tx, Entry{
		ID:        id,
		AccountID: accountID,
		Delta:     -amount,
		Reason:    ReasonReservation,
		ProjectID: link.ProjectID,
		Stage:     link.Stage,
		JobID:     link.JobID,
	}); err != nil {
		return "", err
	}
	return id, nil
}

// Grant appends a credit entry. When externalRef is set the grant is
// idempotent per (account, reason, externalRef): a replay inserts nothing
// and reports applied=false.
func (s *Store) Grant(ctx context.Context, accountID string, amount int64, reason Reason, externalRef string, link Link) (bool, error) {
	var applied bool
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		applied, err = s.GrantTx(ctx, tx, accountID, amount, reason, externalRef, link)
		return err
	})
	return applied, err
}

// GrantTx is Grant inside a caller-owned transaction.
func (s *Store) GrantTx(ctx context.Context, tx *sql.Tx, accountID string, amount int64, reason Reason, externalRef string, link Link) (bool, error) {
	if amount <= 0 {
		return false, services.Wrap(services.ErrValidation, link.Stage, "grant", "amount must be positive", nil)
	}
	res, err := tx.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO credit_ledger (id, account_id, delta, reason, external_ref, project_id, stage, job_id, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		accountID,
		amount,
		reason,
		store.NullableString(strings.TrimSpace(externalRef)),
		store.NullableString(link.ProjectID),
		store.NullableString(link.Stage),
		store.NullableString(link.JobID),
		store.FormatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("insert grant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RefundTx appends the compensating grant for a failed reservation. The
// refund reuses the reservation id as its external reference, so replaying
// the failure path cannot double-credit.
func (s *Store) RefundTx(ctx context.Context, tx *sql.Tx, reservationID string) (bool, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT account_id, delta, project_id, stage, job_id FROM credit_ledger WHERE id = ? AND reason = ?`,
		reservationID,
		ReasonReservation,
	)
	var (
		accountID string
		delta     int64
		projectID sql.NullString
		stage     sql.NullString
		jobID     sql.NullString
	)
	if err := row.Scan(&accountID, &delta, &projectID, &stage, &jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, services.Wrap(services.ErrNotFound, "", "refund", reservationID, nil)
		}
		return false, fmt.Errorf("load reservation: %w", err)
	}

	return s.GrantTx(ctx, tx, accountID, -delta, ReasonRefund, reservationID, Link{
		ProjectID: projectID.String,
		Stage:     stage.String,
		JobID:     jobID.String,
	})
}

// Entries returns the account's ledger newest first.
func (s *Store) Entries(ctx context.Context, accountID string) ([]Entry, error) {
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT id, account_id, delta, reason, external_ref, project_id, stage, job_id, created_at
         FROM credit_ledger WHERE account_id = ? ORDER BY created_at DESC, id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry      Entry
			reason     string
			ref        sql.NullString
			projectID  sql.NullString
			stage      sql.NullString
			jobID      sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Delta, &reason, &ref, &projectID, &stage, &jobID, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entry.Reason = Reason(reason)
		entry.ExternalRef = ref.String
		entry.ProjectID = projectID.String
		entry.Stage = stage.String
		entry.JobID = jobID.String
		if created, err := store.ParseTime(createdRaw); err == nil {
			entry.CreatedAt = created
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func insertEntry(ctx context.Context, tx *sql.Tx, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO credit_ledger (id, account_id, delta, reason, external_ref, project_id, stage, job_id, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.AccountID,
		entry.Delta,
		entry.Reason,
		store.NullableString(entry.ExternalRef),
		store.NullableString(entry.ProjectID),
		store.NullableString(entry.Stage),
		store.NullableString(entry.JobID),
		store.FormatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}
