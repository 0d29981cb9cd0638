// Package notify records in-app notifications for account holders and
// optionally mirrors them to an ntfy-style push endpoint.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fableforge/internal/store"
)

// Kind classifies a notification.
type Kind string

const (
	KindStageComplete Kind = "stage_complete"
	KindStageFailed   Kind = "stage_failed"
	KindDeploy        Kind = "deploy"
)

// Notification is one in-app message for an account.
type Notification struct {
	ID        string
	AccountID string
	ProjectID string
	Stage     string
	Kind      Kind
	Body      string
	Seen      bool
	CreatedAt time.Time
}

// Store persists notifications.
type Store struct {
	db *store.DB
}

func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// CreateTx appends a notification inside a caller-owned transaction.
func (s *Store) CreateTx(ctx context.Context, tx *sql.Tx, n Notification) (*Notification, error) {
	n.ID = uuid.NewString()
	n.CreatedAt = time.Now().UTC()
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO notifications (id, account_id, project_id, stage, kind, body, seen, created_at)
         VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		n.ID,
		n.AccountID,
		store.NullableString(n.ProjectID),
		store.NullableString(n.Stage),
		n.Kind,
		n.Body,
		store.FormatTime(n.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return &n, nil
}

// ListByAccount returns the account's notifications newest first. When
// unseenOnly is set, already-seen rows are filtered out.
func (s *Store) ListByAccount(ctx context.Context, accountID string, unseenOnly bool) ([]Notification, error) {
	query := `SELECT id, account_id, project_id, stage, kind, body, seen, created_at
              FROM notifications WHERE account_id = ?`
	if unseenOnly {
		query += ` AND seen = 0`
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.Handle().QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var list []Notification
	for rows.Next() {
		var (
			n          Notification
			projectID  sql.NullString
			stage      sql.NullString
			kind       string
			seen       int
			createdRaw string
		)
		if err := rows.Scan(&n.ID, &n.AccountID, &projectID, &stage, &kind, &n.Body, &seen, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.ProjectID = projectID.String
		n.Stage = stage.String
		n.Kind = Kind(kind)
		n.Seen = seen != 0
		if created, err := store.ParseTime(createdRaw); err == nil {
			n.CreatedAt = created
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// MarkSeen flags the notification as read. Unknown ids are a no-op.
func (s *Store) MarkSeen(ctx context.Context, accountID, notificationID string) error {
	_, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE notifications SET seen = 1 WHERE id = ? AND account_id = ?`,
		notificationID,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("mark notification seen: %w", err)
	}
	return nil
}
