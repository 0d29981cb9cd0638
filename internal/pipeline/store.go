package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fableforge/internal/services"
	"fableforge/internal/store"
)

// Store manages project and stage persistence.
type Store struct {
	db *store.DB
}

// NewStore constructs a project store over the shared database.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// EnsureAccountTx inserts the account row when it is first seen and reports
// whether it was created.
func (s *Store) EnsureAccountTx(ctx context.Context, tx *sql.Tx, accountID string) (bool, error) {
	res, err := tx.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO accounts (id, created_at) VALUES (?, ?)`,
		accountID,
		store.FormatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("ensure account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// CreateProjectTx inserts a project with all stage rows pending.
func (s *Store) CreateProjectTx(ctx context.Context, tx *sql.Tx, accountID, title, brief string) (*Project, error) {
	now := time.Now().UTC()
	timestamp := store.FormatTime(now)
	id := uuid.NewString()

	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO projects (id, account_id, title, brief, status, current_stage, revision, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id,
		accountID,
		title,
		brief,
		ProjectActive,
		StageBrief,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}

	for _, stage := range stageOrder {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO project_stages (project_id, stage, status, updated_at) VALUES (?, ?, ?, ?)`,
			id,
			stage,
			StatusPending,
			timestamp,
		); err != nil {
			return nil, fmt.Errorf("insert stage row %s: %w", stage, err)
		}
	}

	project := &Project{
		ID:           id,
		AccountID:    accountID,
		Title:        title,
		Brief:        brief,
		Status:       ProjectActive,
		CurrentStage: StageBrief,
		CreatedAt:    now,
		UpdatedAt:    now,
		Stages:       make(map[Stage]StageStatus, len(stageOrder)),
	}
	for _, stage := range stageOrder {
		project.Stages[stage] = StatusPending
	}
	return project, nil
}

const projectColumns = "id, account_id, title, brief, status, current_stage, revision, created_at, updated_at"

// GetByID fetches a project with its stage statuses.
func (s *Store) GetByID(ctx context.Context, id string) (*Project, error) {
	return s.get(ctx, s.db.Handle(), id)
}

// GetTx fetches a project inside a caller-owned transaction.
func (s *Store) GetTx(ctx context.Context, tx *sql.Tx, id string) (*Project, error) {
	return s.get(ctx, tx, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) get(ctx context.Context, q querier, id string) (*Project, error) {
	row := q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "", "get project", id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	rows, err := q.QueryContext(ctx, `SELECT stage, status FROM project_stages WHERE project_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query stage rows: %w", err)
	}
	defer rows.Close()

	project.Stages = make(map[Stage]StageStatus, len(stageOrder))
	for rows.Next() {
		var stageStr, statusStr string
		if err := rows.Scan(&stageStr, &statusStr); err != nil {
			return nil, fmt.Errorf("scan stage row: %w", err)
		}
		project.Stages[Stage(stageStr)] = StageStatus(statusStr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return project, nil
}

// ListByAccount returns the account's projects ordered by creation time,
// stage maps included.
func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]*Project, error) {
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT `+projectColumns+` FROM projects WHERE account_id = ? ORDER BY created_at`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, project := range projects {
		stageRows, err := s.db.Handle().QueryContext(ctx, `SELECT stage, status FROM project_stages WHERE project_id = ?`, project.ID)
		if err != nil {
			return nil, fmt.Errorf("query stage rows: %w", err)
		}
		project.Stages = make(map[Stage]StageStatus, len(stageOrder))
		for stageRows.Next() {
			var stageStr, statusStr string
			if err := stageRows.Scan(&stageStr, &statusStr); err != nil {
				stageRows.Close()
				return nil, fmt.Errorf("scan stage row: %w", err)
			}
			project.Stages[Stage(stageStr)] = StageStatus(statusStr)
		}
		if err := stageRows.Err(); err != nil {
			stageRows.Close()
			return nil, err
		}
		stageRows.Close()
	}
	return projects, nil
}

// SetStageStatusTx updates one stage row.
func (s *Store) SetStageStatusTx(ctx context.Context, tx *sql.Tx, projectID string, stage Stage, status StageStatus) error {
	res, err := tx.ExecContext(
		ctx,
		`UPDATE project_stages SET status = ?, updated_at = ? WHERE project_id = ? AND stage = ?`,
		status,
		store.FormatTime(time.Now()),
		projectID,
		stage,
	)
	if err != nil {
		return fmt.Errorf("update stage status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, string(stage), "set status", projectID, nil)
	}
	return nil
}

// CommitRevisionTx bumps the project revision guarded by the revision the
// caller read. A zero-row update means another actor committed first.
func (s *Store) CommitRevisionTx(ctx context.Context, tx *sql.Tx, p *Project, currentStage Stage) error {
	res, err := tx.ExecContext(
		ctx,
		`UPDATE projects SET revision = revision + 1, current_stage = ?, updated_at = ? WHERE id = ? AND revision = ?`,
		currentStage,
		store.FormatTime(time.Now()),
		p.ID,
		p.Revision,
	)
	if err != nil {
		return fmt.Errorf("commit revision: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrStaleState, string(currentStage), "commit", fmt.Sprintf("project %s revision %d superseded", p.ID, p.Revision), nil)
	}
	p.Revision++
	p.CurrentStage = currentStage
	return nil
}

// SetProjectStatusTx updates the overall project status.
func (s *Store) SetProjectStatusTx(ctx context.Context, tx *sql.Tx, projectID string, status ProjectStatus) error {
	_, err := tx.ExecContext(
		ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		store.FormatTime(time.Now()),
		projectID,
	)
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	return nil
}

// Archive marks a project archived. Projects are never deleted.
func (s *Store) Archive(ctx context.Context, projectID string) error {
	res, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ? AND status != ?`,
		ProjectArchived,
		store.FormatTime(time.Now()),
		projectID,
		ProjectArchived,
	)
	if err != nil {
		return fmt.Errorf("archive project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "", "archive", projectID, nil)
	}
	return nil
}

func scanProject(scanner interface{ Scan(dest ...any) error }) (*Project, error) {
	var (
		p          Project
		statusStr  string
		stageStr   string
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&p.ID,
		&p.AccountID,
		&p.Title,
		&p.Brief,
		&statusStr,
		&stageStr,
		&p.Revision,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	p.Status = ProjectStatus(statusStr)
	p.CurrentStage = Stage(stageStr)
	if created, err := store.ParseTime(createdRaw); err == nil {
		p.CreatedAt = created
	}
	if updated, err := store.ParseTime(updatedRaw); err == nil {
		p.UpdatedAt = updated
	}
	return &p, nil
}
