package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fableforge/internal/pipeline"
	"fableforge/internal/services"
	"fableforge/internal/store"
)

// JobStatus tracks a generation job through its lifecycle.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobDispatched JobStatus = "dispatched"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
)

// Job is one unit of work handed to the external worker. IdempotencyKey is
// the job id; the worker echoes it back on its callback.
type Job struct {
	ID             string
	ProjectID      string
	Stage          pipeline.Stage
	Status         JobStatus
	IdempotencyKey string
	Attempts       int
	LastError      string
	ReservationID  string
	Payload        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DispatchedAt   time.Time
}

// JobStore persists generation jobs.
type JobStore struct {
	db *store.DB
}

func NewJobStore(db *store.DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, project_id, stage, status, idempotency_key, attempts, last_error, reservation_id, payload, created_at, updated_at, dispatched_at`

// CreateTx inserts a queued job bound to its credit reservation.
func (s *JobStore) CreateTx(ctx context.Context, tx *sql.Tx, projectID string, stage pipeline.Stage, reservationID, payload string) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Stage:         stage,
		Status:        JobQueued,
		Attempts:      0,
		ReservationID: reservationID,
		Payload:       payload,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	job.IdempotencyKey = job.ID

	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO generation_jobs (id, project_id, stage, status, idempotency_key, attempts, reservation_id, payload, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		job.ID,
		job.ProjectID,
		job.Stage,
		job.Status,
		job.IdempotencyKey,
		store.NullableString(job.ReservationID),
		job.Payload,
		store.FormatTime(now),
		store.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// Get loads one job by id.
func (s *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM generation_jobs WHERE id = ?`,
		id,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "", "get-job", id, nil)
	}
	return job, err
}

// GetTx loads one job inside a caller-owned transaction.
func (s *JobStore) GetTx(ctx context.Context, tx *sql.Tx, id string) (*Job, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM generation_jobs WHERE id = ?`,
		id,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "", "get-job", id, nil)
	}
	return job, err
}

// NextQueued returns the oldest queued jobs, up to limit.
func (s *JobStore) NextQueued(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM generation_jobs WHERE status = ? ORDER BY created_at LIMIT ?`,
		JobQueued,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query queued jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// StaleDispatched returns dispatched jobs whose callback never arrived
// within the cutoff.
func (s *JobStore) StaleDispatched(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM generation_jobs WHERE status = ? AND dispatched_at < ?`,
		JobDispatched,
		store.FormatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// MarkDispatched records a successful hand-off to the worker. The guard on
// the current status keeps a concurrent failure path from being overwritten.
func (s *JobStore) MarkDispatched(ctx context.Context, jobID string, attempts int) error {
	now := store.FormatTime(time.Now().UTC())
	res, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE generation_jobs SET status = ?, attempts = ?, dispatched_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		JobDispatched,
		attempts,
		now,
		now,
		jobID,
		JobQueued,
	)
	if err != nil {
		return fmt.Errorf("mark job dispatched: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrInvalidTransition, "", "mark-dispatched", jobID, nil)
	}
	return nil
}

// SetStatusTx moves the job to a terminal status inside a caller-owned
// transaction.
func (s *JobStore) SetStatusTx(ctx context.Context, tx *sql.Tx, jobID string, status JobStatus, lastError string) error {
	_, err := tx.ExecContext(
		ctx,
		`UPDATE generation_jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status,
		store.NullableString(lastError),
		store.FormatTime(time.Now().UTC()),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job           Job
		stage         string
		status        string
		lastError     sql.NullString
		reservationID sql.NullString
		createdRaw    string
		updatedRaw    string
		dispatchedRaw sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&job.ProjectID,
		&stage,
		&status,
		&job.IdempotencyKey,
		&job.Attempts,
		&lastError,
		&reservationID,
		&job.Payload,
		&createdRaw,
		&updatedRaw,
		&dispatchedRaw,
	)
	if err != nil {
		return nil, err
	}
	job.Stage = pipeline.Stage(stage)
	job.Status = JobStatus(status)
	job.LastError = lastError.String
	job.ReservationID = reservationID.String
	if created, err := store.ParseTime(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := store.ParseTime(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if dispatchedRaw.Valid {
		if dispatched, err := store.ParseTime(dispatchedRaw.String); err == nil {
			job.DispatchedAt = dispatched
		}
	}
	return &job, nil
}
