package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"fableforge/internal/livesync"
	"fableforge/internal/logging"
	"fableforge/internal/services"
	"fableforge/internal/worker"
)

const dispatchBatchSize = 10

// Run drives the background loops until the context ends: one ticker hands
// queued jobs to the worker, the other fails dispatched jobs whose callback
// never arrived.
func (m *Manager) Run(ctx context.Context) {
	pollInterval := time.Duration(m.cfg.Workflow.DispatchPollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	reapInterval := time.Duration(m.cfg.Workflow.ReapInterval) * time.Second
	if reapInterval <= 0 {
		reapInterval = 30 * time.Second
	}

	pollTicker := time.NewTicker(pollInterval)
	reapTicker := time.NewTicker(reapInterval)
	defer pollTicker.Stop()
	defer reapTicker.Stop()

	m.logger.Info("workflow loops started",
		logging.Duration("poll_interval", pollInterval),
		logging.Duration("reap_interval", reapInterval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("workflow loops stopped")
			return
		case <-pollTicker.C:
			m.DispatchPending(ctx)
		case <-reapTicker.C:
			m.ReapStale(ctx)
		}
	}
}

// DispatchPending hands every queued job to the worker, oldest first. A job
// that exhausts its attempt budget is failed and its reservation refunded.
func (m *Manager) DispatchPending(ctx context.Context) {
	jobs, err := m.jobs.NextQueued(ctx, dispatchBatchSize)
	if err != nil {
		m.logger.Error("load queued jobs", logging.Error(err))
		return
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		m.dispatchJob(ctx, job)
	}
}

func (m *Manager) dispatchJob(ctx context.Context, job *Job) {
	attempts, err := m.dispatcher.Dispatch(ctx, worker.GenerationRequest{
		EventType:      "generation.requested",
		JobID:          job.ID,
		ProjectID:      job.ProjectID,
		Stage:          job.Stage,
		Payload:        json.RawMessage(job.Payload),
		IdempotencyKey: job.IdempotencyKey,
	})
	if err == nil {
		if err := m.jobs.MarkDispatched(ctx, job.ID, attempts); err != nil {
			// A callback can land before the handoff is recorded; the
			// job is already resolved and there is nothing to mark.
			if errors.Is(err, services.ErrInvalidTransition) {
				return
			}
			m.logger.Error("mark dispatched",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
		}
		m.logger.Info("job dispatched",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldProjectID, job.ProjectID),
			logging.String(logging.FieldStage, string(job.Stage)),
			logging.Int("attempts", attempts))
		return
	}
	if ctx.Err() != nil {
		return
	}

	m.logger.Error("job dispatch exhausted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldProjectID, job.ProjectID),
		logging.String(logging.FieldStage, string(job.Stage)),
		logging.Int("attempts", attempts),
		logging.Error(err))
	m.failJob(ctx, job, "worker dispatch failed: "+err.Error())
}

// ReapStale fails dispatched jobs whose callback deadline has passed, so a
// worker crash cannot strand a stage in awaiting_generation forever.
func (m *Manager) ReapStale(ctx context.Context) {
	timeout := time.Duration(m.cfg.Workflow.CallbackTimeout) * time.Second
	if timeout <= 0 {
		return
	}
	jobs, err := m.jobs.StaleDispatched(ctx, time.Now().UTC().Add(-timeout))
	if err != nil {
		m.logger.Error("load stale jobs", logging.Error(err))
		return
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("reaping stale job",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldProjectID, job.ProjectID),
			logging.String(logging.FieldStage, string(job.Stage)))
		m.failJob(ctx, job, "no worker callback before deadline")
	}
}

// failJob runs the shared failure path in its own transaction and mirrors
// the outcome to subscribers.
func (m *Manager) failJob(ctx context.Context, job *Job, reason string) {
	var accountID, title string
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := m.jobs.GetTx(ctx, tx, job.ID)
		if err != nil {
			return err
		}
		if current.Status == JobSucceeded || current.Status == JobFailed {
			return services.Wrap(services.ErrDuplicateCallback, string(job.Stage), "fail-job",
				"job already terminal", nil)
		}
		project, err := m.projects.GetTx(ctx, tx, job.ProjectID)
		if err != nil {
			return err
		}
		accountID = project.AccountID
		title = project.Title
		return m.failJobTx(ctx, tx, project, current, reason)
	})
	if err != nil {
		if !errors.Is(err, services.ErrDuplicateCallback) {
			m.logger.Error("fail job",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
		}
		return
	}

	m.publish(livesync.ScopeProject, job.ProjectID, "stage", string(job.Stage))
	m.publish(livesync.ScopeAccount, accountID, "notification", "")
	if err := m.pusher.PushStageFailed(ctx, title, string(job.Stage), reason); err != nil {
		m.logger.Warn("stage failure push failed", logging.Error(err))
	}
}
