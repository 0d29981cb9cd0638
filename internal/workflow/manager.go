// Package workflow coordinates the creative pipeline: it serializes stage
// transitions, credit movements, and job bookkeeping into single
// transactions, hands generation work to the external worker, and lands
// worker callbacks back onto project state.
package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fableforge/internal/artifact"
	"fableforge/internal/config"
	"fableforge/internal/ledger"
	"fableforge/internal/livesync"
	"fableforge/internal/logging"
	"fableforge/internal/notify"
	"fableforge/internal/pipeline"
	"fableforge/internal/services"
	"fableforge/internal/store"
	"fableforge/internal/worker"
)

// Dispatcher hands a generation request to the worker. Satisfied by
// *worker.Client; tests substitute their own.
type Dispatcher interface {
	Dispatch(ctx context.Context, req worker.GenerationRequest) (int, error)
}

// Manager owns every state transition of a project. All multi-table writes
// go through a single transaction so a crash can never leave a debit
// without its job or a stage without its artifact.
type Manager struct {
	cfg        *config.Config
	db         *store.DB
	projects   *pipeline.Store
	ledger     *ledger.Store
	artifacts  *artifact.Store
	jobs       *JobStore
	inbox      *notify.Store
	pusher     notify.Pusher
	hub        *livesync.Hub
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewManager(cfg *config.Config, db *store.DB, hub *livesync.Hub, dispatcher Dispatcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:        cfg,
		db:         db,
		projects:   pipeline.NewStore(db),
		ledger:     ledger.NewStore(db),
		artifacts:  artifact.NewStore(db),
		jobs:       NewJobStore(db),
		inbox:      notify.NewStore(db),
		pusher:     notify.NewPusher(cfg),
		hub:        hub,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Projects exposes read access for the API layer.
func (m *Manager) Projects() *pipeline.Store { return m.projects }

// Ledger exposes read access for the API layer.
func (m *Manager) Ledger() *ledger.Store { return m.ledger }

// Artifacts exposes read access for the API layer.
func (m *Manager) Artifacts() *artifact.Store { return m.artifacts }

// Jobs exposes read access for the API layer.
func (m *Manager) Jobs() *JobStore { return m.jobs }

// Inbox exposes notification access for the API layer.
func (m *Manager) Inbox() *notify.Store { return m.inbox }

// CreateProject provisions the project with its stage rows and, for a new
// account, the one-time signup grant.
func (m *Manager) CreateProject(ctx context.Context, accountID, title, brief string) (*pipeline.Project, error) {
	var project *pipeline.Project
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		created, err := m.projects.EnsureAccountTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if created && m.cfg.Credits.SignupGrant > 0 {
			_, err = m.ledger.GrantTx(ctx, tx, accountID, m.cfg.Credits.SignupGrant,
				ledger.ReasonSignup, "signup:"+accountID, ledger.Link{})
			if err != nil {
				return err
			}
		}
		project, err = m.projects.CreateProjectTx(ctx, tx, accountID, title, brief)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("project created",
		logging.String(logging.FieldProjectID, project.ID),
		logging.String(logging.FieldAccountID, accountID))
	m.publish(livesync.ScopeAccount, accountID, "project", "")
	return project, nil
}

// mutateProject runs fn against the project inside a transaction. The
// project is reloaded on every busy retry; when a retry finds the revision
// advanced past what the first attempt read, another actor committed in the
// gap and the caller gets ErrStaleState instead of a validation verdict on
// state it never observed.
func (m *Manager) mutateProject(ctx context.Context, projectID string, fn func(tx *sql.Tx, project *pipeline.Project) error) error {
	firstRevision := int64(-1)
	return m.db.WithTx(ctx, func(tx *sql.Tx) error {
		project, err := m.projects.GetTx(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if firstRevision < 0 {
			firstRevision = project.Revision
		} else if project.Revision != firstRevision {
			return services.Wrap(services.ErrStaleState, string(project.CurrentStage), "mutate",
				fmt.Sprintf("project %s revision %d superseded", projectID, firstRevision), nil)
		}
		return fn(tx, project)
	})
}

// StartStage charges the stage cost, queues a generation job, and moves the
// stage to awaiting_generation. The job is dispatched asynchronously by the
// poll loop.
func (m *Manager) StartStage(ctx context.Context, projectID string, stage pipeline.Stage) (*Job, error) {
	var job *Job
	err := m.mutateProject(ctx, projectID, func(tx *sql.Tx, project *pipeline.Project) error {
		if err := pipeline.ValidateStart(project, stage); err != nil {
			return err
		}
		var err error
		job, err = m.queueGeneration(ctx, tx, project, stage)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("stage started",
		logging.String(logging.FieldProjectID, projectID),
		logging.String(logging.FieldStage, string(stage)))
	m.publish(livesync.ScopeProject, projectID, "stage", string(stage))
	return job, nil
}

// queueGeneration performs the shared reserve+job+status write used by both
// StartStage and Regenerate. Caller has already validated the transition.
func (m *Manager) queueGeneration(ctx context.Context, tx *sql.Tx, project *pipeline.Project, stage pipeline.Stage) (*Job, error) {
	cost := m.cfg.StageCost(string(stage))
	reservationID, err := m.ledger.ReserveTx(ctx, tx, project.AccountID, cost, ledger.Link{
		ProjectID: project.ID,
		Stage:     string(stage),
	})
	if err != nil {
		return nil, err
	}

	payload, err := m.buildJobPayload(ctx, project, stage)
	if err != nil {
		return nil, err
	}
	job, err := m.jobs.CreateTx(ctx, tx, project.ID, stage, reservationID, payload)
	if err != nil {
		return nil, err
	}
	if err := m.projects.SetStageStatusTx(ctx, tx, project.ID, stage, pipeline.StatusAwaitingGeneration); err != nil {
		return nil, err
	}
	if err := m.projects.CommitRevisionTx(ctx, tx, project, stage); err != nil {
		return nil, err
	}
	return job, nil
}

// buildJobPayload assembles the worker inputs: the brief plus the approved
// outputs of the earlier stages that feed this one.
func (m *Manager) buildJobPayload(ctx context.Context, project *pipeline.Project, stage pipeline.Stage) (string, error) {
	inputs := map[string]json.RawMessage{
		"brief": mustJSONString(project.Brief),
		"title": mustJSONString(project.Title),
	}
	for _, prior := range pipeline.Stages() {
		if prior == stage {
			break
		}
		current, err := m.artifacts.Current(ctx, project.ID, prior)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				continue
			}
			return "", err
		}
		inputs[string(prior)] = json.RawMessage(current.Payload)
	}
	encoded, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}
	return string(encoded), nil
}

// SubmitEdit replaces the stage output with user-authored content. Edits
// are free and never touch the worker; the stage stays awaiting approval.
func (m *Manager) SubmitEdit(ctx context.Context, projectID string, stage pipeline.Stage, payload string) (*artifact.Artifact, error) {
	var saved *artifact.Artifact
	err := m.mutateProject(ctx, projectID, func(tx *sql.Tx, project *pipeline.Project) error {
		if err := pipeline.ValidateEdit(project, stage); err != nil {
			return err
		}
		var err error
		saved, err = m.artifacts.SaveVersionTx(ctx, tx, projectID, stage, payload, artifact.CreatedByUser)
		if err != nil {
			return err
		}
		return m.projects.CommitRevisionTx(ctx, tx, project, stage)
	})
	if err != nil {
		return nil, err
	}

	m.publish(livesync.ScopeProject, projectID, "artifact", string(stage))
	return saved, nil
}

// Approve locks the stage so the next one may start.
func (m *Manager) Approve(ctx context.Context, projectID string, stage pipeline.Stage) error {
	err := m.mutateProject(ctx, projectID, func(tx *sql.Tx, project *pipeline.Project) error {
		if err := pipeline.ValidateApprove(project, stage); err != nil {
			return err
		}
		if err := m.projects.SetStageStatusTx(ctx, tx, projectID, stage, pipeline.StatusApproved); err != nil {
			return err
		}
		return m.projects.CommitRevisionTx(ctx, tx, project, stage)
	})
	if err != nil {
		return err
	}

	m.logger.Info("stage approved",
		logging.String(logging.FieldProjectID, projectID),
		logging.String(logging.FieldStage, string(stage)))
	m.publish(livesync.ScopeProject, projectID, "stage", string(stage))
	return nil
}

// Regenerate discards the pending output and queues a fresh generation.
// The stage is charged again; the earlier version stays in history.
func (m *Manager) Regenerate(ctx context.Context, projectID string, stage pipeline.Stage) (*Job, error) {
	var job *Job
	err := m.mutateProject(ctx, projectID, func(tx *sql.Tx, project *pipeline.Project) error {
		if err := pipeline.ValidateRegenerate(project, stage); err != nil {
			return err
		}
		var err error
		job, err = m.queueGeneration(ctx, tx, project, stage)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("stage regeneration queued",
		logging.String(logging.FieldProjectID, projectID),
		logging.String(logging.FieldStage, string(stage)))
	m.publish(livesync.ScopeProject, projectID, "stage", string(stage))
	return job, nil
}

// Deploy completes the project once the final cut is approved. Stages left
// unfinished past final, such as distribution, stay as they are.
func (m *Manager) Deploy(ctx context.Context, projectID string) error {
	var accountID, title string
	err := m.mutateProject(ctx, projectID, func(tx *sql.Tx, project *pipeline.Project) error {
		if err := pipeline.ValidateDeploy(project); err != nil {
			return err
		}
		accountID = project.AccountID
		title = project.Title
		if err := m.projects.SetProjectStatusTx(ctx, tx, projectID, pipeline.ProjectCompleted); err != nil {
			return err
		}
		if _, err := m.inbox.CreateTx(ctx, tx, notify.Notification{
			AccountID: accountID,
			ProjectID: projectID,
			Kind:      notify.KindDeploy,
			Body:      fmt.Sprintf("%s has been published", title),
		}); err != nil {
			return err
		}
		return m.projects.CommitRevisionTx(ctx, tx, project, project.CurrentStage)
	})
	if err != nil {
		return err
	}

	m.logger.Info("project deployed", logging.String(logging.FieldProjectID, projectID))
	m.publish(livesync.ScopeProject, projectID, "project", "")
	m.publish(livesync.ScopeAccount, accountID, "notification", "")
	if err := m.pusher.PushDeploy(ctx, title); err != nil {
		m.logger.Warn("deploy push failed", logging.Error(err))
	}
	return nil
}

// WorkerResult is the callback body reported by the worker after it
// finishes (or gives up on) a dispatched job.
type WorkerResult struct {
	JobID   string
	Payload string
	Failed  bool
	Reason  string
}

// IngestResult lands a worker callback. A callback for a job already
// terminal is a replay: reported as ErrDuplicateCallback so the transport
// can acknowledge it without re-applying anything. A callback for a job
// still queued is accepted; the worker evidently received the job before
// the dispatch poll recorded the handoff.
func (m *Manager) IngestResult(ctx context.Context, result WorkerResult) error {
	var (
		accountID string
		title     string
		stage     pipeline.Stage
		projectID string
		failed    bool
	)
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		job, err := m.jobs.GetTx(ctx, tx, result.JobID)
		if err != nil {
			return err
		}
		if job.Status == JobSucceeded || job.Status == JobFailed {
			return services.Wrap(services.ErrDuplicateCallback, string(job.Stage), "ingest",
				fmt.Sprintf("job is %s", job.Status), nil)
		}

		project, err := m.projects.GetTx(ctx, tx, job.ProjectID)
		if err != nil {
			return err
		}
		if err := pipeline.ValidateGenerationComplete(project, job.Stage); err != nil {
			return err
		}

		accountID = project.AccountID
		title = project.Title
		stage = job.Stage
		projectID = project.ID
		failed = result.Failed

		if result.Failed {
			return m.failJobTx(ctx, tx, project, job, result.Reason)
		}

		if _, err := m.artifacts.SaveVersionTx(ctx, tx, project.ID, job.Stage, result.Payload, artifact.CreatedByWorker); err != nil {
			return err
		}
		if err := m.jobs.SetStatusTx(ctx, tx, job.ID, JobSucceeded, ""); err != nil {
			return err
		}
		if err := m.projects.SetStageStatusTx(ctx, tx, project.ID, job.Stage, pipeline.StatusAwaitingApproval); err != nil {
			return err
		}
		if _, err := m.inbox.CreateTx(ctx, tx, notify.Notification{
			AccountID: project.AccountID,
			ProjectID: project.ID,
			Stage:     string(job.Stage),
			Kind:      notify.KindStageComplete,
			Body:      fmt.Sprintf("%s: %s is ready for review", project.Title, job.Stage),
		}); err != nil {
			return err
		}
		return m.projects.CommitRevisionTx(ctx, tx, project, job.Stage)
	})
	if err != nil {
		return err
	}

	m.publish(livesync.ScopeProject, projectID, "stage", string(stage))
	m.publish(livesync.ScopeAccount, accountID, "notification", "")
	if failed {
		if err := m.pusher.PushStageFailed(ctx, title, string(stage), result.Reason); err != nil {
			m.logger.Warn("stage failure push failed", logging.Error(err))
		}
	} else {
		if err := m.pusher.PushStageComplete(ctx, title, string(stage)); err != nil {
			m.logger.Warn("stage completion push failed", logging.Error(err))
		}
	}
	return nil
}

// failJobTx marks the job and stage failed, refunds the reservation, and
// records the failure notification. Shared by callback failures, dispatch
// exhaustion, and the stale-job reaper.
func (m *Manager) failJobTx(ctx context.Context, tx *sql.Tx, project *pipeline.Project, job *Job, reason string) error {
	if err := m.jobs.SetStatusTx(ctx, tx, job.ID, JobFailed, reason); err != nil {
		return err
	}
	if err := m.projects.SetStageStatusTx(ctx, tx, project.ID, job.Stage, pipeline.StatusFailed); err != nil {
		return err
	}
	if job.ReservationID != "" {
		if _, err := m.ledger.RefundTx(ctx, tx, job.ReservationID); err != nil {
			return err
		}
	}
	if _, err := m.inbox.CreateTx(ctx, tx, notify.Notification{
		AccountID: project.AccountID,
		ProjectID: project.ID,
		Stage:     string(job.Stage),
		Kind:      notify.KindStageFailed,
		Body:      fmt.Sprintf("%s: %s generation failed and credits were refunded", project.Title, job.Stage),
	}); err != nil {
		return err
	}
	return m.projects.CommitRevisionTx(ctx, tx, project, job.Stage)
}

func (m *Manager) publish(scope, scopeID, kind, stage string) {
	if m.hub == nil {
		return
	}
	m.hub.Publish(livesync.Event{
		Scope:   scope,
		ScopeID: scopeID,
		Kind:    kind,
		Stage:   stage,
		At:      time.Now().UTC(),
	})
}

func mustJSONString(value string) json.RawMessage {
	encoded, _ := json.Marshal(value)
	return encoded
}
