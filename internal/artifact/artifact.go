// Package artifact persists the versioned outputs produced at each
// creative stage. Every save appends a new version; a pointer table tracks
// which version is current, so edits never destroy generation history.
package artifact

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

// Kind describes the shape of an artifact payload.
type Kind string

const (
	KindDocument Kind = "document"
	KindAudioSet Kind = "audio_set"
	KindMediaSet Kind = "media_set"
)

// CreatedBy records who produced a version.
type CreatedBy string

const (
	CreatedByWorker CreatedBy = "worker"
	CreatedByUser   CreatedBy = "user"
)

// KindForStage maps each stage to the payload shape it produces.
func KindForStage(stage pipeline.Stage) Kind {
	switch stage {
	case pipeline.StageNarration:
		return KindAudioSet
	case pipeline.StageImages, pipeline.StageVideos, pipeline.StageFinal, pipeline.StageDistribution:
		return KindMediaSet
	default:
		return KindDocument
	}
}

// Artifact is one stored version of a stage's output. Payload is an opaque
// JSON document owned by the producing stage.
type Artifact struct {
	ID        string
	ProjectID string
	Stage     pipeline.Stage
	Version   int
	Kind      Kind
	Payload   string
	CreatedBy CreatedBy
	CreatedAt time.Time
}

// Store manages artifact persistence.
type Store struct {
	db *store.DB
}

func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// SaveVersionTx inserts the next version for the stage and moves the
// current pointer to it. Versions start at 1.
func (s *Store) SaveVersionTx(ctx context.Context, tx *sql.Tx, projectID string, stage pipeline.Stage, payload string, by CreatedBy) (*Artifact, error) {
	var latest sql.NullInt64
	err := tx.QueryRowContext(
		ctx,
		`SELECT MAX(version) FROM artifacts WHERE project_id = ? AND stage = ?`,
		projectID,
		stage,
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("query latest version: %w", err)
	}

	art := &Artifact{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Stage:     stage,
		Version:   int(latest.Int64) + 1,
		Kind:      KindForStage(stage),
		Payload:   payload,
		CreatedBy: by,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO artifacts (id, project_id, stage, version, kind, payload, created_by, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		art.ID,
		art.ProjectID,
		art.Stage,
		art.Version,
		art.Kind,
		art.Payload,
		art.CreatedBy,
		store.FormatTime(art.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO artifact_current (project_id, stage, artifact_id) VALUES (?, ?, ?)
         ON CONFLICT (project_id, stage) DO UPDATE SET artifact_id = excluded.artifact_id`,
		art.ProjectID,
		art.Stage,
		art.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update current pointer: %w", err)
	}
	return art, nil
}

// Current returns the stage's current artifact, or ErrNotFound when the
// stage has never produced one.
func (s *Store) Current(ctx context.Context, projectID string, stage pipeline.Stage) (*Artifact, error) {
	row := s.db.Handle().QueryRowContext(
		ctx,
		`SELECT a.id, a.project_id, a.stage, a.version, a.kind, a.payload, a.created_by, a.created_at
         FROM artifact_current c JOIN artifacts a ON a.id = c.artifact_id
         WHERE c.project_id = ? AND c.stage = ?`,
		projectID,
		stage,
	)
	art, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, string(stage), "current-artifact", projectID, nil)
	}
	return art, err
}

// History returns every version for the stage, oldest first.
func (s *Store) History(ctx context.Context, projectID string, stage pipeline.Stage) ([]*Artifact, error) {
	rows, err := s.db.Handle().QueryContext(
		ctx,
		`SELECT id, project_id, stage, version, kind, payload, created_by, created_at
         FROM artifacts WHERE project_id = ? AND stage = ? ORDER BY version`,
		projectID,
		stage,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []*Artifact
	for rows.Next() {
		art, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, art)
	}
	return history, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*Artifact, error) {
	var (
		art        Artifact
		stage      string
		kind       string
		createdBy  string
		createdRaw string
	)
	err := row.Scan(&art.ID, &art.ProjectID, &stage, &art.Version, &kind, &art.Payload, &createdBy, &createdRaw)
	if err != nil {
		return nil, err
	}
	art.Stage = pipeline.Stage(stage)
	art.Kind = Kind(kind)
	art.CreatedBy = CreatedBy(createdBy)
	if created, err := store.ParseTime(createdRaw); err == nil {
		art.CreatedAt = created
	}
	return &art, nil
}
