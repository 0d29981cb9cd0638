package artifact

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"fableforge/internal/pipeline"
	"fableforge/internal/services"
	"fableforge/internal/store"
	"fableforge/internal/testsupport"
)

func newTestStore(t *testing.T) (*Store, *store.DB, string) {
	t.Helper()
	db := testsupport.MustOpenDB(t, testsupport.NewConfig(t))
	pipelineStore := pipeline.NewStore(db)

	var projectID string
	err := db.WithTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := pipelineStore.EnsureAccountTx(context.Background(), tx, "acct-1"); err != nil {
			return err
		}
		project, err := pipelineStore.CreateProjectTx(context.Background(), tx, "acct-1", "Space documentary", "A short film about Europa")
		if err != nil {
			return err
		}
		projectID = project.ID
		return nil
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return NewStore(db), db, projectID
}

func TestSaveVersionAdvancesCurrentPointer(t *testing.T) {
	artifacts, db, projectID := newTestStore(t)
	ctx := context.Background()

	var first, second *Artifact
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		first, err = artifacts.SaveVersionTx(ctx, tx, projectID, pipeline.StageScript, `{"text":"draft one"}`, CreatedByWorker)
		return err
	})
	if err != nil {
		t.Fatalf("save first version: %v", err)
	}
	if first.Version != 1 {
		t.Fatalf("expected version 1, got %d", first.Version)
	}
	if first.Kind != KindDocument {
		t.Fatalf("expected document kind for script, got %s", first.Kind)
	}

	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		second, err = artifacts.SaveVersionTx(ctx, tx, projectID, pipeline.StageScript, `{"text":"edited"}`, CreatedByUser)
		return err
	})
	if err != nil {
		t.Fatalf("save second version: %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("expected version 2, got %d", second.Version)
	}

	current, err := artifacts.Current(ctx, projectID, pipeline.StageScript)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.ID != second.ID {
		t.Fatalf("current pointer stayed on %s, want %s", current.ID, second.ID)
	}
	if current.CreatedBy != CreatedByUser {
		t.Fatalf("expected user-created version, got %s", current.CreatedBy)
	}
}

func TestHistoryKeepsEveryVersion(t *testing.T) {
	artifacts, db, projectID := newTestStore(t)
	ctx := context.Background()

	payloads := []string{`{"v":1}`, `{"v":2}`, `{"v":3}`}
	for _, payload := range payloads {
		err := db.WithTx(ctx, func(tx *sql.Tx) error {
			_, err := artifacts.SaveVersionTx(ctx, tx, projectID, pipeline.StageImages, payload, CreatedByWorker)
			return err
		})
		if err != nil {
			t.Fatalf("save version: %v", err)
		}
	}

	history, err := artifacts.History(ctx, projectID, pipeline.StageImages)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(history))
	}
	for i, art := range history {
		if art.Version != i+1 {
			t.Fatalf("expected version %d at index %d, got %d", i+1, i, art.Version)
		}
		if art.Kind != KindMediaSet {
			t.Fatalf("expected media_set kind for images, got %s", art.Kind)
		}
	}
}

func TestCurrentMissingStage(t *testing.T) {
	artifacts, _, projectID := newTestStore(t)

	_, err := artifacts.Current(context.Background(), projectID, pipeline.StageVideos)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
