package pipeline_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"fableforge/internal/pipeline"
	"fableforge/internal/services"
	"fableforge/internal/testsupport"
)

func TestCreateAndGetProject(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	projects := pipeline.NewStore(db)
	ctx := context.Background()

	var created *pipeline.Project
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := projects.EnsureAccountTx(ctx, tx, "acct-1"); err != nil {
			return err
		}
		var err error
		created, err = projects.CreateProjectTx(ctx, tx, "acct-1", "Space Documentary", "a film about the void")
		return err
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	fetched, err := projects.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Title != "Space Documentary" || fetched.Status != pipeline.ProjectActive {
		t.Fatalf("unexpected project: %#v", fetched)
	}
	if len(fetched.Stages) != len(pipeline.Stages()) {
		t.Fatalf("expected %d stage rows, got %d", len(pipeline.Stages()), len(fetched.Stages))
	}
	for stage, status := range fetched.Stages {
		if status != pipeline.StatusPending {
			t.Fatalf("stage %s should start pending, got %s", stage, status)
		}
	}
}

func TestGetMissingProject(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	projects := pipeline.NewStore(db)

	_, err := projects.GetByID(context.Background(), "nope")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCommitRevisionDetectsStaleness(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	projects := pipeline.NewStore(db)
	ctx := context.Background()

	var created *pipeline.Project
	if err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := projects.EnsureAccountTx(ctx, tx, "acct-1"); err != nil {
			return err
		}
		var err error
		created, err = projects.CreateProjectTx(ctx, tx, "acct-1", "Racing Short", "")
		return err
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	// Two actors read the same revision.
	first, err := projects.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := projects.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}

	if err := db.WithTx(ctx, func(tx *sql.Tx) error {
		return projects.CommitRevisionTx(ctx, tx, first, pipeline.StageBrief)
	}); err != nil {
		t.Fatalf("first commit should win: %v", err)
	}

	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		return projects.CommitRevisionTx(ctx, tx, second, pipeline.StageBrief)
	})
	if !errors.Is(err, services.ErrStaleState) {
		t.Fatalf("second commit must lose with stale state, got %v", err)
	}
}

func TestArchive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	projects := pipeline.NewStore(db)
	ctx := context.Background()

	var created *pipeline.Project
	if err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := projects.EnsureAccountTx(ctx, tx, "acct-1"); err != nil {
			return err
		}
		var err error
		created, err = projects.CreateProjectTx(ctx, tx, "acct-1", "Old Work", "")
		return err
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	if err := projects.Archive(ctx, created.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	fetched, err := projects.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get after archive: %v", err)
	}
	if fetched.Status != pipeline.ProjectArchived {
		t.Fatalf("expected archived, got %s", fetched.Status)
	}

	// Archiving twice reports not found (already archived).
	if err := projects.Archive(ctx, created.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on double archive, got %v", err)
	}
}
