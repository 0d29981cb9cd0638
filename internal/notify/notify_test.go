package notify

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"fableforge/internal/store"
	"fableforge/internal/testsupport"
)

func seedAccount(t *testing.T, db *store.DB, id string) {
	t.Helper()
	_, err := db.Handle().Exec(
		`INSERT OR IGNORE INTO accounts (id, created_at) VALUES (?, ?)`,
		id,
		store.FormatTime(testsupport.Now()),
	)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func TestCreateListAndMarkSeen(t *testing.T) {
	db := testsupport.MustOpenDB(t, testsupport.NewConfig(t))
	seedAccount(t, db, "acct-1")
	notifications := NewStore(db)
	ctx := context.Background()

	var created *Notification
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = notifications.CreateTx(ctx, tx, Notification{
			AccountID: "acct-1",
			ProjectID: "proj-1",
			Stage:     "script",
			Kind:      KindStageComplete,
			Body:      "Script is ready for review",
		})
		return err
	})
	if err != nil {
		t.Fatalf("create notification: %v", err)
	}

	unseen, err := notifications.ListByAccount(ctx, "acct-1", true)
	if err != nil {
		t.Fatalf("list unseen: %v", err)
	}
	if len(unseen) != 1 || unseen[0].ID != created.ID {
		t.Fatalf("expected the created notification, got %+v", unseen)
	}
	if unseen[0].Seen {
		t.Fatal("expected notification to start unseen")
	}

	if err := notifications.MarkSeen(ctx, "acct-1", created.ID); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	unseen, err = notifications.ListByAccount(ctx, "acct-1", true)
	if err != nil {
		t.Fatalf("list unseen after mark: %v", err)
	}
	if len(unseen) != 0 {
		t.Fatalf("expected no unseen notifications, got %d", len(unseen))
	}

	all, err := notifications.ListByAccount(ctx, "acct-1", false)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 || !all[0].Seen {
		t.Fatalf("expected one seen notification, got %+v", all)
	}
}

func TestMarkSeenWrongAccountIsNoOp(t *testing.T) {
	db := testsupport.MustOpenDB(t, testsupport.NewConfig(t))
	seedAccount(t, db, "acct-1")
	seedAccount(t, db, "acct-2")
	notifications := NewStore(db)
	ctx := context.Background()

	var created *Notification
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = notifications.CreateTx(ctx, tx, Notification{
			AccountID: "acct-1",
			Kind:      KindDeploy,
			Body:      "Project published",
		})
		return err
	})
	if err != nil {
		t.Fatalf("create notification: %v", err)
	}

	if err := notifications.MarkSeen(ctx, "acct-2", created.ID); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	unseen, err := notifications.ListByAccount(ctx, "acct-1", true)
	if err != nil {
		t.Fatalf("list unseen: %v", err)
	}
	if len(unseen) != 1 {
		t.Fatal("expected notification to stay unseen for its owner")
	}
}

func TestPusherRespectsKindToggles(t *testing.T) {
	var calls int
	var lastTitle string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		lastTitle = r.Header.Get("Title")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.PushURL = server.URL
	cfg.Notifications.StageComplete = false
	cfg.Notifications.StageFailed = true
	cfg.Notifications.Deploy = true

	pusher := NewPusher(cfg)
	ctx := context.Background()

	if err := pusher.PushStageComplete(ctx, "Space documentary", "script"); err != nil {
		t.Fatalf("push stage complete: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected suppressed stage_complete push, got %d calls", calls)
	}

	if err := pusher.PushStageFailed(ctx, "Space documentary", "videos", "worker unreachable"); err != nil {
		t.Fatalf("push stage failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one push, got %d", calls)
	}
	if lastTitle != "FableForge - Stage Failed" {
		t.Fatalf("unexpected push title %q", lastTitle)
	}
}

func TestPusherWithoutEndpointIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.PushURL = ""

	pusher := NewPusher(cfg)
	if err := pusher.TestPush(context.Background()); err != nil {
		t.Fatalf("expected noop pusher, got %v", err)
	}
}
