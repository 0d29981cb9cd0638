package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"fableforge/internal/logging"
	"fableforge/internal/testsupport"
)

func TestStartServesAPIAndStops(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)

	d, err := New(cfg, db, logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + d.Addr() + "/v1/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", resp.StatusCode)
	}
	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", health)
	}

	d.Stop()
	if _, err := client.Get("http://" + d.Addr() + "/v1/health"); err == nil {
		t.Fatal("expected request to fail after shutdown")
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)

	first, err := New(cfg, db, logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("start first: %v", err)
	}
	defer first.Stop()

	second, err := New(cfg, db, logging.NewNop())
	if err != nil {
		t.Fatalf("new second daemon: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected second instance to fail on the lock")
	}
}
