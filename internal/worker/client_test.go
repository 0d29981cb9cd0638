package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"fableforge/internal/logging"
	"fableforge/internal/pipeline"
	"fableforge/internal/services"
	"fableforge/internal/testsupport"
)

func newTestClient(t *testing.T, workerURL string) *Client {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithWorkerURL(workerURL))
	cfg.Worker.BackoffInitial = 1
	cfg.Worker.BackoffMax = 2
	return NewClient(cfg, logging.NewNop())
}

func sampleRequest() GenerationRequest {
	return GenerationRequest{
		EventType:      "generation.requested",
		JobID:          "job-1",
		ProjectID:      "proj-1",
		Stage:          pipeline.StageScript,
		Payload:        json.RawMessage(`{"brief":"a short film"}`),
		IdempotencyKey: "job-1",
	}
}

func TestDispatchSendsAuthAndPayload(t *testing.T) {
	var got GenerationRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	client.authToken = "secret"

	attempts, err := client.Dispatch(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	if auth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", auth)
	}
	if got.JobID != "job-1" || got.Stage != pipeline.StageScript || got.IdempotencyKey != "job-1" {
		t.Fatalf("unexpected request payload: %+v", got)
	}
}

func TestDispatchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	attempts, err := client.Dispatch(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDispatchStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	attempts, err := client.Dispatch(context.Background(), sampleRequest())
	if !errors.Is(err, services.ErrWorkerError) {
		t.Fatalf("expected ErrWorkerError, got %v", err)
	}
	if attempts != 1 || calls.Load() != 1 {
		t.Fatalf("expected a single attempt on 4xx, got attempts=%d calls=%d", attempts, calls.Load())
	}
}

func TestDispatchExhaustsAttemptsWhenUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	attempts, err := client.Dispatch(context.Background(), sampleRequest())
	if !errors.Is(err, services.ErrWorkerUnreachable) {
		t.Fatalf("expected ErrWorkerUnreachable, got %v", err)
	}
	if attempts != client.maxAttempts {
		t.Fatalf("expected %d attempts, got %d", client.maxAttempts, attempts)
	}
}
