package services_test

import (
	"errors"
	"strings"
	"testing"

	"fableforge/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrWorkerUnreachable, "script", "dispatch", "post failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrWorkerUnreachable) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"script", "dispatch", "post failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestRetryable(t *testing.T) {
	unreachable := services.Wrap(services.ErrWorkerUnreachable, "images", "dispatch", "502", nil)
	if !services.Retryable(unreachable) {
		t.Fatalf("expected unreachable worker to be retryable: %v", unreachable)
	}
	rejected := services.Wrap(services.ErrWorkerError, "images", "dispatch", "bad payload", nil)
	if services.Retryable(rejected) {
		t.Fatalf("expected worker rejection to be terminal: %v", rejected)
	}
	if services.Retryable(nil) {
		t.Fatal("nil error is not retryable")
	}
}
