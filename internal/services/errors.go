package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInsufficientCredits rejects an operation whose reservation would
	// overdraw the account. Nothing is written when it is returned.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrInvalidTransition rejects a stage operation that is illegal in the
	// current stage status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrStaleState signals an optimistic-concurrency loss; the caller must
	// refresh and retry.
	ErrStaleState = errors.New("stale state")
	// ErrNotFound marks missing projects, artifacts, or jobs.
	ErrNotFound = errors.New("not found")
	// ErrWorkerUnreachable marks a transient failure reaching the generation
	// worker (network error or 5xx). Subject to bounded retry.
	ErrWorkerUnreachable = errors.New("worker unreachable")
	// ErrWorkerError marks a definitive worker rejection (4xx) or a worker
	// callback reporting failure. Not retried.
	ErrWorkerError = errors.New("worker error")
	// ErrDuplicateCallback marks a replayed worker callback for a job that is
	// already terminal. Logged and ignored, never surfaced to the caller.
	ErrDuplicateCallback = errors.New("duplicate callback")
	// ErrValidation marks malformed caller input.
	ErrValidation = errors.New("validation error")
)

// Wrap builds an error message that includes operation context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrWorkerError
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a dispatch failure should be retried before the
// job is failed. Only unreachable-worker faults qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrWorkerUnreachable)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
