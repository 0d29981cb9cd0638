// Package worker sends generation requests to the external AI worker over
// its webhook boundary. The worker acknowledges a dispatch synchronously
// and reports the actual result later through the callback endpoint.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"fableforge/internal/config"
	"fableforge/internal/logging"
	"fableforge/internal/pipeline"
	"fableforge/internal/services"
)

// Doer abstracts the HTTP client so tests can substitute transports.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// GenerationRequest is the payload posted to the worker for one job.
type GenerationRequest struct {
	EventType      string          `json:"event_type"`
	JobID          string          `json:"job_id"`
	ProjectID      string          `json:"project_id"`
	Stage          pipeline.Stage  `json:"stage"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Client posts generation requests with bounded retries. Only transport
// failures and worker 5xx responses are retried; a 4xx means the request
// itself is bad and repeating it cannot help.
type Client struct {
	baseURL     string
	authToken   string
	maxAttempts int
	backoff     time.Duration
	backoffMax  time.Duration
	httpClient  Doer
	logger      *slog.Logger
}

func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.Worker.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     cfg.Worker.URL,
		authToken:   cfg.Worker.AuthToken,
		maxAttempts: cfg.Worker.MaxAttempts,
		backoff:     time.Duration(cfg.Worker.BackoffInitial) * time.Millisecond,
		backoffMax:  time.Duration(cfg.Worker.BackoffMax) * time.Millisecond,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// SetHTTPClient overrides the transport. Intended for tests.
func (c *Client) SetHTTPClient(doer Doer) {
	c.httpClient = doer
}

// Dispatch posts the request, retrying on retryable failures until the
// attempt budget runs out. It returns the number of attempts made.
func (c *Client) Dispatch(ctx context.Context, req GenerationRequest) (int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, services.Wrap(services.ErrWorkerError, string(req.Stage), "dispatch", "encode request", err)
	}

	delay := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.post(ctx, body)
		if lastErr == nil {
			return attempt, nil
		}
		if !services.Retryable(lastErr) {
			return attempt, lastErr
		}
		c.logger.Warn("worker dispatch failed",
			logging.String(logging.FieldJobID, req.JobID),
			logging.String(logging.FieldStage, string(req.Stage)),
			logging.Int("attempt", attempt),
			logging.Error(lastErr))
		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.backoffMax {
			delay = c.backoffMax
		}
	}
	return c.maxAttempts, lastErr
}

func (c *Client) post(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return services.Wrap(services.ErrWorkerError, "", "dispatch", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return services.Wrap(services.ErrWorkerUnreachable, "", "dispatch", "post request", err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return services.Wrap(services.ErrWorkerUnreachable, "", "dispatch",
			fmt.Sprintf("worker returned %d", resp.StatusCode), nil)
	default:
		return services.Wrap(services.ErrWorkerError, "", "dispatch",
			fmt.Sprintf("worker rejected request with %d", resp.StatusCode), nil)
	}
}
