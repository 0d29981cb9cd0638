package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"fableforge/internal/logging"
	"fableforge/internal/services"
	"fableforge/internal/workflow"
)

// registerCallbacks mounts the endpoint the worker reports results to. The
// endpoint is idempotent: a replayed callback is acknowledged with 200 and
// applied nothing, so the worker can retry safely.
func (s *Server) registerCallbacks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "generation-callback",
		Method:      http.MethodPost,
		Path:        "/callbacks/generation",
		Summary:     "Worker result callback",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body struct {
			JobID   string          `json:"job_id"`
			Status  string          `json:"status" enum:"succeeded,failed"`
			Payload json.RawMessage `json:"payload,omitempty"`
			Reason  string          `json:"reason,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Accepted  bool `json:"accepted"`
			Duplicate bool `json:"duplicate"`
		} `json:"body"`
	}, error) {
		jobID := strings.TrimSpace(input.Body.JobID)
		if jobID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "job_id is required", nil)
		}
		failed := strings.EqualFold(input.Body.Status, "failed")
		if !failed && !strings.EqualFold(input.Body.Status, "succeeded") {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status must be succeeded or failed", nil)
		}
		if !failed && len(input.Body.Payload) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "payload is required for a succeeded result", nil)
		}

		err := s.manager.IngestResult(ctx, workflow.WorkerResult{
			JobID:   jobID,
			Payload: string(input.Body.Payload),
			Failed:  failed,
			Reason:  strings.TrimSpace(input.Body.Reason),
		})
		out := &struct {
			Body struct {
				Accepted  bool `json:"accepted"`
				Duplicate bool `json:"duplicate"`
			} `json:"body"`
		}{}
		if err != nil {
			if errors.Is(err, services.ErrDuplicateCallback) {
				s.logger.Info("duplicate worker callback ignored",
					logging.String(logging.FieldJobID, jobID))
				out.Body.Duplicate = true
				return out, nil
			}
			return nil, handleError(err)
		}
		out.Body.Accepted = true
		return out, nil
	})
}
