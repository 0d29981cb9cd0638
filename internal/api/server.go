// Package api exposes the HTTP surface: project and stage operations,
// credit queries, the worker callback endpoint, and the live event
// websocket.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"fableforge/internal/config"
	"fableforge/internal/livesync"
	"fableforge/internal/logging"
	"fableforge/internal/services"
	"fableforge/internal/workflow"
)

const basePath = "/v1"

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"script: start: previous stage brief is pending, want approved"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope returned by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// Server wires the workflow manager into HTTP handlers.
type Server struct {
	cfg     *config.Config
	manager *workflow.Manager
	hub     *livesync.Hub
	logger  *slog.Logger
}

// New builds the router: huma operations under /v1 plus the websocket
// routes registered on chi directly.
func New(cfg *config.Config, manager *workflow.Manager, hub *livesync.Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{cfg: cfg, manager: manager, hub: hub, logger: logger}

	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(s.authMiddleware)

	hcfg := huma.DefaultConfig("FableForge API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	humaAPI := humachi.New(router, hcfg)
	group := huma.NewGroup(humaAPI, basePath)

	registerHealth(group)
	s.registerProjects(group)
	s.registerStages(group)
	s.registerAccounts(group)
	s.registerCallbacks(group)
	s.registerEvents(router)

	return router
}

// authMiddleware enforces the static bearer token when one is configured.
// Health stays open; websocket clients may pass the token as a query
// parameter since browsers cannot set headers on an upgrade.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(s.cfg.Paths.APIToken)
		if token == "" || r.URL.Path == basePath+"/health" {
			next.ServeHTTP(w, r)
			return
		}
		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if presented == r.Header.Get("Authorization") {
			presented = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"unauthorized","message":"missing or invalid token"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps service sentinels onto HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, services.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, services.ErrValidation):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, services.ErrInsufficientCredits):
		return newAPIError(http.StatusPaymentRequired, "insufficient_credits", err.Error(), nil)
	case errors.Is(err, services.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, services.ErrStaleState):
		return newAPIError(http.StatusConflict, "stale_state", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error",
			map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusPaymentRequired:
		return "insufficient_credits"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// registerEvents mounts the websocket routes directly on chi; huma does not
// model upgraded connections.
func (s *Server) registerEvents(router chi.Router) {
	router.Get(basePath+"/projects/{project_id}/events", func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "project_id")
		if _, err := s.manager.Projects().GetByID(r.Context(), projectID); err != nil {
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}
		s.hub.ServeScope(r.Context(), w, r, livesync.ScopeProject, projectID)
	})
	router.Get(basePath+"/accounts/{account_id}/events", func(w http.ResponseWriter, r *http.Request) {
		s.hub.ServeScope(r.Context(), w, r, livesync.ScopeAccount, chi.URLParam(r, "account_id"))
	})
}
