package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"fableforge/internal/artifact"
	"fableforge/internal/pipeline"
	"fableforge/internal/workflow"
)

// ProjectResponse is the wire form of a project with its stage board.
type ProjectResponse struct {
	ID           string            `json:"id"`
	AccountID    string            `json:"account_id"`
	Title        string            `json:"title"`
	Brief        string            `json:"brief"`
	Status       string            `json:"status"`
	CurrentStage string            `json:"current_stage"`
	Revision     int64             `json:"revision"`
	Stages       []StageResponse   `json:"stages"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type StageResponse struct {
	Stage  string `json:"stage"`
	Status string `json:"status"`
}

// ArtifactResponse is the wire form of one stored artifact version.
type ArtifactResponse struct {
	ID        string          `json:"id"`
	Stage     string          `json:"stage"`
	Version   int             `json:"version"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// JobResponse is the wire form of a generation job.
type JobResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

func projectResponse(p *pipeline.Project) ProjectResponse {
	stages := make([]StageResponse, 0, len(pipeline.Stages()))
	for _, stage := range pipeline.Stages() {
		stages = append(stages, StageResponse{
			Stage:  string(stage),
			Status: string(p.StageStatusOf(stage)),
		})
	}
	return ProjectResponse{
		ID:           p.ID,
		AccountID:    p.AccountID,
		Title:        p.Title,
		Brief:        p.Brief,
		Status:       string(p.Status),
		CurrentStage: string(p.CurrentStage),
		Revision:     p.Revision,
		Stages:       stages,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func artifactResponse(a *artifact.Artifact) ArtifactResponse {
	return ArtifactResponse{
		ID:        a.ID,
		Stage:     string(a.Stage),
		Version:   a.Version,
		Kind:      string(a.Kind),
		Payload:   json.RawMessage(a.Payload),
		CreatedBy: string(a.CreatedBy),
		CreatedAt: a.CreatedAt,
	}
}

func (s *Server) registerProjects(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body struct {
			AccountID string `json:"account_id"`
			Title     string `json:"title"`
			Brief     string `json:"brief"`
		} `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		accountID := strings.TrimSpace(input.Body.AccountID)
		title := strings.TrimSpace(input.Body.Title)
		if accountID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "account_id is required", nil)
		}
		if title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		project, err := s.manager.CreateProject(ctx, accountID, title, strings.TrimSpace(input.Body.Brief))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(project)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects for an account",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		AccountID string `query:"account_id"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.AccountID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "account_id query parameter is required", nil)
		}
		projects, err := s.manager.Projects().ListByAccount(ctx, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		body := make([]ProjectResponse, 0, len(projects))
		for _, p := range projects {
			body = append(body, projectResponse(p))
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		project, err := s.manager.Projects().GetByID(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(project)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Archive project",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		if err := s.manager.Projects().Archive(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deploy-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/deploy",
		Summary:     "Publish the finished project",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if err := s.manager.Deploy(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		project, err := s.manager.Projects().GetByID(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(project)}, nil
	})
}

type stagePath struct {
	ProjectID string `path:"project_id"`
	Stage     string `path:"stage"`
}

func parseStagePath(input stagePath) (pipeline.Stage, huma.StatusError) {
	stage, ok := pipeline.ParseStage(input.Stage)
	if !ok {
		return "", newAPIError(http.StatusBadRequest, "bad_request", "unknown stage "+input.Stage, nil)
	}
	return stage, nil
}

func (s *Server) registerStages(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-stage",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/stages/{stage}/start",
		Summary:       "Charge and queue generation for a stage",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusPaymentRequired,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *stagePath) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		stage, serr := parseStagePath(*input)
		if serr != nil {
			return nil, serr
		}
		job, err := s.manager.StartStage(ctx, input.ProjectID, stage)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-stage",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/stages/{stage}/edit",
		Summary:     "Replace the stage output with user content",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Stage     string `path:"stage"`
		Body      struct {
			Payload json.RawMessage `json:"payload"`
		} `json:"body"`
	}) (*struct {
		Body ArtifactResponse `json:"body"`
	}, error) {
		stage, serr := parseStagePath(stagePath{ProjectID: input.ProjectID, Stage: input.Stage})
		if serr != nil {
			return nil, serr
		}
		if len(input.Body.Payload) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "payload is required", nil)
		}
		saved, err := s.manager.SubmitEdit(ctx, input.ProjectID, stage, string(input.Body.Payload))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ArtifactResponse `json:"body"`
		}{Body: artifactResponse(saved)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-stage",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/stages/{stage}/approve",
		Summary:     "Approve the stage output",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *stagePath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		stage, serr := parseStagePath(*input)
		if serr != nil {
			return nil, serr
		}
		if err := s.manager.Approve(ctx, input.ProjectID, stage); err != nil {
			return nil, handleError(err)
		}
		project, err := s.manager.Projects().GetByID(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(project)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "regenerate-stage",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/stages/{stage}/regenerate",
		Summary:       "Discard the pending output and queue a fresh generation",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusPaymentRequired,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *stagePath) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		stage, serr := parseStagePath(*input)
		if serr != nil {
			return nil, serr
		}
		job, err := s.manager.Regenerate(ctx, input.ProjectID, stage)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-stage-artifact",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stages/{stage}/artifact",
		Summary:     "Get the current artifact for a stage",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *stagePath) (*struct {
		Body ArtifactResponse `json:"body"`
	}, error) {
		stage, serr := parseStagePath(*input)
		if serr != nil {
			return nil, serr
		}
		current, err := s.manager.Artifacts().Current(ctx, input.ProjectID, stage)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ArtifactResponse `json:"body"`
		}{Body: artifactResponse(current)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stage-artifact-history",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stages/{stage}/history",
		Summary:     "List every artifact version for a stage",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *stagePath) (*struct {
		Body []ArtifactResponse `json:"body"`
	}, error) {
		stage, serr := parseStagePath(*input)
		if serr != nil {
			return nil, serr
		}
		history, err := s.manager.Artifacts().History(ctx, input.ProjectID, stage)
		if err != nil {
			return nil, handleError(err)
		}
		body := make([]ArtifactResponse, 0, len(history))
		for _, a := range history {
			body = append(body, artifactResponse(a))
		}
		return &struct {
			Body []ArtifactResponse `json:"body"`
		}{Body: body}, nil
	})
}

func jobResponse(job *workflow.Job) JobResponse {
	return JobResponse{
		ID:        job.ID,
		ProjectID: job.ProjectID,
		Stage:     string(job.Stage),
		Status:    string(job.Status),
		Attempts:  job.Attempts,
		LastError: job.LastError,
	}
}
