package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"fableforge/internal/ledger"
	"fableforge/internal/notify"
)

// LedgerEntryResponse is the wire form of one credit movement.
type LedgerEntryResponse struct {
	ID          string    `json:"id"`
	Delta       int64     `json:"delta"`
	Reason      string    `json:"reason"`
	ExternalRef string    `json:"external_ref,omitempty"`
	ProjectID   string    `json:"project_id,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NotificationResponse is the wire form of one in-app notification.
type NotificationResponse struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Kind      string    `json:"kind"`
	Body      string    `json:"body"`
	Seen      bool      `json:"seen"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) registerAccounts(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "account-balance",
		Method:      http.MethodGet,
		Path:        "/accounts/{account_id}/balance",
		Summary:     "Current credit balance",
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
	}) (*struct {
		Body struct {
			AccountID string `json:"account_id"`
			Balance   int64  `json:"balance"`
		} `json:"body"`
	}, error) {
		balance, err := s.manager.Ledger().Balance(ctx, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				AccountID string `json:"account_id"`
				Balance   int64  `json:"balance"`
			} `json:"body"`
		}{}
		out.Body.AccountID = input.AccountID
		out.Body.Balance = balance
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "grant-credits",
		Method:        http.MethodPost,
		Path:          "/accounts/{account_id}/grants",
		Summary:       "Grant credits to an account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
		Body      struct {
			Amount      int64  `json:"amount"`
			Reason      string `json:"reason,omitempty"`
			ExternalRef string `json:"external_ref,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Applied bool  `json:"applied"`
			Balance int64 `json:"balance"`
		} `json:"body"`
	}, error) {
		if input.Body.Amount <= 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "amount must be positive", nil)
		}
		reason := ledger.Reason(strings.TrimSpace(input.Body.Reason))
		if reason == "" {
			reason = ledger.ReasonTopup
		}
		applied, err := s.manager.Ledger().Grant(ctx, input.AccountID, input.Body.Amount, reason, input.Body.ExternalRef, ledger.Link{})
		if err != nil {
			return nil, handleError(err)
		}
		balance, err := s.manager.Ledger().Balance(ctx, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Applied bool  `json:"applied"`
				Balance int64 `json:"balance"`
			} `json:"body"`
		}{}
		out.Body.Applied = applied
		out.Body.Balance = balance
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "account-ledger",
		Method:      http.MethodGet,
		Path:        "/accounts/{account_id}/ledger",
		Summary:     "Full credit history, newest first",
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
	}) (*struct {
		Body []LedgerEntryResponse `json:"body"`
	}, error) {
		entries, err := s.manager.Ledger().Entries(ctx, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		body := make([]LedgerEntryResponse, 0, len(entries))
		for _, entry := range entries {
			body = append(body, LedgerEntryResponse{
				ID:          entry.ID,
				Delta:       entry.Delta,
				Reason:      string(entry.Reason),
				ExternalRef: entry.ExternalRef,
				ProjectID:   entry.ProjectID,
				Stage:       entry.Stage,
				CreatedAt:   entry.CreatedAt,
			})
		}
		return &struct {
			Body []LedgerEntryResponse `json:"body"`
		}{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/accounts/{account_id}/notifications",
		Summary:     "List notifications",
	}, func(ctx context.Context, input *struct {
		AccountID  string `path:"account_id"`
		UnseenOnly bool   `query:"unseen"`
	}) (*struct {
		Body []NotificationResponse `json:"body"`
	}, error) {
		items, err := s.manager.Inbox().ListByAccount(ctx, input.AccountID, input.UnseenOnly)
		if err != nil {
			return nil, handleError(err)
		}
		body := make([]NotificationResponse, 0, len(items))
		for _, item := range items {
			body = append(body, notificationResponse(item))
		}
		return &struct {
			Body []NotificationResponse `json:"body"`
		}{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-notification-seen",
		Method:      http.MethodPost,
		Path:        "/accounts/{account_id}/notifications/{id}/seen",
		Summary:     "Mark a notification as read",
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
		ID        string `path:"id"`
	}) (*struct{}, error) {
		if err := s.manager.Inbox().MarkSeen(ctx, input.AccountID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func notificationResponse(n notify.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		ProjectID: n.ProjectID,
		Stage:     n.Stage,
		Kind:      string(n.Kind),
		Body:      n.Body,
		Seen:      n.Seen,
		CreatedAt: n.CreatedAt,
	}
}
