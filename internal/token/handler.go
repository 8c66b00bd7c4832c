package token

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/herald-labs/herald/internal/platform/httpx"
	"github.com/herald-labs/herald/internal/shared"
)

// Handler exposes token and token-request management.
type Handler struct {
	logger    *slog.Logger
	authority *Authority
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, authority *Authority) *Handler {
	return &Handler{
		logger:    logger,
		authority: authority,
		validator: validator.New(),
	}
}

// MountRoutes attaches token management routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/tokens", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Patch("/{id}", h.update)
		r.Delete("/{id}", h.revoke)
	})
	r.Route("/token-requests", func(r chi.Router) {
		r.Post("/", h.createRequest)
		r.Get("/", h.listRequests)
		r.Post("/{id}/approve", h.approveRequest)
		r.Post("/{id}/decline", h.declineRequest)
	})
}

type createTokenRequest struct {
	MaxCalls    int64      `json:"max_calls" validate:"gte=0"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RequesterID *int64     `json:"requester_id,omitempty"`
	Description string     `json:"description" validate:"max=500"`
	Scopes      []string   `json:"scopes,omitempty"`
}

type createTokenResponse struct {
	Token *Token `json:"token"`
	// Plaintext is returned exactly once; the record never exposes it again.
	Plaintext string `json:"plaintext"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var req createTokenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	requesterID := &principal.ID
	if req.RequesterID != nil {
		if *req.RequesterID != principal.ID && !principal.Operator {
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
		requesterID = req.RequesterID
	}

	tok, plaintext, err := h.authority.Issue(r.Context(), IssueParams{
		MaxCalls:    req.MaxCalls,
		ExpiresAt:   req.ExpiresAt,
		RequesterID: requesterID,
		Description: req.Description,
		Scopes:      req.Scopes,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, createTokenResponse{Token: tok, Plaintext: plaintext})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	tokens, err := h.authority.List(r.Context(), principal)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if tokens == nil {
		tokens = []Token{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

type updateTokenRequest struct {
	Description *string    `json:"description,omitempty" validate:"omitempty,max=500"`
	MaxCalls    *int64     `json:"max_calls,omitempty" validate:"omitempty,gte=0"`
	Scopes      []string   `json:"scopes,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RequesterID *int64     `json:"requester_id,omitempty"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var req updateTokenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	tok, err := h.authority.Update(r.Context(), chi.URLParam(r, "id"), principal, UpdateParams{
		Description: req.Description,
		MaxCalls:    req.MaxCalls,
		Scopes:      req.Scopes,
		ExpiresAt:   req.ExpiresAt,
		RequesterID: req.RequesterID,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tok)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	if err := h.authority.Revoke(r.Context(), chi.URLParam(r, "id"), principal); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createRequestRequest struct {
	MaxCalls      int64  `json:"max_calls" validate:"gte=0"`
	Justification string `json:"justification" validate:"required,max=1000"`
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var req createRequestRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	created, err := h.authority.CreateRequest(r.Context(), principal, req.MaxCalls, req.Justification)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	requests, err := h.authority.ListRequests(r.Context(), principal)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if requests == nil {
		requests = []Request{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *Handler) approveRequest(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	req, err := h.authority.ApproveRequest(r.Context(), chi.URLParam(r, "id"), principal)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) declineRequest(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	req, err := h.authority.DeclineRequest(r.Context(), chi.URLParam(r, "id"), principal)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no such token")
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("token operation failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
