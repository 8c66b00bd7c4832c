package access

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/herald-labs/herald/internal/platform/httpx"
	"github.com/herald-labs/herald/internal/resource"
	"github.com/herald-labs/herald/internal/shared"
)

// Handler exposes the share/unshare surface.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes attaches share routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/shares", h.share)
	r.Delete("/shares", h.unshare)
	r.Get("/shares", h.list)
}

type shareRequest struct {
	ResourceKind string `json:"resource_kind" validate:"required"`
	ResourceID   int64  `json:"resource_id" validate:"required,gt=0"`
	GranteeEmail string `json:"grantee_email" validate:"required,email"`
	Level        string `json:"level" validate:"required,oneof=read write admin"`
}

type unshareRequest struct {
	ResourceKind string `json:"resource_kind" validate:"required"`
	ResourceID   int64  `json:"resource_id" validate:"required,gt=0"`
	GranteeEmail string `json:"grantee_email" validate:"required,email"`
}

func (h *Handler) share(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var req shareRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	ref, err := parseRef(req.ResourceKind, req.ResourceID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	level, err := ParseLevel(req.Level)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	grant, err := h.service.Grant(r.Context(), ref, principal, req.GranteeEmail, level)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grant)
}

func (h *Handler) unshare(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var req unshareRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	ref, err := parseRef(req.ResourceKind, req.ResourceID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.service.Revoke(r.Context(), ref, principal, req.GranteeEmail); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	resourceID, err := strconv.ParseInt(r.URL.Query().Get("resource_id"), 10, 64)
	if err != nil || resourceID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "resource_id query parameter required")
		return
	}
	ref, err := parseRef(r.URL.Query().Get("resource_kind"), resourceID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	grants, err := h.service.ListGrants(r.Context(), ref, principal)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"shares": grants})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrForbidden):
		httpx.RespondError(w, httpx.ErrForbidden)
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("share operation failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseRef(kind string, id int64) (resource.Ref, error) {
	k, err := resource.ParseKind(kind)
	if err != nil {
		return resource.Ref{}, err
	}
	return resource.Ref{Kind: k, ID: id}, nil
}
