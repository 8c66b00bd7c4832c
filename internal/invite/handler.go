package invite

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/herald-labs/herald/internal/access"
	"github.com/herald-labs/herald/internal/platform/httpx"
	"github.com/herald-labs/herald/internal/resource"
	"github.com/herald-labs/herald/internal/shared"
)

// Handler exposes invite creation and redemption.
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

// MountRoutes attaches invite routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/invites", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/{code}", h.get)
		r.Post("/{code}/redeem", h.redeem)
	})
}

type createInviteRequest struct {
	ResourceKind string     `json:"resource_kind" validate:"required"`
	ResourceID   int64      `json:"resource_id" validate:"required,gt=0"`
	Levels       []string   `json:"levels" validate:"required,min=1,dive,oneof=read write admin"`
	MaxUses      *int       `json:"max_uses,omitempty" validate:"omitempty,gt=0"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var req createInviteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	kind, err := resource.ParseKind(req.ResourceKind)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	levels := make([]access.Level, 0, len(req.Levels))
	for _, name := range req.Levels {
		level, err := access.ParseLevel(name)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		levels = append(levels, level)
	}

	inv, err := h.service.Create(r.Context(), principal, CreateParams{
		Resource:  resource.Ref{Kind: kind, ID: req.ResourceID},
		Levels:    levels,
		MaxUses:   req.MaxUses,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	inv, err := h.service.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) redeem(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	redemption, err := h.service.Redeem(r.Context(), chi.URLParam(r, "code"), principal)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, redemption)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCode):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "invalid invite code")
	case errors.Is(err, ErrExpired):
		httpx.Problem(w, http.StatusGone, "Gone", "invite code expired")
	case errors.Is(err, ErrExhausted):
		httpx.Problem(w, http.StatusConflict, "Conflict", "invite code exhausted")
	case errors.Is(err, ErrAlreadySatisfied):
		httpx.Problem(w, http.StatusConflict, "Conflict", "permissions already held")
	case errors.Is(err, shared.ErrForbidden):
		httpx.RespondError(w, httpx.ErrForbidden)
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("invite operation failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
