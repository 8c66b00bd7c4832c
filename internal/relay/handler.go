package relay

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/herald-labs/herald/internal/platform/httpx"
	"github.com/herald-labs/herald/internal/token"
)

// Deliverer attempts downstream delivery of a forwarded notification. A
// returned error means no delivery attempt was made; a ForwardResult means an
// attempt happened, delivered or not.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification, d DeviceDescriptor) (*ForwardResult, error)
}

// UsageRecorder charges one successful use of a token.
type UsageRecorder interface {
	IncrementUsage(ctx context.Context, tokenID string) error
}

// Handler is the receiving end of the passthrough protocol. Routes mounted
// here must sit behind the token guard with the relay scope.
type Handler struct {
	logger    *slog.Logger
	deliverer Deliverer
	usage     UsageRecorder
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, deliverer Deliverer, usage UsageRecorder) *Handler {
	return &Handler{
		logger:    logger,
		deliverer: deliverer,
		usage:     usage,
		validator: validator.New(),
	}
}

// MountRoutes attaches the relay endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/relay/forward", h.forward)
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request) {
	tok := token.FromContext(r.Context())
	if tok == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var req ForwardRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.deliverer.Deliver(r.Context(), req.Notification, req.Device)
	if err != nil {
		// No delivery attempt was made, so no usage is charged and the
		// relaying side gets a generic failure, never our internals.
		h.logger.Error("relay delivery not attempted", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Delivery Failed", "downstream delivery could not be attempted")
		return
	}

	// Usage is charged on the confirmed attempt, delivered or not.
	if err := h.usage.IncrementUsage(r.Context(), tok.ID); err != nil {
		h.logger.Error("relay usage increment failed", slog.String("token_id", tok.ID), slog.Any("error", err))
	}

	httpx.JSON(w, http.StatusOK, result)
}
