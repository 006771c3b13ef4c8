package tokens

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrInvalidToken, Status: http.StatusBadRequest, Message: "device token has an invalid format"},
	{Error: ErrInvalidPlatform, Status: http.StatusBadRequest, Message: "unknown device platform"},
	{Error: ErrTokenNotFound, Status: http.StatusNotFound, Message: "device token not found"},
}

// Handler handles HTTP requests for the device token registry.
type Handler struct {
	registry  *Registry
	validator *validator.Validate
}

// NewHandler creates a new device token handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{
		registry:  registry,
		validator: validator.New(),
	}
}

// RegisterRoutes registers device token routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/devices", func(r chi.Router) {
		r.Post("/", h.RegisterToken)
		r.Get("/", h.ListTokens)
		r.Delete("/{token}", h.UnregisterToken)
	})
}

// RegisterTokenRequest represents request body for registering a device.
type RegisterTokenRequest struct {
	Recipient string `json:"recipient" validate:"required"`
	Token     string `json:"token" validate:"required"`
	Platform  string `json:"platform" validate:"required,oneof=ios android web"`
	DeviceID  string `json:"device_id"`
}

// RegisterToken handles POST /devices.
func (h *Handler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	var req RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	t, err := h.registry.RegisterToken(r.Context(), req.Recipient, req.Token, domain.Platform(req.Platform), req.DeviceID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, t)
}

// UnregisterToken handles DELETE /devices/{token}.
func (h *Handler) UnregisterToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	recipient := r.URL.Query().Get("recipient")
	if recipient == "" {
		httputil.Error(w, http.StatusBadRequest, "recipient query parameter is required")
		return
	}

	if err := h.registry.UnregisterToken(r.Context(), recipient, token); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListTokens handles GET /devices.
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")
	if recipient == "" {
		httputil.Error(w, http.StatusBadRequest, "recipient query parameter is required")
		return
	}

	list, err := h.registry.ListForRecipient(r.Context(), recipient)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}
