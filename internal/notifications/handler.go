package notifications

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNotificationNotFound, Status: http.StatusNotFound, Message: "notification not found"},
	{Error: ErrRecipientNotFound, Status: http.StatusNotFound, Message: "recipient not found"},
	{Error: ErrNoEligibleChannel, Status: http.StatusUnprocessableEntity, Message: "recipient has no eligible channel for this notification"},
	{Error: ErrInvalidPriority, Status: http.StatusBadRequest, Message: "invalid priority"},
	{Error: ErrRetryInProgress, Status: http.StatusConflict, Message: "retry already in progress"},
	{Error: ErrNotRetryEligible, Status: http.StatusConflict, Message: "notification is not eligible for retry"},
}

// Handler handles HTTP requests for the notifications module.
type Handler struct {
	dispatcher *Dispatcher
	scheduler  *Scheduler
	validator  *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(dispatcher *Dispatcher, scheduler *Scheduler) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		scheduler:  scheduler,
		validator:  validator.New(),
	}
}

// RegisterRoutes registers notification routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.SendNotification)
		r.Post("/bulk", h.SendBulk)
		r.Get("/", h.ListNotifications)
		r.Get("/unread-count", h.UnreadCount)
		r.Get("/{id}", h.GetNotification)
		r.Post("/{id}/read", h.MarkRead)
		r.Post("/{id}/retry", h.RetryNow)
	})
}

// SendNotificationRequest represents request body for sending a notification.
type SendNotificationRequest struct {
	Recipient string            `json:"recipient" validate:"required"`
	Type      string            `json:"type" validate:"required,oneof=task_assigned task_completed task_overdue note_shared system_announcement"`
	Title     string            `json:"title" validate:"required,max=200"`
	Message   string            `json:"message" validate:"required,max=4000"`
	Data      map[string]string `json:"data"`
	Priority  string            `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
}

func (r SendNotificationRequest) toSendRequest() SendRequest {
	return SendRequest{
		Recipient: r.Recipient,
		Type:      domain.NotificationType(r.Type),
		Title:     r.Title,
		Message:   r.Message,
		Data:      r.Data,
		Priority:  domain.Priority(r.Priority),
	}
}

// BulkNotificationRequest represents request body for a bulk send.
type BulkNotificationRequest struct {
	Recipients []string          `json:"recipients" validate:"required,min=1,max=1000,dive,required"`
	Type       string            `json:"type" validate:"required,oneof=task_assigned task_completed task_overdue note_shared system_announcement"`
	Title      string            `json:"title" validate:"required,max=200"`
	Message    string            `json:"message" validate:"required,max=4000"`
	Data       map[string]string `json:"data"`
	Priority   string            `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
}

// MarkReadRequest represents request body for marking a notification read.
type MarkReadRequest struct {
	Recipient string `json:"recipient" validate:"required"`
}

// SendNotification handles POST /notifications.
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req SendNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	n, err := h.dispatcher.Send(r.Context(), req.toSendRequest())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, n)
}

// SendBulk handles POST /notifications/bulk.
func (h *Handler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	results := h.dispatcher.SendBulk(r.Context(), req.Recipients, SendRequest{
		Type:     domain.NotificationType(req.Type),
		Title:    req.Title,
		Message:  req.Message,
		Data:     req.Data,
		Priority: domain.Priority(req.Priority),
	})

	httputil.Success(w, http.StatusOK, results)
}

// ListNotifications handles GET /notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")
	if recipient == "" {
		httputil.Error(w, http.StatusBadRequest, "recipient query parameter is required")
		return
	}

	limit := parseQueryInt(r, "limit", 50)
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset := parseQueryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	notifications, err := h.dispatcher.List(r.Context(), recipient, limit, offset)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, notifications)
}

// GetNotification handles GET /notifications/{id}.
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := h.dispatcher.Get(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, n)
}

// MarkRead handles POST /notifications/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.dispatcher.MarkRead(r.Context(), id, req.Recipient); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"status": "read"})
}

// UnreadCount handles GET /notifications/unread-count.
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")
	if recipient == "" {
		httputil.Error(w, http.StatusBadRequest, "recipient query parameter is required")
		return
	}

	count, err := h.dispatcher.UnreadCount(r.Context(), recipient)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]int{"unread": count})
}

// RetryNow handles POST /notifications/{id}/retry.
func (h *Handler) RetryNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.scheduler.RetryNow(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"status": "retried"})
}

func parseQueryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
