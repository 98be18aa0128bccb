package tasks

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"cv-adapter/internal/shared/server/middleware"
	"cv-adapter/internal/shared/server/respond"
)

// Handler exposes task status and cancellation.
type Handler struct {
	Scheduler *Scheduler
}

func NewHandler(s *Scheduler) *Handler {
	return &Handler{Scheduler: s}
}

// RegisterRoutes attaches task routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tasks", h.list)
	rg.GET("/tasks/:id", h.get)
	rg.POST("/tasks/:id/cancel", h.cancel)
}

type errorView struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TaskResponse is the client view of a task.
type TaskResponse struct {
	ID              string         `json:"id"`
	Kind            string         `json:"kind"`
	DocumentID      string         `json:"documentId,omitempty"`
	Status          string         `json:"status"`
	Progress        int            `json:"progress"`
	Result          map[string]any `json:"result"`
	Error           *errorView     `json:"error"`
	SuccessMessage  string         `json:"successMessage,omitempty"`
	CreditsRefunded bool           `json:"creditsRefunded"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
}

func toResponse(t Task) TaskResponse {
	resp := TaskResponse{
		ID:              t.ID,
		Kind:            t.Kind,
		DocumentID:      t.DocumentID,
		Status:          t.Status,
		Progress:        t.Progress,
		Result:          t.Result,
		SuccessMessage:  t.SuccessMessage,
		CreditsRefunded: t.CreditsRefunded,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		CompletedAt:     t.CompletedAt,
	}
	if t.ErrorCode != "" || t.ErrorMessage != "" {
		resp.Error = &errorView{Code: t.ErrorCode, Message: t.ErrorMessage}
	}
	return resp
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	task, err := h.Scheduler.GetStatus(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to fetch task")
		return
	}
	respond.OK(c, toResponse(task))
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	status := c.Query("status")
	if status != "" && !validStatus(status) {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unknown status", nil)
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	limit = min(max(limit, 1), 100)

	list, err := h.Scheduler.List(c.Request.Context(), userID, status, limit)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list tasks", nil)
		return
	}
	resp := make([]TaskResponse, 0, len(list))
	for _, t := range list {
		resp = append(resp, toResponse(t))
	}
	respond.OK(c, resp)
}

func (h *Handler) cancel(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	ctx := WithRequestID(c.Request.Context(), c.GetString("requestId"))
	task, err := h.Scheduler.Cancel(ctx, userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to cancel task")
		return
	}
	respond.OK(c, toResponse(task))
}

func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "task not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", msg, nil)
	}
}

func validStatus(s string) bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
