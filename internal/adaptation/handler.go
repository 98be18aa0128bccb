package adaptation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cv-adapter/internal/documents"
	"cv-adapter/internal/pipeline"
	"cv-adapter/internal/shared/server/middleware"
	"cv-adapter/internal/shared/server/respond"
	"cv-adapter/internal/tasks"
	"cv-adapter/internal/usage"
)

const maxBodySize = 256 << 10

type adaptRequest struct {
	JobTitle          string   `json:"jobTitle"`
	JobDescription    string   `json:"jobDescription"`
	Responsibilities  []string `json:"responsibilities"`
	Mode              string   `json:"mode"`
	ReplaceExisting   bool     `json:"replaceExisting"`
	DeviceID          string   `json:"deviceId"`
	InterfaceLanguage string   `json:"interfaceLanguage"`
}

// Handler exposes adaptation over HTTP.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches adaptation routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents/:id/adapt", h.adapt)
}

func (h *Handler) adapt(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)

	var req adaptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	ctx := tasks.WithRequestID(c.Request.Context(), c.GetString("requestId"))
	task, err := h.Svc.Start(ctx, userID, c.Param("id"), StartRequest{
		Job: pipeline.Job{
			Title:            req.JobTitle,
			Description:      req.JobDescription,
			Responsibilities: req.Responsibilities,
		},
		Mode:              req.Mode,
		ReplaceExisting:   req.ReplaceExisting,
		DeviceID:          req.DeviceID,
		InterfaceLanguage: req.InterfaceLanguage,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", "jobTitle and jobDescription are required; mode must be staged or legacy", nil)
		case errors.Is(err, documents.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		case errors.Is(err, ErrPendingReview):
			respond.Error(c, http.StatusConflict, "pending_review", "document has changes awaiting review", []map[string]string{
				{"field": "replaceExisting", "issue": "required to discard pending changes"},
			})
		case errors.Is(err, documents.ErrOptimizeInProgress):
			respond.Error(c, http.StatusConflict, "optimize_in_progress", "an adaptation is already running for this document", nil)
		case errors.Is(err, usage.ErrLimitReached):
			respond.Error(c, http.StatusTooManyRequests, "limit_reached", "You've reached your adaptation limit.", []map[string]string{
				{"field": "usage", "issue": "limit_reached"},
			})
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start adaptation", nil)
		}
		return
	}
	c.Set("taskId", task.ID)
	respond.Accepted(c, gin.H{"taskId": task.ID})
}
