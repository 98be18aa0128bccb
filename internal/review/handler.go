package review

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cv-adapter/internal/diff"
	"cv-adapter/internal/documents"
	"cv-adapter/internal/shared/server/middleware"
	"cv-adapter/internal/shared/server/respond"
)

// Handler exposes review state over HTTP.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches review routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/documents/:id/review", h.get)
	rg.POST("/documents/:id/review", h.decide)
}

type stateResponse struct {
	DocumentID    string        `json:"documentId"`
	PendingReview bool          `json:"pendingReview"`
	SourceVersion *int          `json:"sourceVersion,omitempty"`
	Changes       []diff.Change `json:"changes"`
	Progress      Progress      `json:"progress"`
}

type decideRequest struct {
	ChangeID  string   `json:"changeId"`
	ChangeIDs []string `json:"changeIds"`
	Action    string   `json:"action"`
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	documentID := c.Param("id")
	st, err := h.Svc.Get(c.Request.Context(), userID, documentID)
	switch {
	case errors.Is(err, ErrNotFound):
		respond.OK(c, stateResponse{DocumentID: documentID, Changes: []diff.Change{}, Progress: ProgressOf(nil)})
		return
	case errors.Is(err, documents.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		return
	case err != nil:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load review", nil)
		return
	}
	source := st.SourceVersion
	respond.OK(c, stateResponse{
		DocumentID:    documentID,
		PendingReview: true,
		SourceVersion: &source,
		Changes:       st.Changes,
		Progress:      ProgressOf(st.Changes),
	})
}

func (h *Handler) decide(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	ids := req.ChangeIDs
	if req.ChangeID != "" {
		ids = append([]string{req.ChangeID}, ids...)
	}

	res, err := h.Svc.Decide(c.Request.Context(), userID, c.Param("id"), ids, req.Action)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidDecision):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		case errors.Is(err, documents.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to apply decision", nil)
		}
		return
	}
	respond.OK(c, res)
}
