package versions

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"cv-adapter/internal/documents"
	"cv-adapter/internal/shared/server/middleware"
	"cv-adapter/internal/shared/server/respond"
	"cv-adapter/resume/model"
)

// Handler exposes document versions over HTTP.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches version routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/documents/:id/versions", h.list)
	rg.GET("/documents/:id/versions/:version", h.get)
	rg.POST("/documents/:id/versions", h.act)
}

type versionSummary struct {
	Version       int       `json:"version"`
	Label         string    `json:"label"`
	ChangeType    string    `json:"changeType"`
	SourceVersion *int      `json:"sourceVersion,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type versionResponse struct {
	versionSummary
	Content model.CV `json:"content"`
}

type actionRequest struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Label   string `json:"label"`
}

func summarize(s Snapshot) versionSummary {
	return versionSummary{Version: s.Version, Label: s.Label, ChangeType: s.ChangeType, SourceVersion: s.SourceVersion, CreatedAt: s.CreatedAt}
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	snaps, err := h.Svc.List(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]versionSummary, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, summarize(s))
	}
	respond.OK(c, gin.H{"versions": out})
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "version must be a number", nil)
		return
	}
	snap, err := h.Svc.Get(c.Request.Context(), userID, c.Param("id"), version)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond.OK(c, versionResponse{versionSummary: summarize(snap), Content: snap.Content})
}

func (h *Handler) act(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	ctx := c.Request.Context()
	documentID := c.Param("id")

	switch req.Action {
	case "restore":
		snap, err := h.Svc.Restore(ctx, userID, documentID, req.Version)
		if err != nil {
			h.fail(c, err)
			return
		}
		respond.OK(c, gin.H{"restoredVersion": req.Version, "snapshot": summarize(snap)})
	case "create":
		snap, err := h.Svc.Create(ctx, userID, documentID, NewSnapshot{Label: req.Label, ChangeType: ChangeManual})
		if err != nil {
			h.fail(c, err)
			return
		}
		respond.Created(c, summarize(snap))
	default:
		respond.Error(c, http.StatusBadRequest, "validation_error", "action must be restore or create", nil)
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, documents.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "version_not_found", "version not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "version operation failed", nil)
	}
}
