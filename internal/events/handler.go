package events

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cv-adapter/internal/shared/server/middleware"
	"cv-adapter/internal/shared/server/respond"
	"cv-adapter/internal/shared/telemetry"
)

const (
	// StaleAfter flags hydrated tasks whose last update is older than this.
	StaleAfter        = 5 * time.Minute
	heartbeatInterval = 25 * time.Second
)

// TaskSnapshot is the hydration view of one running task.
type TaskSnapshot struct {
	TaskID     string    `json:"taskId"`
	Kind       string    `json:"kind"`
	DocumentID string    `json:"documentId,omitempty"`
	Status     string    `json:"status"`
	Percent    int       `json:"percent"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Stale      bool      `json:"stale"`
}

// Snapshotter lists a user's running tasks for hydration on connect.
type Snapshotter interface {
	RunningSnapshots(ctx context.Context, userID string) ([]TaskSnapshot, error)
}

// Handler streams events over SSE.
type Handler struct {
	Bus       *Bus
	Snapshots Snapshotter
	Heartbeat time.Duration
	now       func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(bus *Bus, snapshots Snapshotter) *Handler {
	return &Handler{Bus: bus, Snapshots: snapshots, Heartbeat: heartbeatInterval, now: time.Now}
}

// RegisterRoutes attaches the event stream to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/events", h.stream)
}

func (h *Handler) stream(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "Missing identity", nil)
		return
	}
	ctx := c.Request.Context()

	ch, cancel := h.Bus.Subscribe(userID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(string(TypeSnapshot), Event{
		Type:    TypeSnapshot,
		UserID:  userID,
		Payload: map[string]any{"tasks": h.hydrate(ctx, userID)},
		At:      h.now().UTC(),
	})
	c.Writer.Flush()

	interval := h.Heartbeat
	if interval <= 0 {
		interval = heartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(string(e.Type), e)
			c.Writer.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func (h *Handler) hydrate(ctx context.Context, userID string) []TaskSnapshot {
	if h.Snapshots == nil {
		return []TaskSnapshot{}
	}
	snaps, err := h.Snapshots.RunningSnapshots(ctx, userID)
	if err != nil {
		telemetry.Error("events.hydrate_failed", map[string]any{"user_id": userID, "error": err})
		return []TaskSnapshot{}
	}
	now := h.now()
	for i := range snaps {
		snaps[i].Stale = now.Sub(snaps[i].UpdatedAt) > StaleAfter
	}
	if snaps == nil {
		snaps = []TaskSnapshot{}
	}
	return snaps
}
