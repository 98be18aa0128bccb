package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"cv-adapter/internal/shared/telemetry"
)

func TestLoggingIncludesRequiredFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	telemetry.SetLogger(zap.New(core))
	t.Cleanup(func() { telemetry.SetLogger(zap.NewNop()) })

	router := gin.New()
	router.Use(RequestID(), Auth("dev", nil), Logging())
	router.POST("/test", func(c *gin.Context) {
		c.Set("documentId", "doc-1")
		c.Set("taskId", "task-1")
		c.Set("statusTransition", "idle->inprogress")
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.Header.Set("X-Guest-Id", "guest1")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	entries := logs.FilterMessage("request.complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	required := []string{"request_id", "user_id", "document_id", "task_id", "duration_ms", "status", "status_transition"}
	for _, key := range required {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing log field: %s", key)
		}
	}
	if fields["user_id"] != "guest:guest1" {
		t.Fatalf("unexpected user_id: %v", fields["user_id"])
	}
	if fields["task_id"] != "task-1" || fields["document_id"] != "doc-1" {
		t.Fatalf("unexpected ids: %v %v", fields["task_id"], fields["document_id"])
	}
	if fields["status_transition"] != "idle->inprogress" {
		t.Fatalf("unexpected status_transition: %v", fields["status_transition"])
	}
}
