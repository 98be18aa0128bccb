package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cv-adapter/internal/shared/telemetry"
)

// ErrorBody is the error object every endpoint returns. RequestID echoes X-Request-Id so a
// client report can be matched to the log line.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error logs and aborts with status. Client errors log at warn, server errors at error.
func Error(c *gin.Context, status int, code, message string, details any) {
	reqID := c.GetString("requestId")
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": reqID,
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
	}
	if status >= http.StatusInternalServerError {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: reqID,
	}})
}
