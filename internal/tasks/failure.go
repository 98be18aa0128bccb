package tasks

import (
	"context"
	"errors"
	"strings"

	"cv-adapter/internal/llm"
)

const quotaMessage = "AI provider quota exhausted"

func classifyFailure(err error) string {
	switch {
	case err == nil:
		return ErrorCodeInternal
	case errors.Is(err, llm.ErrQuotaExceeded), llm.IsQuotaError(err):
		return ErrorCodeQuotaExceeded
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ErrorCodeCancelled
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "llm") || strings.Contains(msg, "openai") || strings.Contains(msg, "gemini") || errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeLLMFailed
	}
	return ErrorCodeInternal
}

// userMessage is the text stored on the task for clients.
func userMessage(code string, err error) string {
	if code == ErrorCodeQuotaExceeded {
		return quotaMessage
	}
	return sanitizeError(err)
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
