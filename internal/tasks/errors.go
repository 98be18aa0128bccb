package tasks

import "errors"

var (
	ErrNotFound         = errors.New("task not found")
	ErrCancelled        = errors.New("task cancelled")
	ErrSubtaskFinalized = errors.New("subtask already finalized")
	ErrUnknownKind      = errors.New("no job registered for task kind")
	ErrInvalidInput     = errors.New("invalid input")
)

const (
	ErrorCodeLLMFailed     = "LLM_FAILED"
	ErrorCodeQuotaExceeded = "QUOTA_EXCEEDED"
	ErrorCodeCancelled     = "CANCELLED"
	ErrorCodeInterrupted   = "INTERRUPTED"
	ErrorCodeInternal      = "INTERNAL"
)
