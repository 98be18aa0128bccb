package tasks

import (
	"context"
	"encoding/json"
	"os"
	"time"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

const (
	SubtaskRunning   = "running"
	SubtaskCompleted = "completed"
	SubtaskFailed    = "failed"
)

// IsTerminal reports whether status can never change again.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is a persisted unit of background work.
type Task struct {
	ID              string
	UserID          string
	Kind            string
	DocumentID      string
	DeviceID        string
	Status          string
	Payload         json.RawMessage
	Result          map[string]any
	ErrorCode       string
	ErrorMessage    string
	SuccessMessage  string
	Progress        int
	CreditsCharged  int
	CreditsRefunded bool
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Terminal reports whether the task has finished.
func (t Task) Terminal() bool { return IsTerminal(t.Status) }

// NewTask describes a task to enqueue.
type NewTask struct {
	UserID     string
	Kind       string
	DocumentID string
	DeviceID   string
	Payload    json.RawMessage
	Credits    int
}

// Update carries the optional fields written alongside a status transition.
type Update struct {
	Result         map[string]any
	ErrorCode      string
	ErrorMessage   string
	SuccessMessage string
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Subtask is one AI call made on behalf of a task, typically one list item.
type Subtask struct {
	ID               string
	TaskID           string
	Type             string
	ItemIndex        int
	Status           string
	Input            json.RawMessage
	Output           json.RawMessage
	Modifications    json.RawMessage
	Model            string
	PromptTokens     int
	CachedTokens     int
	CompletionTokens int
	EstimatedCost    float64
	DurationMs       int64
	Error            string
	StartedAt        time.Time
	CompletedAt      *time.Time
}

// SubtaskResult finalizes a subtask.
type SubtaskResult struct {
	Status           string
	Output           json.RawMessage
	Modifications    json.RawMessage
	Model            string
	PromptTokens     int
	CachedTokens     int
	CompletionTokens int
	EstimatedCost    float64
	Error            string
}

// Outcome is what a job reports on success.
type Outcome struct {
	Result         map[string]any
	SuccessMessage string
}

// Runtime is the part of the scheduler a running job talks to.
type Runtime interface {
	// Checkpoint returns ErrCancelled once the task has been cancelled.
	Checkpoint(ctx context.Context, taskID string) error
	SetProgress(ctx context.Context, taskID string, percent int) error
	// RegisterProcess ties a subprocess to the task's cancellation. exited must be closed
	// once the process has been waited on.
	RegisterProcess(taskID string, p *os.Process, exited <-chan struct{})
}

// Job is the body of a task kind.
type Job interface {
	Run(ctx context.Context, task Task, rt Runtime) (Outcome, error)
}

// Finalizer is implemented by jobs that hold resources across the whole task lifetime. The
// scheduler calls Finalize once the task reaches status, including tasks cancelled or failed
// before their job ever ran.
type Finalizer interface {
	Finalize(ctx context.Context, task Task, status string)
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context, task Task, rt Runtime) (Outcome, error)

func (f JobFunc) Run(ctx context.Context, task Task, rt Runtime) (Outcome, error) {
	return f(ctx, task, rt)
}
