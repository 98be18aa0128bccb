package tasks

import "context"

// Repo defines persistence operations for tasks and their subtasks.
type Repo interface {
	Create(ctx context.Context, task Task) error
	GetByID(ctx context.Context, taskID string) (Task, error)
	// ListByUser returns the user's tasks newest first. An empty status matches all.
	ListByUser(ctx context.Context, userID, status string, limit int) ([]Task, error)
	ListByStatus(ctx context.Context, status string) ([]Task, error)
	// Transition moves the task to status to when its current status is one of from.
	// It reports false, without error, when the current status did not match.
	Transition(ctx context.Context, taskID string, from []string, to string, upd Update) (bool, error)
	UpdateProgress(ctx context.Context, taskID string, percent int) error
	// MarkRefunded sets credits_refunded and reports whether this call was the one to set it.
	MarkRefunded(ctx context.Context, taskID string) (bool, error)

	CreateSubtask(ctx context.Context, sub Subtask) error
	// FinishSubtask finalizes a running subtask. A second call returns ErrSubtaskFinalized.
	FinishSubtask(ctx context.Context, subtaskID string, res SubtaskResult) error
	ListSubtasks(ctx context.Context, taskID string) ([]Subtask, error)
}
