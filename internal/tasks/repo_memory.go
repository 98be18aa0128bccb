package tasks

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores tasks in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu       sync.RWMutex
	byID     map[string]Task
	subtasks map[string]Subtask
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:     make(map[string]Task),
		subtasks: make(map[string]Subtask),
	}
}

// Create stores the task.
func (r *MemoryRepo) Create(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[task.ID] = copyTask(task)
	return nil
}

// GetByID returns a task by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, taskID string) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.byID[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	return copyTask(task), nil
}

// ListByUser returns the user's tasks, newest first.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID, status string, limit int) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := []Task{}
	for _, t := range r.byID {
		if t.UserID == userID && (status == "" || t.Status == status) {
			out = append(out, copyTask(t))
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByStatus returns every task currently in status, oldest first.
func (r *MemoryRepo) ListByStatus(ctx context.Context, status string) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := []Task{}
	for _, t := range r.byID {
		if t.Status == status {
			out = append(out, copyTask(t))
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Transition applies a conditional status change.
func (r *MemoryRepo) Transition(ctx context.Context, taskID string, from []string, to string, upd Update) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.byID[taskID]
	if !ok {
		return false, ErrNotFound
	}
	if !slices.Contains(from, task.Status) {
		return false, nil
	}
	task.Status = to
	if upd.Result != nil {
		task.Result = upd.Result
	}
	if upd.ErrorCode != "" {
		task.ErrorCode = upd.ErrorCode
	}
	if upd.ErrorMessage != "" {
		task.ErrorMessage = upd.ErrorMessage
	}
	if upd.SuccessMessage != "" {
		task.SuccessMessage = upd.SuccessMessage
	}
	if upd.StartedAt != nil {
		task.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		task.CompletedAt = upd.CompletedAt
	}
	if to == StatusCompleted {
		task.Progress = 100
	}
	task.UpdatedAt = time.Now().UTC()
	r.byID[taskID] = task
	return true, nil
}

// UpdateProgress stores the latest percent for a non-terminal task.
func (r *MemoryRepo) UpdateProgress(ctx context.Context, taskID string, percent int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.byID[taskID]
	if !ok {
		return ErrNotFound
	}
	if task.Terminal() {
		return nil
	}
	task.Progress = percent
	task.UpdatedAt = time.Now().UTC()
	r.byID[taskID] = task
	return nil
}

// MarkRefunded flips the refund flag once.
func (r *MemoryRepo) MarkRefunded(ctx context.Context, taskID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.byID[taskID]
	if !ok {
		return false, ErrNotFound
	}
	if task.CreditsRefunded {
		return false, nil
	}
	task.CreditsRefunded = true
	task.UpdatedAt = time.Now().UTC()
	r.byID[taskID] = task
	return true, nil
}

// CreateSubtask stores a running subtask.
func (r *MemoryRepo) CreateSubtask(ctx context.Context, sub Subtask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[sub.TaskID]; !ok {
		return ErrNotFound
	}
	r.subtasks[sub.ID] = sub
	return nil
}

// FinishSubtask finalizes a running subtask exactly once.
func (r *MemoryRepo) FinishSubtask(ctx context.Context, subtaskID string, res SubtaskResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subtasks[subtaskID]
	if !ok {
		return ErrNotFound
	}
	if sub.Status != SubtaskRunning {
		return ErrSubtaskFinalized
	}
	now := time.Now().UTC()
	sub.Status = res.Status
	sub.Output = res.Output
	sub.Modifications = res.Modifications
	sub.Model = res.Model
	sub.PromptTokens = res.PromptTokens
	sub.CachedTokens = res.CachedTokens
	sub.CompletionTokens = res.CompletionTokens
	sub.EstimatedCost = res.EstimatedCost
	sub.Error = res.Error
	sub.CompletedAt = &now
	sub.DurationMs = now.Sub(sub.StartedAt).Milliseconds()
	r.subtasks[subtaskID] = sub
	return nil
}

// ListSubtasks returns a task's subtasks ordered by type then item index.
func (r *MemoryRepo) ListSubtasks(ctx context.Context, taskID string) ([]Subtask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := []Subtask{}
	for _, s := range r.subtasks {
		if s.TaskID == taskID {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ItemIndex < out[j].ItemIndex
	})
	return out, nil
}

func copyTask(t Task) Task {
	if t.Result != nil {
		cp := make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			cp[k] = v
		}
		t.Result = cp
	}
	if t.Payload != nil {
		t.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	return t
}

var _ Repo = (*MemoryRepo)(nil)
