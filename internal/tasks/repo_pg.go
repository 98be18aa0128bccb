package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const taskColumns = `id, user_id, kind, document_id, device_id, status, payload, result, error_code, error_message,
       success_message, progress, credits_charged, credits_refunded, started_at, completed_at, created_at, updated_at`

// Create inserts a new task.
func (r *PGRepo) Create(ctx context.Context, task Task) error {
	result, err := marshalJSONB(task.Result)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
INSERT INTO tasks (id, user_id, kind, document_id, device_id, status, payload, result, credits_charged, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		task.ID,
		task.UserID,
		task.Kind,
		nullString(task.DocumentID),
		nullString(task.DeviceID),
		task.Status,
		nullJSON(task.Payload),
		result,
		task.CreditsCharged,
		task.CreatedAt,
	)
	return err
}

// GetByID returns a task by ID.
func (r *PGRepo) GetByID(ctx context.Context, taskID string) (Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	return task, nil
}

// ListByUser returns the user's tasks newest first.
func (r *PGRepo) ListByUser(ctx context.Context, userID, status string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		query += ` AND status = $2 ORDER BY created_at DESC LIMIT $3`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

// ListByStatus returns every task in status, oldest first.
func (r *PGRepo) ListByStatus(ctx context.Context, status string) ([]Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at ASC`, status)
}

func (r *PGRepo) list(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// Transition applies a conditional status change in a single UPDATE.
func (r *PGRepo) Transition(ctx context.Context, taskID string, from []string, to string, upd Update) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	result, err := marshalJSONB(upd.Result)
	if err != nil {
		return false, err
	}
	args := []any{
		to,
		result,
		nullString(upd.ErrorCode),
		nullString(upd.ErrorMessage),
		nullString(upd.SuccessMessage),
		nullTime(upd.StartedAt),
		nullTime(upd.CompletedAt),
		taskID,
	}
	placeholders := make([]string, len(from))
	for i, s := range from {
		args = append(args, s)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	query := `
UPDATE tasks SET
    status = $1,
    result = COALESCE($2, result),
    error_code = COALESCE($3, error_code),
    error_message = COALESCE($4, error_message),
    success_message = COALESCE($5, success_message),
    started_at = COALESCE($6, started_at),
    completed_at = COALESCE($7, completed_at),
    progress = CASE WHEN $1 = 'completed' THEN 100 ELSE progress END,
    updated_at = NOW()
WHERE id = $8 AND status IN (` + strings.Join(placeholders, ", ") + `)`

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, taskID); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateProgress stores the latest percent for a non-terminal task.
func (r *PGRepo) UpdateProgress(ctx context.Context, taskID string, percent int) error {
	_, err := r.DB.ExecContext(ctx, `
UPDATE tasks SET progress = $1, updated_at = NOW()
WHERE id = $2 AND status IN ('queued', 'running')`, percent, taskID)
	return err
}

// MarkRefunded flips credits_refunded with a conditional update.
func (r *PGRepo) MarkRefunded(ctx context.Context, taskID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
UPDATE tasks SET credits_refunded = TRUE, updated_at = NOW()
WHERE id = $1 AND credits_refunded = FALSE`, taskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CreateSubtask inserts a running subtask.
func (r *PGRepo) CreateSubtask(ctx context.Context, sub Subtask) error {
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO subtasks (id, task_id, type, item_index, status, input, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.TaskID, sub.Type, sub.ItemIndex, sub.Status, nullJSON(sub.Input), sub.StartedAt,
	)
	return err
}

// FinishSubtask finalizes a running subtask exactly once.
func (r *PGRepo) FinishSubtask(ctx context.Context, subtaskID string, res SubtaskResult) error {
	completedAt := time.Now().UTC()
	out, err := r.DB.ExecContext(ctx, `
UPDATE subtasks SET
    status = $1,
    output = $2,
    modifications = $3,
    model = $4,
    prompt_tokens = $5,
    cached_tokens = $6,
    completion_tokens = $7,
    estimated_cost = $8,
    error = $9,
    completed_at = $10,
    duration_ms = (EXTRACT(EPOCH FROM ($10 - started_at)) * 1000)::BIGINT
WHERE id = $11 AND status = 'running'`,
		res.Status,
		nullJSON(res.Output),
		nullJSON(res.Modifications),
		nullString(res.Model),
		res.PromptTokens,
		res.CachedTokens,
		res.CompletionTokens,
		res.EstimatedCost,
		nullString(res.Error),
		completedAt,
		subtaskID,
	)
	if err != nil {
		return err
	}
	n, err := out.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var status string
	if err := r.DB.QueryRowContext(ctx, `SELECT status FROM subtasks WHERE id = $1`, subtaskID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return ErrSubtaskFinalized
}

// ListSubtasks returns a task's subtasks.
func (r *PGRepo) ListSubtasks(ctx context.Context, taskID string) ([]Subtask, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT id, task_id, type, item_index, status, input, output, modifications, model,
       prompt_tokens, cached_tokens, completion_tokens, estimated_cost, duration_ms, error, started_at, completed_at
FROM subtasks
WHERE task_id = $1
ORDER BY type, item_index`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Subtask{}
	for rows.Next() {
		var s Subtask
		var input, output, mods []byte
		var model, errMsg sql.NullString
		var prompt, cached, completion, duration sql.NullInt64
		var cost sql.NullFloat64
		var completedAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.TaskID, &s.Type, &s.ItemIndex, &s.Status, &input, &output, &mods, &model,
			&prompt, &cached, &completion, &cost, &duration, &errMsg, &s.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		s.Input, s.Output, s.Modifications = input, output, mods
		s.Model = model.String
		s.PromptTokens = int(prompt.Int64)
		s.CachedTokens = int(cached.Int64)
		s.CompletionTokens = int(completion.Int64)
		s.EstimatedCost = cost.Float64
		s.DurationMs = duration.Int64
		s.Error = errMsg.String
		if completedAt.Valid {
			s.CompletedAt = &completedAt.Time
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (Task, error) {
	var t Task
	var documentID, deviceID, errorCode, errorMessage, successMessage sql.NullString
	var payload, result []byte
	var startedAt, completedAt sql.NullTime
	if err := s.Scan(
		&t.ID,
		&t.UserID,
		&t.Kind,
		&documentID,
		&deviceID,
		&t.Status,
		&payload,
		&result,
		&errorCode,
		&errorMessage,
		&successMessage,
		&t.Progress,
		&t.CreditsCharged,
		&t.CreditsRefunded,
		&startedAt,
		&completedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	t.DocumentID = documentID.String
	t.DeviceID = deviceID.String
	t.ErrorCode = errorCode.String
	t.ErrorMessage = errorMessage.String
	t.SuccessMessage = successMessage.String
	if len(payload) > 0 {
		t.Payload = json.RawMessage(payload)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &t.Result); err != nil {
			t.Result = nil
		}
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}

func marshalJSONB(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Repo = (*PGRepo)(nil)
