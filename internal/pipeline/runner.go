package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cv-adapter/internal/events"
	"cv-adapter/internal/llm"
	"cv-adapter/internal/shared/metrics"
	"cv-adapter/internal/shared/telemetry"
	"cv-adapter/internal/tasks"
)

// SubtaskStore records one row per AI call.
type SubtaskStore interface {
	CreateSubtask(ctx context.Context, sub tasks.Subtask) error
	FinishSubtask(ctx context.Context, subtaskID string, res tasks.SubtaskResult) error
}

// runner holds the state of a single run.
type runner struct {
	o        *Orchestrator
	in       Input
	rt       tasks.Runtime
	progress *Progress
	job      JobContext

	mu       sync.Mutex
	usage    Usage
	firstErr error
}

// call describes one AI request made on behalf of an item.
type call struct {
	stage string
	index int
	label string
	input any
	vars  map[string]any
	// shared marks calls of a fanned-out stage so they reuse one cached prefix.
	shared bool
}

func (r *runner) checkpoint(ctx context.Context) error {
	if r.rt == nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", tasks.ErrCancelled, err)
		}
		return nil
	}
	return r.rt.Checkpoint(ctx, r.in.TaskID)
}

// generate runs one AI call as a subtask. handle turns the raw content into the modifications
// recorded on the subtask; its error fails the subtask like a backend error would.
func (r *runner) generate(ctx context.Context, c call, handle func(raw json.RawMessage) (any, error)) error {
	if err := r.checkpoint(ctx); err != nil {
		return err
	}
	stage, err := r.o.Catalog.Lookup(c.stage, r.o.Model)
	if err != nil {
		return err
	}
	system, user, err := stage.Render(c.vars)
	if err != nil {
		return err
	}

	sub := tasks.Subtask{
		ID:        uuid.NewString(),
		TaskID:    r.in.TaskID,
		Type:      c.stage,
		ItemIndex: c.index,
		Status:    tasks.SubtaskRunning,
		Input:     marshalRaw(c.input),
		StartedAt: time.Now().UTC(),
	}
	if r.o.Subtasks != nil {
		if err := r.o.Subtasks.CreateSubtask(ctx, sub); err != nil {
			return fmt.Errorf("create subtask: %w", err)
		}
	}

	req := llm.Request{
		Stage:       c.stage,
		Model:       stage.Model,
		System:      system,
		Prompt:      user,
		SchemaName:  c.stage,
		Schema:      stage.Schema,
		Temperature: stage.Temperature,
	}
	if c.shared {
		req.CacheKey = r.in.TaskID + ":" + c.stage
	}
	resp, err := r.o.LLM.Generate(ctx, req)
	var mods any
	if err == nil {
		if len(resp.Content) == 0 {
			err = fmt.Errorf("%s: %w", c.stage, ErrNoResponse)
		} else {
			mods, err = handle(resp.Content)
		}
	}

	model := resp.Model
	if model == "" {
		model = stage.Model
	}
	cost := r.o.Catalog.EstimateCost(model, resp.Usage.PromptTokens, resp.Usage.CachedTokens, resp.Usage.CompletionTokens)
	r.addUsage(model, resp.Usage, cost)

	res := tasks.SubtaskResult{
		Status:           tasks.SubtaskCompleted,
		Output:           resp.Content,
		Modifications:    marshalRaw(mods),
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CachedTokens:     resp.Usage.CachedTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		EstimatedCost:    cost,
	}
	if err != nil {
		res.Status = tasks.SubtaskFailed
		res.Error = truncate(err.Error(), 500)
	}
	if r.o.Subtasks != nil {
		if finErr := r.o.Subtasks.FinishSubtask(context.Background(), sub.ID, res); finErr != nil {
			telemetry.Error("pipeline.subtask.finish_failed", map[string]any{
				"task_id":    r.in.TaskID,
				"subtask_id": sub.ID,
				"error":      finErr,
			})
		}
	}
	if err != nil {
		r.mu.Lock()
		if r.firstErr == nil {
			r.firstErr = err
		}
		r.mu.Unlock()
		telemetry.Error("pipeline.item_failed", map[string]any{
			"task_id":    r.in.TaskID,
			"stage":      c.stage,
			"item_index": c.index,
			"error":      err,
		})
		return fmt.Errorf("%s item %d: %w", c.stage, c.index, err)
	}
	return nil
}

func (r *runner) firstFailure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.firstErr == nil {
		return ErrNoResponse
	}
	return r.firstErr
}

func (r *runner) addUsage(model string, u llm.Usage, cost float64) {
	metrics.AddTokens(model, u.PromptTokens, u.CachedTokens, u.CompletionTokens)
	r.mu.Lock()
	r.usage.PromptTokens += u.PromptTokens
	r.usage.CachedTokens += u.CachedTokens
	r.usage.CompletionTokens += u.CompletionTokens
	r.usage.EstimatedCost += cost
	r.mu.Unlock()
}

// stage wraps fn with progress, metrics and logging.
func (r *runner) stage(ctx context.Context, name string, fn func(ctx context.Context) (Stats, error)) (Stats, error) {
	started := time.Now()
	r.progress.Start(name)
	r.emitStage(ctx, name, StateRunning)

	stats, err := fn(ctx)
	state := StateCompleted
	if err != nil || (stats.Total > 0 && stats.Succeeded == 0) {
		state = StateFailed
	}
	if state == StateCompleted {
		r.progress.Complete(name)
	} else {
		r.progress.Fail(name)
	}
	metrics.ObserveStage(name, time.Since(started))
	fields := map[string]any{
		"task_id":           r.in.TaskID,
		"stage":             name,
		"status_transition": StateRunning + "->" + state,
		"duration_ms":       time.Since(started).Milliseconds(),
		"total":             stats.Total,
		"failed":            stats.Failed,
	}
	if err != nil {
		fields["error"] = err
	}
	telemetry.Info("pipeline.stage", fields)
	r.emitStage(ctx, name, state)
	return stats, err
}

func (r *runner) emitStage(ctx context.Context, stage, status string) {
	percent := r.progress.Percent()
	if r.rt != nil {
		if err := r.rt.SetProgress(ctx, r.in.TaskID, percent); err != nil && ctx.Err() == nil {
			telemetry.Error("pipeline.progress_failed", map[string]any{"task_id": r.in.TaskID, "error": err})
		}
	}
	r.publish(events.TypeProgress, map[string]any{
		"phase":   stage,
		"step":    stage,
		"status":  status,
		"percent": percent,
	})
}

func (r *runner) emitItem(stage string, index, total int, label string, err error) {
	status := StateCompleted
	if err != nil {
		status = StateFailed
	}
	r.publish(events.TypeItem, map[string]any{
		"phase":       stage,
		"itemId":      fmt.Sprintf("%s:%d", stage, index),
		"itemIndex":   index,
		"totalItems":  total,
		"currentItem": label,
		"status":      status,
		"percent":     r.progress.Percent(),
	})
}

func (r *runner) publish(typ events.Type, payload map[string]any) {
	if r.o.Events == nil {
		return
	}
	payload["taskId"] = r.in.TaskID
	if r.in.DocumentID != "" {
		payload["documentId"] = r.in.DocumentID
	}
	r.o.Events.Publish(events.Event{Type: typ, TaskID: r.in.TaskID, UserID: r.in.UserID, Payload: payload})
}

// fanOut runs one call per item with the cache-first strategy and reports item events.
func fanOut[T any](ctx context.Context, r *runner, stage string, items []T, label func(T) string, fn func(ctx context.Context, item T) error) Stats {
	var done sync.Mutex
	finished := 0
	errs := FanOut(ctx, items, r.o.FanOutLimit, func(ctx context.Context, i int, item T) error {
		err := fn(ctx, item)
		done.Lock()
		finished++
		r.progress.Items(stage, finished, len(items))
		done.Unlock()
		r.emitItem(stage, i, len(items), label(item), err)
		return err
	})
	return countErrors(errs)
}

func marshalRaw(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}
