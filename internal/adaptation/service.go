package adaptation

import (
	"context"
	"encoding/json"
	"fmt"

	"cv-adapter/internal/shared/telemetry"
	"cv-adapter/internal/tasks"
)

// Enqueuer schedules background tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, nt tasks.NewTask, job tasks.Job) (tasks.Task, error)
}

// Service starts adaptation runs.
type Service struct {
	Documents DocumentStore
	Lock      OptimizeLock
	Tasks     Enqueuer
	// Credits charged per run.
	Credits int
	// DefaultMode applies when a request names no mode.
	DefaultMode string
}

// Start validates the request, claims the document and enqueues the run. A document with
// changes still awaiting review is only re-adapted when the request sets ReplaceExisting.
func (s *Service) Start(ctx context.Context, userID, documentID string, req StartRequest) (tasks.Task, error) {
	req, err := req.normalize()
	if err != nil {
		return tasks.Task{}, err
	}
	if userID == "" || documentID == "" {
		return tasks.Task{}, ErrInvalidInput
	}
	if req.Mode == "" {
		req.Mode = s.DefaultMode
	}

	doc, err := s.Documents.GetByID(ctx, userID, documentID)
	if err != nil {
		return tasks.Task{}, err
	}
	if doc.PendingReview && !req.ReplaceExisting {
		return tasks.Task{}, ErrPendingReview
	}
	if err := s.Lock.AcquireOptimize(ctx, userID, documentID); err != nil {
		return tasks.Task{}, err
	}

	payload, err := json.Marshal(Payload{
		Job:               req.Job,
		Mode:              req.Mode,
		ReplaceExisting:   req.ReplaceExisting,
		InterfaceLanguage: req.InterfaceLanguage,
	})
	if err != nil {
		s.Lock.ReleaseOptimize(userID, documentID, false)
		return tasks.Task{}, fmt.Errorf("encode adaptation payload: %w", err)
	}
	task, err := s.Tasks.Enqueue(ctx, tasks.NewTask{
		UserID:     userID,
		Kind:       Kind,
		DocumentID: documentID,
		DeviceID:   req.DeviceID,
		Payload:    payload,
		Credits:    s.Credits,
	}, nil)
	if err != nil {
		s.Lock.ReleaseOptimize(userID, documentID, false)
		return tasks.Task{}, err
	}
	telemetry.Info("adaptation.started", map[string]any{
		"request_id":  tasks.RequestIDFromContext(ctx),
		"task_id":     task.ID,
		"user_id":     userID,
		"document_id": documentID,
		"mode":        req.Mode,
		"replace":     req.ReplaceExisting,
	})
	return task, nil
}
