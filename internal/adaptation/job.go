package adaptation

import (
	"context"
	"encoding/json"
	"fmt"

	"cv-adapter/internal/diff"
	"cv-adapter/internal/documents"
	"cv-adapter/internal/pipeline"
	"cv-adapter/internal/shared/telemetry"
	"cv-adapter/internal/tasks"
	"cv-adapter/internal/versions"
	"cv-adapter/resume/model"
)

// Pipeline produces an adapted document and its change set.
type Pipeline interface {
	Run(ctx context.Context, in pipeline.Input, rt tasks.Runtime) (pipeline.Result, error)
}

// DocumentStore reads and replaces document content.
type DocumentStore interface {
	GetByID(ctx context.Context, userID, documentID string) (documents.Document, error)
	UpdateContent(ctx context.Context, userID, documentID string, content model.CV) error
}

// OptimizeLock is the per-document "adaptation in progress" marker.
type OptimizeLock interface {
	AcquireOptimize(ctx context.Context, userID, documentID string) error
	ReleaseOptimize(userID, documentID string, failed bool)
}

// Snapshotter records the content about to be replaced.
type Snapshotter interface {
	Create(ctx context.Context, userID, documentID string, ns versions.NewSnapshot) (versions.Snapshot, error)
}

// Reviewer stores the change set produced by a run.
type Reviewer interface {
	Initialize(ctx context.Context, userID, documentID string, sourceVersion int, source model.CV, changes []diff.Change, outputs model.StageOutputs) error
}

// Job runs one adaptation task. It is registered with the scheduler under Kind.
type Job struct {
	Pipeline  Pipeline
	Documents DocumentStore
	Lock      OptimizeLock
	Versions  Snapshotter
	Review    Reviewer
}

// Run adapts the task's document. Nothing is written until the pipeline has finished and a
// durable cancellation check has passed, so a cancelled run leaves the document untouched.
func (j *Job) Run(ctx context.Context, task tasks.Task, rt tasks.Runtime) (tasks.Outcome, error) {
	var p Payload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return tasks.Outcome{}, fmt.Errorf("decode adaptation payload: %w", err)
	}
	doc, err := j.Documents.GetByID(ctx, task.UserID, task.DocumentID)
	if err != nil {
		return tasks.Outcome{}, fmt.Errorf("load document: %w", err)
	}

	res, err := j.Pipeline.Run(ctx, pipeline.Input{
		TaskID:            task.ID,
		UserID:            task.UserID,
		DocumentID:        task.DocumentID,
		Source:            doc.Content,
		Job:               p.Job,
		Mode:              p.Mode,
		InterfaceLanguage: p.InterfaceLanguage,
	}, rt)
	if err != nil {
		return tasks.Outcome{}, err
	}

	if err := rt.Checkpoint(ctx, task.ID); err != nil {
		return tasks.Outcome{}, err
	}
	snap, err := j.Versions.Create(ctx, task.UserID, task.DocumentID, versions.NewSnapshot{
		Label:      "Before adaptation: " + p.Job.Title,
		ChangeType: versions.ChangeAdaptation,
	})
	if err != nil {
		return tasks.Outcome{}, fmt.Errorf("snapshot before adaptation: %w", err)
	}
	if err := j.Documents.UpdateContent(ctx, task.UserID, task.DocumentID, res.Adapted); err != nil {
		return tasks.Outcome{}, fmt.Errorf("save adapted content: %w", err)
	}
	if err := j.Review.Initialize(ctx, task.UserID, task.DocumentID, snap.Version, doc.Content, res.Changes, res.Outputs); err != nil {
		// Adapted content is only kept alongside its change set.
		if rerr := j.Documents.UpdateContent(context.WithoutCancel(ctx), task.UserID, task.DocumentID, doc.Content); rerr != nil {
			telemetry.Error("adaptation.restore_failed", map[string]any{"task_id": task.ID, "document_id": task.DocumentID, "error": rerr})
		}
		return tasks.Outcome{}, fmt.Errorf("initialize review: %w", err)
	}

	outcome := "complete"
	if !res.Stats.Success() {
		outcome = "partial"
	}
	telemetry.Info("adaptation.saved", map[string]any{
		"task_id":        task.ID,
		"document_id":    task.DocumentID,
		"mode":           res.Mode,
		"source_version": snap.Version,
		"changes":        len(res.Changes),
		"outcome":        outcome,
	})
	return tasks.Outcome{
		Result: map[string]any{
			"totalGenerated": res.Stats.Succeeded,
			"totalFailed":    res.Stats.Failed,
			"outcome":        outcome,
			"mode":           res.Mode,
			"changes":        len(res.Changes),
			"sourceVersion":  snap.Version,
			"usage":          res.Usage,
		},
		SuccessMessage: successMessage(p.InterfaceLanguage, res.Stats, len(res.Changes)),
	}, nil
}

// Finalize releases the document's optimisation marker whatever the outcome.
func (j *Job) Finalize(_ context.Context, task tasks.Task, status string) {
	if task.DocumentID == "" || j.Lock == nil {
		return
	}
	j.Lock.ReleaseOptimize(task.UserID, task.DocumentID, status != tasks.StatusCompleted)
}

var (
	_ tasks.Job       = (*Job)(nil)
	_ tasks.Finalizer = (*Job)(nil)
)
