package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cv-adapter/internal/diff"
	"cv-adapter/internal/documents"
	"cv-adapter/internal/merge"
	"cv-adapter/internal/shared/telemetry"
	"cv-adapter/resume/model"
)

// DocumentStore is the part of the document repository review needs.
type DocumentStore interface {
	GetByID(ctx context.Context, userID, documentID string) (documents.Document, error)
	UpdateContent(ctx context.Context, userID, documentID string, content model.CV) error
	SetReviewState(ctx context.Context, userID, documentID string, pending bool, sourceVersion *int) error
}

// Service applies reviewer decisions and keeps document content in sync with them.
type Service struct {
	Repo      Repo
	Documents DocumentStore
}

// Initialize stores a fresh change set for the document, replacing any previous one, and flags
// the document as pending review. Every change starts pending. An empty change set clears review.
func (s *Service) Initialize(ctx context.Context, userID, documentID string, sourceVersion int, source model.CV, changes []diff.Change, outputs model.StageOutputs) error {
	if len(changes) == 0 {
		return s.Clear(ctx, userID, documentID)
	}
	pending := make([]diff.Change, len(changes))
	for i, c := range changes {
		c.Status = diff.StatusPending
		pending[i] = c
	}
	now := time.Now().UTC()
	st := State{
		DocumentID:    documentID,
		UserID:        userID,
		SourceVersion: sourceVersion,
		Source:        source.Clone(),
		Outputs:       outputs,
		Changes:       pending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Repo.Save(ctx, st); err != nil {
		return fmt.Errorf("save review state: %w", err)
	}
	if err := s.Documents.SetReviewState(ctx, userID, documentID, true, &sourceVersion); err != nil {
		return fmt.Errorf("flag pending review: %w", err)
	}
	telemetry.Info("review.initialized", map[string]any{
		"user_id":        userID,
		"document_id":    documentID,
		"source_version": sourceVersion,
		"changes":        len(pending),
	})
	return nil
}

// Get returns the document's review state. ErrNotFound means nothing is pending.
func (s *Service) Get(ctx context.Context, userID, documentID string) (State, error) {
	if _, err := s.Documents.GetByID(ctx, userID, documentID); err != nil {
		return State{}, err
	}
	st, err := s.Repo.Get(ctx, documentID)
	if err != nil {
		return State{}, err
	}
	if st.UserID != userID {
		return State{}, ErrNotFound
	}
	return st, nil
}

// Decide accepts or rejects the changes named by ids. Unknown ids are skipped and changes already
// in the requested status are left alone, so repeating a call is a no-op. The result carries the
// whole change list with current statuses, empty once everything is reviewed. The document content is
// rebuilt from the source snapshot, the outputs and every decision so far. Once nothing is pending
// the review state is cleared; deciding on a document with no review state reports everything
// reviewed.
func (s *Service) Decide(ctx context.Context, userID, documentID string, ids []string, action string) (DecideResult, error) {
	var target diff.Status
	switch action {
	case ActionAccept:
		target = diff.StatusAccepted
	case ActionReject:
		target = diff.StatusRejected
	default:
		return DecideResult{}, fmt.Errorf("%w: action %q", ErrInvalidDecision, action)
	}
	if len(ids) == 0 {
		return DecideResult{}, fmt.Errorf("%w: no change ids", ErrInvalidDecision)
	}
	if _, err := s.Documents.GetByID(ctx, userID, documentID); err != nil {
		return DecideResult{}, err
	}

	var res DecideResult
	err := s.Repo.Update(ctx, documentID, func(st *State) error {
		if st.UserID != userID {
			return ErrNotFound
		}
		index := make(map[string]int, len(st.Changes))
		for i, c := range st.Changes {
			index[c.ID] = i
		}
		for _, id := range ids {
			i, ok := index[id]
			if !ok || st.Changes[i].Status == target {
				continue
			}
			st.Changes[i].Status = target
			res.ProcessedCount++
		}
		res.Progress = ProgressOf(st.Changes)
		res.AllReviewed = res.Progress.Pending == 0
		res.UpdatedChanges = []diff.Change{}
		if !res.AllReviewed {
			res.UpdatedChanges = append(res.UpdatedChanges, st.Changes...)
		}
		if res.ProcessedCount == 0 {
			return nil
		}
		merged := merge.Merge(st.Source, st.Outputs, Decisions(st.Changes))
		if err := s.Documents.UpdateContent(ctx, userID, documentID, merged.CV); err != nil {
			return fmt.Errorf("update content: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		// Nothing left to review: the last decision already cleared the state.
		return DecideResult{UpdatedChanges: []diff.Change{}, AllReviewed: true, Progress: ProgressOf(nil)}, nil
	}
	if err != nil {
		return DecideResult{}, err
	}

	telemetry.Info("review.decided", map[string]any{
		"user_id":     userID,
		"document_id": documentID,
		"action":      action,
		"processed":   res.ProcessedCount,
		"pending":     res.Progress.Pending,
	})
	if res.AllReviewed {
		if err := s.Clear(ctx, userID, documentID); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Clear drops the review state and resets the document's review flags.
func (s *Service) Clear(ctx context.Context, userID, documentID string) error {
	if err := s.Repo.Delete(ctx, documentID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete review state: %w", err)
	}
	if err := s.Documents.SetReviewState(ctx, userID, documentID, false, nil); err != nil {
		return fmt.Errorf("clear pending review: %w", err)
	}
	return nil
}

// Decisions maps every decided change to its merge verdict. Pending changes are omitted and
// therefore merge as accepted.
func Decisions(changes []diff.Change) map[string]merge.Decision {
	out := make(map[string]merge.Decision, len(changes))
	for _, c := range changes {
		switch c.Status {
		case diff.StatusAccepted:
			out[c.ID] = merge.Accepted
		case diff.StatusRejected:
			out[c.ID] = merge.Rejected
		}
	}
	return out
}
