package versions

import (
	"context"
	"fmt"
	"strings"

	"cv-adapter/internal/documents"
	"cv-adapter/internal/shared/telemetry"
	"cv-adapter/resume/model"
)

// DocumentStore is the part of the document repository restore needs.
type DocumentStore interface {
	GetByID(ctx context.Context, userID, documentID string) (documents.Document, error)
	UpdateContent(ctx context.Context, userID, documentID string, content model.CV) error
}

// ReviewClearer discards a document's pending change set.
type ReviewClearer interface {
	Clear(ctx context.Context, userID, documentID string) error
}

// Mirror receives every snapshot after it is stored.
type Mirror interface {
	Commit(snap Snapshot) (string, error)
}

// Service creates, lists and restores snapshots.
type Service struct {
	Repo      Repo
	Documents DocumentStore
	Review    ReviewClearer
	// Mirror is optional; mirror failures are logged and never fail the snapshot.
	Mirror Mirror
}

// Create snapshots the current content and advances the document's content version.
func (s *Service) Create(ctx context.Context, userID, documentID string, ns NewSnapshot) (Snapshot, error) {
	ns.Label = strings.TrimSpace(ns.Label)
	if userID == "" || documentID == "" || !validChangeType(ns.ChangeType) {
		return Snapshot{}, ErrInvalidInput
	}
	snap, err := s.Repo.Create(ctx, userID, documentID, ns)
	if err != nil {
		return Snapshot{}, err
	}
	telemetry.Info("version.created", map[string]any{
		"user_id":     userID,
		"document_id": documentID,
		"version":     snap.Version,
		"change_type": snap.ChangeType,
	})
	if s.Mirror != nil {
		if hash, err := s.Mirror.Commit(snap); err != nil {
			telemetry.Error("version.mirror_failed", map[string]any{
				"document_id": documentID,
				"version":     snap.Version,
				"error":       err,
			})
		} else {
			telemetry.Info("version.mirrored", map[string]any{"document_id": documentID, "version": snap.Version, "commit": hash})
		}
	}
	return snap, nil
}

func (s *Service) List(ctx context.Context, userID, documentID string) ([]Snapshot, error) {
	return s.Repo.List(ctx, userID, documentID)
}

func (s *Service) Get(ctx context.Context, userID, documentID string, version int) (Snapshot, error) {
	if version < 1 {
		return Snapshot{}, ErrInvalidInput
	}
	return s.Repo.Get(ctx, userID, documentID, version)
}

// Restore replaces the content with the given version. The current content is snapshotted first
// so the restore itself can be undone, and any pending review is discarded.
func (s *Service) Restore(ctx context.Context, userID, documentID string, version int) (Snapshot, error) {
	target, err := s.Get(ctx, userID, documentID, version)
	if err != nil {
		return Snapshot{}, err
	}
	snap, err := s.Create(ctx, userID, documentID, NewSnapshot{
		Label:         fmt.Sprintf("Restore from v%d", version),
		ChangeType:    ChangeRestore,
		SourceVersion: &target.Version,
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot before restore: %w", err)
	}
	if err := s.Documents.UpdateContent(ctx, userID, documentID, target.Content); err != nil {
		return Snapshot{}, fmt.Errorf("restore content: %w", err)
	}
	if s.Review != nil {
		if err := s.Review.Clear(ctx, userID, documentID); err != nil {
			return Snapshot{}, fmt.Errorf("clear review: %w", err)
		}
	}
	telemetry.Info("version.restored", map[string]any{
		"user_id":          userID,
		"document_id":      documentID,
		"restored_version": version,
		"snapshot_version": snap.Version,
	})
	return snap, nil
}
