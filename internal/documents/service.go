package documents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cv-adapter/internal/shared/telemetry"
	"cv-adapter/resume/model"
)

// Service contains business logic for documents.
type Service struct {
	Repo DocumentsRepo
}

// Create validates and stores a new document at content version 1.
func (s *Service) Create(ctx context.Context, userID, name string, content model.CV) (Document, error) {
	name = strings.TrimSpace(name)
	if userID == "" || name == "" {
		return Document{}, ErrInvalidInput
	}
	if err := content.Validate(); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	now := time.Now().UTC()
	doc := Document{
		ID:             uuid.NewString(),
		UserID:         userID,
		Name:           name,
		Content:        content,
		ContentVersion: 1,
		OptimizeStatus: OptimizeIdle,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Repo.Create(ctx, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Get returns a document owned by userID.
func (s *Service) Get(ctx context.Context, userID, documentID string) (Document, error) {
	if userID == "" || documentID == "" {
		return Document{}, ErrInvalidInput
	}
	return s.Repo.GetByID(ctx, userID, documentID)
}

// List returns the user's documents newest first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Document, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	return s.Repo.ListByUser(ctx, userID, limit, offset)
}

// AcquireOptimize claims the per-document optimisation slot. It returns ErrOptimizeInProgress
// when another run holds it.
func (s *Service) AcquireOptimize(ctx context.Context, userID, documentID string) error {
	if err := s.Repo.AcquireOptimize(ctx, userID, documentID); err != nil {
		return err
	}
	telemetry.Info("document.optimize", map[string]any{
		"user_id":           userID,
		"document_id":       documentID,
		"status_transition": "idle->inprogress",
	})
	return nil
}

// ReleaseOptimize frees the slot. failed records that the last run did not complete.
// It uses a fresh context so release happens even after cancellation.
func (s *Service) ReleaseOptimize(userID, documentID string, failed bool) {
	status := OptimizeIdle
	if failed {
		status = OptimizeFailed
	}
	if err := s.Repo.ReleaseOptimize(context.Background(), userID, documentID, status); err != nil {
		telemetry.Error("document.optimize.release_failed", map[string]any{
			"user_id":     userID,
			"document_id": documentID,
			"error":       err,
		})
		return
	}
	telemetry.Info("document.optimize", map[string]any{
		"user_id":           userID,
		"document_id":       documentID,
		"status_transition": "inprogress->" + status,
	})
}
