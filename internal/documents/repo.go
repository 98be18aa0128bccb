package documents

import (
	"context"

	"cv-adapter/resume/model"
)

// DocumentsRepo defines persistence operations for documents.
type DocumentsRepo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, userID, documentID string) (Document, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Document, error)
	UpdateContent(ctx context.Context, userID, documentID string, content model.CV) error
	// SetReviewState records whether a change set awaits review and which version it was built from.
	SetReviewState(ctx context.Context, userID, documentID string, pending bool, sourceVersion *int) error
	// AcquireOptimize marks the document in progress unless it already is.
	AcquireOptimize(ctx context.Context, userID, documentID string) error
	ReleaseOptimize(ctx context.Context, userID, documentID, status string) error
}
