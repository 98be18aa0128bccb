package documents

import (
	"context"
	"sort"
	"sync"
	"time"

	"cv-adapter/resume/model"
)

// MemoryRepo is an in-memory implementation of DocumentsRepo.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Document
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Document)}
}

// Create stores a new document.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc.Content = doc.Content.Clone()
	r.byID[doc.ID] = doc
	return nil
}

// GetByID returns a document by ID for a user.
func (r *MemoryRepo) GetByID(ctx context.Context, userID, documentID string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.byID[documentID]
	if !ok || doc.UserID != userID {
		return Document{}, ErrNotFound
	}
	return copyDoc(doc), nil
}

// ListByUser returns documents for a user, newest first, honoring limit/offset.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	r.mu.RLock()
	var docs []Document
	for _, d := range r.byID {
		if d.UserID == userID {
			docs = append(docs, copyDoc(d))
		}
	}
	r.mu.RUnlock()

	if offset >= len(docs) {
		return []Document{}, nil
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	end := len(docs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return docs[offset:end], nil
}

// UpdateContent replaces the document content.
func (r *MemoryRepo) UpdateContent(ctx context.Context, userID, documentID string, content model.CV) error {
	return r.Update(ctx, userID, documentID, func(d *Document) error {
		d.Content = content.Clone()
		return nil
	})
}

// SetReviewState records the pending-review flag and source version.
func (r *MemoryRepo) SetReviewState(ctx context.Context, userID, documentID string, pending bool, sourceVersion *int) error {
	return r.Update(ctx, userID, documentID, func(d *Document) error {
		d.PendingReview = pending
		d.SourceVersion = copyInt(sourceVersion)
		return nil
	})
}

// AcquireOptimize marks the document in progress.
func (r *MemoryRepo) AcquireOptimize(ctx context.Context, userID, documentID string) error {
	return r.Update(ctx, userID, documentID, func(d *Document) error {
		if d.OptimizeStatus == OptimizeInProgress {
			return ErrOptimizeInProgress
		}
		d.OptimizeStatus = OptimizeInProgress
		return nil
	})
}

// ReleaseOptimize clears the in-progress marker.
func (r *MemoryRepo) ReleaseOptimize(ctx context.Context, userID, documentID, status string) error {
	return r.Update(ctx, userID, documentID, func(d *Document) error {
		d.OptimizeStatus = status
		return nil
	})
}

// Update applies fn to the stored document while holding the write lock. fn's changes are
// discarded when it returns an error.
func (r *MemoryRepo) Update(ctx context.Context, userID, documentID string, fn func(d *Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.byID[documentID]
	if !ok || doc.UserID != userID {
		return ErrNotFound
	}
	doc = copyDoc(doc)
	if err := fn(&doc); err != nil {
		return err
	}
	doc.UpdatedAt = time.Now().UTC()
	r.byID[documentID] = doc
	return nil
}

func copyDoc(d Document) Document {
	d.Content = d.Content.Clone()
	d.SourceVersion = copyInt(d.SourceVersion)
	return d
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

var _ DocumentsRepo = (*MemoryRepo)(nil)
