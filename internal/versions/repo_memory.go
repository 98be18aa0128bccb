package versions

import (
	"context"
	"sort"
	"sync"
	"time"

	"cv-adapter/internal/documents"
)

// MemoryRepo keeps snapshots in memory next to a documents.MemoryRepo whose lock serializes
// version allocation.
type MemoryRepo struct {
	docs *documents.MemoryRepo

	mu    sync.RWMutex
	byDoc map[string][]Snapshot
}

func NewMemoryRepo(docs *documents.MemoryRepo) *MemoryRepo {
	return &MemoryRepo{docs: docs, byDoc: make(map[string][]Snapshot)}
}

func (r *MemoryRepo) Create(ctx context.Context, userID, documentID string, ns NewSnapshot) (Snapshot, error) {
	var snap Snapshot
	err := r.docs.Update(ctx, userID, documentID, func(d *documents.Document) error {
		snap = Snapshot{
			DocumentID:    documentID,
			Version:       d.ContentVersion,
			Label:         ns.Label,
			ChangeType:    ns.ChangeType,
			SourceVersion: copyInt(ns.SourceVersion),
			Content:       d.Content.Clone(),
			CreatedAt:     time.Now().UTC(),
		}
		r.mu.Lock()
		r.byDoc[documentID] = append(r.byDoc[documentID], snap)
		r.mu.Unlock()
		d.ContentVersion++
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (r *MemoryRepo) List(ctx context.Context, userID, documentID string) ([]Snapshot, error) {
	if _, err := r.docs.GetByID(ctx, userID, documentID); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.byDoc[documentID]))
	for _, s := range r.byDoc[documentID] {
		s.Content = s.Content.Clone()
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (r *MemoryRepo) Get(ctx context.Context, userID, documentID string, version int) (Snapshot, error) {
	if _, err := r.docs.GetByID(ctx, userID, documentID); err != nil {
		return Snapshot{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byDoc[documentID] {
		if s.Version == version {
			s.Content = s.Content.Clone()
			s.SourceVersion = copyInt(s.SourceVersion)
			return s, nil
		}
	}
	return Snapshot{}, ErrNotFound
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

var _ Repo = (*MemoryRepo)(nil)
