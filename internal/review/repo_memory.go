package review

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu      sync.Mutex
	byDocID map[string]State
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byDocID: make(map[string]State)}
}

func (r *MemoryRepo) Save(ctx context.Context, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDocID[st.DocumentID] = copyState(st)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, documentID string) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byDocID[documentID]
	if !ok {
		return State{}, ErrNotFound
	}
	return copyState(st), nil
}

func (r *MemoryRepo) Update(ctx context.Context, documentID string, fn func(st *State) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byDocID[documentID]
	if !ok {
		return ErrNotFound
	}
	st = copyState(st)
	if err := fn(&st); err != nil {
		return err
	}
	st.UpdatedAt = time.Now().UTC()
	r.byDocID[documentID] = st
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byDocID, documentID)
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
