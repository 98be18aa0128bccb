package review

import "context"

// Repo persists one review state per document.
type Repo interface {
	// Save stores st, replacing any earlier state for the same document.
	Save(ctx context.Context, st State) error
	Get(ctx context.Context, documentID string) (State, error)
	// Update applies fn to the stored state while holding it exclusively. fn's changes are
	// discarded when it returns an error.
	Update(ctx context.Context, documentID string, fn func(st *State) error) error
	Delete(ctx context.Context, documentID string) error
}
