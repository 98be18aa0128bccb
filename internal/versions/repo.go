package versions

import "context"

// Repo stores snapshots. Create allocates the version number and bumps the document's content
// version in one step so numbers are never reused.
type Repo interface {
	Create(ctx context.Context, userID, documentID string, ns NewSnapshot) (Snapshot, error)
	// List returns snapshots newest first, without content.
	List(ctx context.Context, userID, documentID string) ([]Snapshot, error)
	Get(ctx context.Context, userID, documentID string, version int) (Snapshot, error)
}
