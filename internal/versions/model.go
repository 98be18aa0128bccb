// Package versions keeps append-only content snapshots of documents and restores them.
package versions

import (
	"errors"
	"time"

	"cv-adapter/resume/model"
)

// Change types.
const (
	ChangeAdaptation = "adaptation"
	ChangeRestore    = "restore"
	ChangeManual     = "manual"
)

var (
	ErrNotFound     = errors.New("version not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Snapshot is an immutable copy of a document's content at one content version.
type Snapshot struct {
	DocumentID    string
	Version       int
	Label         string
	ChangeType    string
	SourceVersion *int
	Content       model.CV
	CreatedAt     time.Time
}

// NewSnapshot describes a snapshot to take of the current content.
type NewSnapshot struct {
	Label         string
	ChangeType    string
	SourceVersion *int
}

func validChangeType(t string) bool {
	switch t {
	case ChangeAdaptation, ChangeRestore, ChangeManual:
		return true
	}
	return false
}
