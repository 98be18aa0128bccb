// Package review keeps the pending change set of a document and applies reviewer decisions to it.
package review

import (
	"errors"
	"time"

	"cv-adapter/internal/diff"
	"cv-adapter/resume/model"
)

// Reviewer actions.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

var (
	ErrNotFound        = errors.New("review state not found")
	ErrInvalidDecision = errors.New("invalid review decision")
)

// State is the change set produced by one adaptation batch. Source is the content the changes
// were computed against and Outputs the stage outputs they came from; both stay fixed while
// decisions accumulate on Changes.
type State struct {
	DocumentID    string
	UserID        string
	SourceVersion int
	Source        model.CV
	Outputs       model.StageOutputs
	Changes       []diff.Change
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Progress counts reviewed changes.
type Progress struct {
	Total           int `json:"total"`
	Reviewed        int `json:"reviewed"`
	Pending         int `json:"pending"`
	PercentComplete int `json:"percentComplete"`
}

// DecideResult is the change list after a decision call. ProcessedCount is how many changes
// the call actually moved.
type DecideResult struct {
	UpdatedChanges []diff.Change `json:"updatedChanges"`
	AllReviewed    bool          `json:"allReviewed"`
	ProcessedCount int           `json:"processedCount"`
	Progress       Progress      `json:"progress"`
}

// ProgressOf counts changes by status. An empty change set is complete.
func ProgressOf(changes []diff.Change) Progress {
	p := Progress{Total: len(changes)}
	for _, c := range changes {
		if c.Status == diff.StatusPending || c.Status == "" {
			p.Pending++
		} else {
			p.Reviewed++
		}
	}
	if p.Total == 0 {
		p.PercentComplete = 100
		return p
	}
	p.PercentComplete = p.Reviewed * 100 / p.Total
	return p
}

func copyState(s State) State {
	s.Source = s.Source.Clone()
	s.Changes = append([]diff.Change(nil), s.Changes...)
	return s
}
