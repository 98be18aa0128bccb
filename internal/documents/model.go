package documents

import (
	"time"

	"cv-adapter/resume/model"
)

const (
	OptimizeIdle       = "idle"
	OptimizeInProgress = "inprogress"
	OptimizeFailed     = "failed"
)

// Document is a user's structured résumé and its review bookkeeping.
type Document struct {
	ID             string
	UserID         string
	Name           string
	Content        model.CV
	ContentVersion int
	PendingReview  bool
	SourceVersion  *int
	OptimizeStatus string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
