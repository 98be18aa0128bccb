package documents

import "errors"

var (
	ErrNotFound           = errors.New("document not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrOptimizeInProgress = errors.New("document optimisation already in progress")
)
