// Package adaptation ties a document, the adaptation pipeline and the review and version stores
// together into one background task kind.
package adaptation

import (
	"errors"
	"strings"

	"cv-adapter/internal/pipeline"
)

// Kind is the task kind adaptation runs under.
const Kind = "adaptation"

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrPendingReview = errors.New("document has changes awaiting review")
)

// Payload is persisted on the task so any process can run it.
type Payload struct {
	Job               pipeline.Job `json:"job"`
	Mode              string       `json:"mode"`
	ReplaceExisting   bool         `json:"replaceExisting"`
	InterfaceLanguage string       `json:"interfaceLanguage,omitempty"`
}

// StartRequest asks for a document to be adapted to a posting.
type StartRequest struct {
	Job               pipeline.Job
	Mode              string
	ReplaceExisting   bool
	DeviceID          string
	InterfaceLanguage string
}

func (r StartRequest) normalize() (StartRequest, error) {
	r.Job.Title = strings.TrimSpace(r.Job.Title)
	r.Job.Description = strings.TrimSpace(r.Job.Description)
	if r.Job.Title == "" || r.Job.Description == "" {
		return r, ErrInvalidInput
	}
	resp := r.Job.Responsibilities[:0:0]
	for _, item := range r.Job.Responsibilities {
		if item = strings.TrimSpace(item); item != "" {
			resp = append(resp, item)
		}
	}
	r.Job.Responsibilities = resp
	switch r.Mode {
	case "", pipeline.ModeStaged, pipeline.ModeLegacy:
	default:
		return r, ErrInvalidInput
	}
	return r, nil
}
