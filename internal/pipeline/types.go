// Package pipeline adapts a résumé to a job posting through a sequence of AI stages and turns
// the results into reviewable stage outputs.
package pipeline

import (
	"errors"

	"cv-adapter/internal/diff"
	"cv-adapter/resume/model"
)

// Modes.
const (
	ModeStaged = "staged"
	ModeLegacy = "legacy"
)

// Stage names. They double as catalogue keys and subtask types.
const (
	StagePreprocess  = "preprocess"
	StageClassify    = "classify"
	StageExperiences = "experiences"
	StageProjects    = "projects"
	StageSkills      = "skills"
	StageSummary     = "summary"
	StageLanguages   = "languages"
	StageExtras      = "extras"
	StageRecompose   = "recompose"
	StageLegacy      = "legacy"
)

var (
	// ErrAllFailed is returned when every adaptation item failed.
	ErrAllFailed  = errors.New("every adaptation item failed")
	ErrNoResponse = errors.New("model returned no usable content")
)

// Job is the posting the document is adapted to.
type Job struct {
	Title            string   `json:"jobTitle"`
	Description      string   `json:"jobDescription"`
	Responsibilities []string `json:"responsibilities"`
}

// JobContext is what preprocessing extracted from the posting.
type JobContext struct {
	Title            string   `json:"title"`
	Responsibilities []string `json:"responsibilities"`
	Keywords         []string `json:"keywords"`
	Seniority        string   `json:"seniority"`
}

// Input is one adaptation run.
type Input struct {
	TaskID            string
	UserID            string
	DocumentID        string
	Source            model.CV
	Job               Job
	Mode              string
	InterfaceLanguage string
}

// Stats counts per-item outcomes.
type Stats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Success reports whether no item failed.
func (s Stats) Success() bool { return s.Failed == 0 }

func (s *Stats) add(o Stats) {
	s.Total += o.Total
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
}

// Usage sums token accounting across every call of a run.
type Usage struct {
	PromptTokens     int     `json:"promptTokens"`
	CachedTokens     int     `json:"cachedTokens"`
	CompletionTokens int     `json:"completionTokens"`
	EstimatedCost    float64 `json:"estimatedCost"`
}

// Result is what a run produced.
type Result struct {
	Mode    string
	Job     JobContext
	Outputs model.StageOutputs
	Adapted model.CV
	Changes []diff.Change
	Stats   Stats
	Usage   Usage
}
