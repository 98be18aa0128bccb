package pipeline

import "sync"

// Stage states.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

var stagedWeights = []stageWeight{
	{StagePreprocess, 10},
	{StageClassify, 10},
	{StageExperiences, 30},
	{StageProjects, 10},
	{StageSkills, 15},
	{StageSummary, 10},
	{StageLanguages, 5},
	{StageExtras, 5},
	{StageRecompose, 5},
}

var legacyWeights = []stageWeight{{StageLegacy, 100}}

type stageWeight struct {
	name   string
	weight int
}

// StageState is a snapshot of one stage.
type StageState struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
	State  string `json:"state"`
	Done   int    `json:"done"`
	Total  int    `json:"total"`
}

// Progress tracks stage states for one run. A finished stage (completed or failed) counts its
// full weight and a running stage half of it.
type Progress struct {
	mu     sync.Mutex
	stages []StageState
}

// NewProgress returns a tracker for mode.
func NewProgress(mode string) *Progress {
	weights := stagedWeights
	if mode == ModeLegacy {
		weights = legacyWeights
	}
	p := &Progress{stages: make([]StageState, len(weights))}
	for i, w := range weights {
		p.stages[i] = StageState{Name: w.name, Weight: w.weight, State: StatePending}
	}
	return p
}

func (p *Progress) set(stage, state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.stages {
		if p.stages[i].Name == stage {
			p.stages[i].State = state
			return
		}
	}
}

func (p *Progress) Start(stage string)    { p.set(stage, StateRunning) }
func (p *Progress) Complete(stage string) { p.set(stage, StateCompleted) }
func (p *Progress) Fail(stage string)     { p.set(stage, StateFailed) }

// Items records item-level progress inside a stage.
func (p *Progress) Items(stage string, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.stages {
		if p.stages[i].Name == stage {
			p.stages[i].Done = done
			p.stages[i].Total = total
			return
		}
	}
}

// Percent returns the weighted completion, 0..100.
func (p *Progress) Percent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total, sum := 0, 0
	for _, s := range p.stages {
		total += s.Weight * 2
		switch s.State {
		case StateCompleted, StateFailed:
			sum += s.Weight * 2
		case StateRunning:
			sum += s.Weight
		}
	}
	if total == 0 {
		return 0
	}
	return sum * 100 / total
}

// Stages returns a copy of every stage state in order.
func (p *Progress) Stages() []StageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StageState, len(p.stages))
	copy(out, p.stages)
	return out
}
