package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	decisionKeep = "keep"
	decisionSkip = "skip"
)

type classifyDecision struct {
	Index    int    `json:"index"`
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

type classifyResponse struct {
	Experiences []classifyDecision `json:"experiences"`
	Projects    []classifyDecision `json:"projects"`
}

// selection lists the experience and project indexes to adapt. Everything else passes
// through untouched.
type selection struct {
	experiences []int
	projects    []int
}

func keepAll(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// classify decides which experiences and projects are worth adapting. A failed call keeps
// every item.
func (r *runner) classify(ctx context.Context, sel *selection) (Stats, error) {
	src := r.in.Source
	*sel = selection{experiences: keepAll(len(src.Experience)), projects: keepAll(len(src.Projects))}
	if len(src.Experience) == 0 && len(src.Projects) == 0 {
		return Stats{}, nil
	}

	type indexed struct {
		Index int `json:"index"`
		Item  any `json:"item"`
	}
	exps := make([]indexed, len(src.Experience))
	for i, e := range src.Experience {
		exps[i] = indexed{Index: i, Item: map[string]any{"title": e.Title, "company": e.Company, "description": e.Description, "skills_used": e.SkillsUsed}}
	}
	projs := make([]indexed, len(src.Projects))
	for i, p := range src.Projects {
		projs[i] = indexed{Index: i, Item: map[string]any{"name": p.Name, "summary": p.Summary, "tech_stack": p.TechStack}}
	}

	err := r.generate(ctx, call{
		stage: StageClassify,
		input: map[string]int{"experiences": len(exps), "projects": len(projs)},
		vars: map[string]any{
			"InterfaceLanguage": r.interfaceLanguage(),
			"JobJSON":           toJSON(r.job),
			"ExperiencesJSON":   toJSON(exps),
			"ProjectsJSON":      toJSON(projs),
		},
	}, func(raw json.RawMessage) (any, error) {
		var resp classifyResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode classify: %w", err)
		}
		sel.experiences = kept(len(src.Experience), resp.Experiences)
		sel.projects = kept(len(src.Projects), resp.Projects)
		return resp, nil
	})
	if err != nil {
		if cerr := r.checkpoint(ctx); cerr != nil {
			return Stats{Total: 1, Failed: 1}, cerr
		}
		return Stats{Total: 1, Failed: 1}, nil
	}
	return Stats{Total: 1, Succeeded: 1}, nil
}

// kept returns the indexes not explicitly skipped. Indexes the model did not mention are kept.
func kept(n int, decisions []classifyDecision) []int {
	skip := map[int]bool{}
	for _, d := range decisions {
		if d.Decision == decisionSkip && d.Index >= 0 && d.Index < n {
			skip[d.Index] = true
		}
	}
	out := []int{}
	for i := 0; i < n; i++ {
		if !skip[i] {
			out = append(out, i)
		}
	}
	return out
}

func (r *runner) interfaceLanguage() string {
	if r.in.InterfaceLanguage != "" {
		return r.in.InterfaceLanguage
	}
	return defaultInterfaceLanguage
}
