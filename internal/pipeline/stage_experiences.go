package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cv-adapter/internal/merge"
	"cv-adapter/resume/model"
)

type skillChange struct {
	Before *string `json:"before"`
	After  *string `json:"after"`
	Reason string  `json:"reason"`
}

type experienceResponse struct {
	Description      *textChange   `json:"description"`
	Responsibilities *listChange   `json:"responsibilities"`
	Deliverables     *listChange   `json:"deliverables"`
	SkillChanges     []skillChange `json:"skill_changes"`
	Domain           *string       `json:"domain"`
}

// experienceForModel is the subset of an experience the model sees.
type experienceForModel struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Responsibilities []string `json:"responsibilities"`
	Deliverables     []string `json:"deliverables"`
	SkillsUsed       []string `json:"skills_used"`
}

func (r *runner) experiences(ctx context.Context, indexes []int) ([]model.ItemOutput[model.Experience], Stats) {
	src := r.in.Source.Experience
	results := make([]*model.ItemOutput[model.Experience], len(src))
	now := time.Now()

	stats := fanOut(ctx, r, StageExperiences, indexes, func(i int) string { return src[i].ItemKey() }, func(ctx context.Context, i int) error {
		exp := src[i]
		return r.generate(ctx, call{
			stage:  StageExperiences,
			index:  i,
			shared: true,
			input:  map[string]string{"title": exp.Title, "company": exp.Company},
			vars: map[string]any{
				"InterfaceLanguage":   r.interfaceLanguage(),
				"TargetLanguage":      targetLanguage,
				"JobResponsibilities": bulletList(r.job.Responsibilities),
				"JobKeywords":         keywords(r.job),
				"Years":               yearsBetween(exp.StartDate, exp.EndDate, now),
				"ItemJSON": toJSON(experienceForModel{
					Title:            exp.Title,
					Description:      exp.Description,
					Responsibilities: exp.Responsibilities,
					Deliverables:     exp.Deliverables,
					SkillsUsed:       exp.SkillsUsed,
				}),
			},
		}, func(raw json.RawMessage) (any, error) {
			var resp experienceResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				return nil, fmt.Errorf("decode experience: %w", err)
			}
			out := adaptExperience(exp, resp)
			out.Index = i
			if len(out.Modifications) > 0 {
				results[i] = &out
			}
			return out.Modifications, nil
		})
	})
	return collect(results), stats
}

// adaptExperience applies the model's edits to src. Fields the model may not change are
// restored from src. Deliverables without a figure are dropped whether or not the model
// rewrote them.
func adaptExperience(src model.Experience, resp experienceResponse) model.ItemOutput[model.Experience] {
	item := src
	var mods []model.Modification

	mods = applyText(mods, "description", &item.Description, resp.Description)
	if resp.Responsibilities != nil {
		mods = applyList(mods, "responsibilities", &item.Responsibilities, resp.Responsibilities.Value, resp.Responsibilities.Reason)
	}
	deliverables, reason := src.Deliverables, "deliverables must carry a measurable result"
	if resp.Deliverables != nil {
		deliverables, reason = resp.Deliverables.Value, resp.Deliverables.Reason
	}
	mods = applyList(mods, "deliverables", &item.Deliverables, filterDeliverables(deliverables), reason)
	if skills, reason, changed := applySkillChanges(src.SkillsUsed, resp.SkillChanges); changed {
		mods = applyList(mods, "skills_used", &item.SkillsUsed, skills, reason)
	}
	if resp.Domain != nil {
		if d := strings.TrimSpace(*resp.Domain); d != "" && d != item.Domain {
			mods = append(mods, model.Modification{Field: "domain", Action: model.ActionAdjusted, Before: item.Domain, After: d})
			item.Domain = d
		}
	}
	merge.LockExperience(&item, src)
	return model.ItemOutput[model.Experience]{Item: item, Modifications: mods}
}

// applySkillChanges rebuilds skills_used from before/after pairs: a null after removes the
// skill, a null before adds one.
func applySkillChanges(src []string, changes []skillChange) ([]string, string, bool) {
	if len(changes) == 0 {
		return src, "", false
	}
	replace := map[string]*string{}
	var added, reasons []string
	for _, ch := range changes {
		if ch.Reason != "" {
			reasons = append(reasons, ch.Reason)
		}
		switch {
		case ch.Before == nil && ch.After != nil:
			added = append(added, *ch.After)
		case ch.Before != nil:
			replace[strings.ToLower(strings.TrimSpace(*ch.Before))] = ch.After
		}
	}
	out := []string{}
	seen := map[string]bool{}
	push := func(s string) {
		k := strings.ToLower(strings.TrimSpace(s))
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, strings.TrimSpace(s))
	}
	for _, s := range src {
		after, ok := replace[strings.ToLower(strings.TrimSpace(s))]
		switch {
		case !ok:
			push(s)
		case after != nil:
			push(*after)
		}
	}
	for _, s := range added {
		push(s)
	}
	return out, strings.Join(reasons, "; "), true
}

func collect[T any](results []*model.ItemOutput[T]) []model.ItemOutput[T] {
	var out []model.ItemOutput[T]
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
