package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cv-adapter/resume/model"
)

type skillsChange struct {
	Category    string  `json:"category"`
	Name        string  `json:"name"`
	Action      string  `json:"action"`
	Proficiency *string `json:"proficiency"`
	Reason      string  `json:"reason"`
}

type skillsResponse struct {
	Changes []skillsChange `json:"changes"`
}

// skills runs one call over the whole skills section.
func (r *runner) skills(ctx context.Context, used []string) (*model.SkillsOutput, Stats) {
	src := r.in.Source.Skills
	var out *model.SkillsOutput
	err := r.generate(ctx, call{
		stage: StageSkills,
		input: map[string]int{
			"hard_skills":   len(src.HardSkills),
			"soft_skills":   len(src.SoftSkills),
			"tools":         len(src.Tools),
			"methodologies": len(src.Methodologies),
		},
		vars: map[string]any{
			"InterfaceLanguage": r.interfaceLanguage(),
			"JobKeywords":       keywords(r.job),
			"ItemJSON":          toJSON(src),
			"SkillsUsed":        strings.Join(used, ", "),
		},
	}, func(raw json.RawMessage) (any, error) {
		var resp skillsResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode skills: %w", err)
		}
		res := applySkills(src, resp.Changes)
		if len(res.Modifications) > 0 {
			out = &res
		}
		return res.Modifications, nil
	})
	r.emitItem(StageSkills, 0, 1, "skills", err)
	if err != nil {
		return nil, Stats{Total: 1, Failed: 1}
	}
	return out, Stats{Total: 1, Succeeded: 1}
}

// applySkills applies action-typed edits to a copy of src. Edits that do not fit the current
// skills (removing or adjusting a missing skill, adding an existing one) are ignored.
func applySkills(src model.Skills, changes []skillsChange) model.SkillsOutput {
	out := model.SkillsOutput{Skills: model.Skills{
		HardSkills:    append([]model.Skill{}, src.HardSkills...),
		SoftSkills:    append([]string{}, src.SoftSkills...),
		Tools:         append([]model.Skill{}, src.Tools...),
		Methodologies: append([]string{}, src.Methodologies...),
	}}
	for _, ch := range changes {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			continue
		}
		var mod *model.SkillModification
		switch ch.Category {
		case model.CategoryHardSkills:
			out.Skills.HardSkills, mod = applyNamedSkill(out.Skills.HardSkills, ch, name)
		case model.CategoryTools:
			out.Skills.Tools, mod = applyNamedSkill(out.Skills.Tools, ch, name)
		case model.CategorySoftSkills:
			out.Skills.SoftSkills, mod = applyPlainSkill(out.Skills.SoftSkills, ch, name)
		case model.CategoryMethodologies:
			out.Skills.Methodologies, mod = applyPlainSkill(out.Skills.Methodologies, ch, name)
		}
		if mod != nil {
			out.Modifications = append(out.Modifications, *mod)
		}
	}
	return out
}

func applyNamedSkill(list []model.Skill, ch skillsChange, name string) ([]model.Skill, *model.SkillModification) {
	idx := -1
	for i, s := range list {
		if strings.EqualFold(strings.TrimSpace(s.Name), name) {
			idx = i
			break
		}
	}
	proficiency := ""
	if ch.Proficiency != nil {
		proficiency = strings.TrimSpace(*ch.Proficiency)
	}
	mod := &model.SkillModification{Category: ch.Category, Name: name, Action: ch.Action, Reason: ch.Reason}
	switch ch.Action {
	case model.ActionAdded:
		if idx >= 0 {
			return list, nil
		}
		added := model.Skill{Name: name, Proficiency: proficiency}
		mod.After = &added
		return append(list, added), mod
	case model.ActionRemoved:
		if idx < 0 {
			return list, nil
		}
		before := list[idx]
		mod.Name = before.Name
		mod.Before = &before
		return append(list[:idx:idx], list[idx+1:]...), mod
	case model.ActionAdjusted:
		if idx < 0 || proficiency == "" || proficiency == list[idx].Proficiency {
			return list, nil
		}
		before := list[idx]
		after := model.Skill{Name: before.Name, Proficiency: proficiency}
		mod.Name = before.Name
		mod.Before, mod.After = &before, &after
		list[idx] = after
		return list, mod
	}
	return list, nil
}

func applyPlainSkill(list []string, ch skillsChange, name string) ([]string, *model.SkillModification) {
	idx := -1
	for i, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			idx = i
			break
		}
	}
	mod := &model.SkillModification{Category: ch.Category, Name: name, Action: ch.Action, Reason: ch.Reason}
	switch ch.Action {
	case model.ActionAdded:
		if idx >= 0 {
			return list, nil
		}
		mod.After = &model.Skill{Name: name}
		return append(list, name), mod
	case model.ActionRemoved:
		if idx < 0 {
			return list, nil
		}
		mod.Name = list[idx]
		mod.Before = &model.Skill{Name: list[idx]}
		return append(list[:idx:idx], list[idx+1:]...), mod
	}
	return list, nil
}

// usedSkills is the union of skills_used across experiences, in first-seen order.
func usedSkills(exps []model.Experience) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range exps {
		for _, s := range e.SkillsUsed {
			k := strings.ToLower(strings.TrimSpace(s))
			if k != "" && !seen[k] {
				seen[k] = true
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}
