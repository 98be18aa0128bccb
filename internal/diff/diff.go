package diff

import (
	"cv-adapter/resume/model"
)

// ComputeDiff returns the field-level changes that turn original into adapted. List sections are
// aligned by identity, not position. Non-identical documents always yield at least one change.
func ComputeDiff(original, adapted model.CV) []Change {
	return FromOutputs(original, BuildOutputs(original, adapted))
}

// BuildOutputs expresses the difference between two documents as stage outputs, so an adapted
// document that did not come from the staged pipeline can go through the same selective merge.
func BuildOutputs(original, adapted model.CV) model.StageOutputs {
	var out model.StageOutputs

	header := original.Header
	header.CurrentTitle = adapted.Header.CurrentTitle
	if mods := compareFields(original.Header, &header, nil); len(mods) > 0 {
		out.Header = &model.HeaderOutput{CurrentTitle: header.CurrentTitle, Modifications: onlyField(mods, "current_title")}
		if len(out.Header.Modifications) == 0 {
			out.Header = nil
		}
	}

	summary := adapted.Summary
	if mods := compareFields(original.Summary, &summary, summaryImmutable); len(mods) > 0 {
		out.Summary = &model.SummaryOutput{Summary: summary, Modifications: mods}
	}

	if s := diffSkills(original.Skills, adapted.Skills); len(s.Modifications) > 0 {
		out.Skills = &s
	}

	out.Experience = diffItems(original.Experience, adapted.Experience, experienceImmutable,
		matcher[model.Experience]{key: func(e model.Experience) string { return norm(e.Title, e.Company) }},
		matcher[model.Experience]{key: func(e model.Experience) string { return norm(e.Company, e.StartDate) }},
		matcher[model.Experience]{key: func(e model.Experience) string { return norm(e.Company) }, unique: true},
		matcher[model.Experience]{key: func(e model.Experience) string { return norm(e.Title) }},
	)
	out.Projects = diffItems(original.Projects, adapted.Projects, projectImmutable,
		matcher[model.Project]{key: func(p model.Project) string { return norm(p.Name) }},
	)
	out.Education = diffItems(original.Education, adapted.Education, nil,
		matcher[model.Education]{key: func(e model.Education) string { return norm(e.Degree, e.Institution) }},
		matcher[model.Education]{key: func(e model.Education) string { return norm(e.Institution) }, unique: true},
	)
	out.Languages = diffItems(original.Languages, adapted.Languages, languageImmutable,
		matcher[model.Language]{key: func(l model.Language) string { return norm(l.Name) }},
	)
	out.Extras = diffItems(original.Extras, adapted.Extras, extraImmutable,
		matcher[model.Extra]{key: func(x model.Extra) string { return norm(x.Name) }},
	)

	if !hasModifications(out) && !model.Equal(original, adapted) {
		return model.StageOutputs{Document: &model.DocumentOutput{CV: adapted.Clone(), Reason: "document changed without field-level differences"}}
	}
	return out
}

func diffItems[T any](orig, adapted []T, immutable map[string]bool, passes ...matcher[T]) []model.ItemOutput[T] {
	pairs := align(orig, adapted, passes...)
	matched := make(map[int]bool, len(pairs))
	var outs []model.ItemOutput[T]

	for i, o := range orig {
		j, ok := pairs[i]
		if !ok {
			outs = append(outs, model.ItemOutput[T]{
				Index:         i,
				Item:          o,
				Removed:       true,
				Modifications: []model.Modification{{Field: model.FieldItem, Action: model.ActionRemoved}},
			})
			continue
		}
		matched[j] = true
		item := adapted[j]
		if mods := compareFields(o, &item, immutable); len(mods) > 0 {
			outs = append(outs, model.ItemOutput[T]{Index: i, Item: item, Modifications: mods})
		}
	}

	next := len(orig)
	for j, a := range adapted {
		if matched[j] {
			continue
		}
		outs = append(outs, model.ItemOutput[T]{
			Index:         next,
			Item:          a,
			Modifications: []model.Modification{{Field: model.FieldItem, Action: model.ActionAdded}},
		})
		next++
	}
	return outs
}

func diffSkills(orig, adapted model.Skills) model.SkillsOutput {
	var out model.SkillsOutput
	var mods []model.SkillModification

	out.Skills.HardSkills, mods = diffNamedSkills(model.CategoryHardSkills, orig.HardSkills, adapted.HardSkills, mods)
	out.Skills.SoftSkills, mods = diffStringSkills(model.CategorySoftSkills, orig.SoftSkills, adapted.SoftSkills, mods)
	out.Skills.Tools, mods = diffNamedSkills(model.CategoryTools, orig.Tools, adapted.Tools, mods)
	out.Skills.Methodologies, mods = diffStringSkills(model.CategoryMethodologies, orig.Methodologies, adapted.Methodologies, mods)
	out.Modifications = mods
	return out
}

// diffNamedSkills returns the adapted list in canonical order (source order, then additions).
func diffNamedSkills(category string, orig, adapted []model.Skill, mods []model.SkillModification) ([]model.Skill, []model.SkillModification) {
	byName := make(map[string]model.Skill, len(adapted))
	for _, s := range adapted {
		byName[norm(s.Name)] = s
	}
	seen := make(map[string]bool, len(orig))
	var list []model.Skill
	if orig != nil || adapted != nil {
		list = make([]model.Skill, 0, len(adapted))
	}
	for _, s := range orig {
		key := norm(s.Name)
		seen[key] = true
		a, ok := byName[key]
		if !ok {
			before := s
			mods = append(mods, model.SkillModification{Category: category, Name: s.Name, Action: model.ActionRemoved, Before: &before})
			continue
		}
		if a.Proficiency != s.Proficiency {
			before, after := s, model.Skill{Name: s.Name, Proficiency: a.Proficiency}
			mods = append(mods, model.SkillModification{Category: category, Name: s.Name, Action: model.ActionAdjusted, Before: &before, After: &after})
			list = append(list, after)
			continue
		}
		list = append(list, s)
	}
	for _, a := range adapted {
		key := norm(a.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		after := a
		mods = append(mods, model.SkillModification{Category: category, Name: a.Name, Action: model.ActionAdded, After: &after})
		list = append(list, a)
	}
	if orig == nil && len(list) == 0 {
		return nil, mods
	}
	return list, mods
}

func diffStringSkills(category string, orig, adapted []string, mods []model.SkillModification) ([]string, []model.SkillModification) {
	present := make(map[string]bool, len(adapted))
	for _, s := range adapted {
		present[norm(s)] = true
	}
	seen := make(map[string]bool, len(orig))
	var list []string
	if orig != nil || adapted != nil {
		list = make([]string, 0, len(adapted))
	}
	for _, s := range orig {
		seen[norm(s)] = true
		if !present[norm(s)] {
			before := model.Skill{Name: s}
			mods = append(mods, model.SkillModification{Category: category, Name: s, Action: model.ActionRemoved, Before: &before})
			continue
		}
		list = append(list, s)
	}
	for _, a := range adapted {
		if seen[norm(a)] {
			continue
		}
		seen[norm(a)] = true
		after := model.Skill{Name: a}
		mods = append(mods, model.SkillModification{Category: category, Name: a, Action: model.ActionAdded, After: &after})
		list = append(list, a)
	}
	if orig == nil && len(list) == 0 {
		return nil, mods
	}
	return list, mods
}

func onlyField(mods []model.Modification, field string) []model.Modification {
	var out []model.Modification
	for _, m := range mods {
		if m.Field == field {
			out = append(out, m)
		}
	}
	return out
}

func hasModifications(o model.StageOutputs) bool {
	return o.Header != nil || o.Summary != nil || o.Skills != nil ||
		len(o.Experience) > 0 || len(o.Projects) > 0 || len(o.Education) > 0 ||
		len(o.Languages) > 0 || len(o.Extras) > 0
}
