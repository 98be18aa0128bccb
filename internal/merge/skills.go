package merge

import "cv-adapter/resume/model"

// mergeSkills undoes rejected modifications newest first, so a remove followed by a re-add of
// the same skill unwinds back to the source entry.
func (m *merger) mergeSkills(src model.Skills, out *model.SkillsOutput) model.Skills {
	skills := cloneSkills(out.Skills)
	for i := len(out.Modifications) - 1; i >= 0; i-- {
		mod := out.Modifications[i]
		key := model.ChangeKey(model.SectionSkills, i, model.SkillField(mod.Category, mod.Name))
		if m.decide(model.SectionSkills, key) != Rejected {
			continue
		}
		switch mod.Action {
		case model.ActionAdded:
			removeSkill(&skills, mod.Category, mod.Name)
		case model.ActionRemoved:
			restoreSkill(&skills, src, mod.Category, mod.Name)
		case model.ActionAdjusted:
			if mod.After != nil && !sameName(mod.After.Name, mod.Name) {
				removeSkill(&skills, mod.Category, mod.After.Name)
			}
			restoreSkill(&skills, src, mod.Category, mod.Name)
		}
	}
	return skills
}

func removeSkill(s *model.Skills, category, name string) {
	switch category {
	case model.CategoryHardSkills:
		s.HardSkills = dropNamed(s.HardSkills, name)
	case model.CategoryTools:
		s.Tools = dropNamed(s.Tools, name)
	case model.CategorySoftSkills:
		s.SoftSkills = dropString(s.SoftSkills, name)
	case model.CategoryMethodologies:
		s.Methodologies = dropString(s.Methodologies, name)
	}
}

// restoreSkill puts the source entry for name back, keeping the source ordering relative to
// the entries that are already present.
func restoreSkill(s *model.Skills, src model.Skills, category, name string) {
	switch category {
	case model.CategoryHardSkills:
		s.HardSkills = restoreNamed(s.HardSkills, src.HardSkills, name)
	case model.CategoryTools:
		s.Tools = restoreNamed(s.Tools, src.Tools, name)
	case model.CategorySoftSkills:
		s.SoftSkills = restoreString(s.SoftSkills, src.SoftSkills, name)
	case model.CategoryMethodologies:
		s.Methodologies = restoreString(s.Methodologies, src.Methodologies, name)
	}
}

func dropNamed(list []model.Skill, name string) []model.Skill {
	out := list[:0:0]
	for _, sk := range list {
		if !sameName(sk.Name, name) {
			out = append(out, sk)
		}
	}
	return out
}

func dropString(list []string, name string) []string {
	out := list[:0:0]
	for _, v := range list {
		if !sameName(v, name) {
			out = append(out, v)
		}
	}
	return out
}

func restoreNamed(cur, src []model.Skill, name string) []model.Skill {
	return restoreOrdered(cur, src, name, func(s model.Skill) string { return s.Name })
}

func restoreString(cur, src []string, name string) []string {
	return restoreOrdered(cur, src, name, func(s string) string { return s })
}

func restoreOrdered[T any](cur, src []T, name string, nameOf func(T) string) []T {
	srcPos := -1
	for i, v := range src {
		if sameName(nameOf(v), name) {
			srcPos = i
			break
		}
	}
	if srcPos < 0 {
		return cur
	}
	entry := src[srcPos]
	for i, v := range cur {
		if sameName(nameOf(v), name) {
			cur[i] = entry
			return cur
		}
	}

	rank := make(map[string]int, len(src))
	for i, v := range src {
		rank[normalize(nameOf(v))] = i
	}
	insertAt := 0
	for i, v := range cur {
		if r, ok := rank[normalize(nameOf(v))]; ok && r < srcPos {
			insertAt = i + 1
		}
	}
	out := make([]T, 0, len(cur)+1)
	out = append(out, cur[:insertAt]...)
	out = append(out, entry)
	return append(out, cur[insertAt:]...)
}

func cloneSkills(s model.Skills) model.Skills {
	return model.Skills{
		HardSkills:    cloneSlice(s.HardSkills),
		SoftSkills:    cloneSlice(s.SoftSkills),
		Tools:         cloneSlice(s.Tools),
		Methodologies: cloneSlice(s.Methodologies),
	}
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
