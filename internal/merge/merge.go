package merge

import (
	"math"
	"strings"

	"cv-adapter/resume/model"
)

// Decision is a reviewer verdict on one change key.
type Decision string

const (
	Accepted Decision = "accepted"
	Rejected Decision = "rejected"
)

// SectionStats counts decisions for one section.
type SectionStats struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Stats summarizes the decisions applied by a merge. Undecided changes count as accepted.
type Stats struct {
	Total       int                     `json:"total"`
	Accepted    int                     `json:"accepted"`
	Rejected    int                     `json:"rejected"`
	AcceptRatio int                     `json:"acceptRatio"`
	BySection   map[string]SectionStats `json:"bySection"`
}

// Result is the merged document plus decision statistics.
type Result struct {
	CV    model.CV `json:"cv"`
	Stats Stats    `json:"stats"`
}

// Merge rebuilds the final document from the source, the stage outputs and per-change decisions.
// A rejected change restores the source value; an accepted or undecided change keeps the adapted one.
// Sections without output pass through from source.
func Merge(source model.CV, outputs model.StageOutputs, decisions map[string]Decision) Result {
	m := &merger{decisions: decisions, stats: Stats{BySection: map[string]SectionStats{}}}
	out := m.merge(source.Clone(), outputs)
	m.stats.finish()
	return Result{CV: out.Clone(), Stats: m.stats}
}

// Recompose returns the fully adapted document, equivalent to accepting every change.
func Recompose(source model.CV, outputs model.StageOutputs) model.CV {
	return Merge(source, outputs, nil).CV
}

type merger struct {
	decisions map[string]Decision
	stats     Stats
}

func (m *merger) merge(src model.CV, outputs model.StageOutputs) model.CV {
	if doc := outputs.Document; doc != nil {
		if m.decide(model.SectionDocument, model.ChangeKey(model.SectionDocument, 0, "content")) == Rejected {
			return src
		}
		return doc.CV.Clone()
	}

	out := src.Clone()
	if h := outputs.Header; h != nil {
		out.Header.CurrentTitle = h.CurrentTitle
		for _, mod := range h.Modifications {
			if m.decide(model.SectionHeader, model.ChangeKey(model.SectionHeader, 0, mod.Field)) == Rejected {
				copyField(&out.Header, src.Header, mod.Field)
			}
		}
	}
	if s := outputs.Summary; s != nil {
		summary := s.Summary
		for _, mod := range s.Modifications {
			if m.decide(model.SectionSummary, model.ChangeKey(model.SectionSummary, 0, mod.Field)) == Rejected {
				copyField(&summary, src.Summary, mod.Field)
			}
		}
		summary.YearsExperience = src.Summary.YearsExperience
		out.Summary = summary
	}
	if s := outputs.Skills; s != nil {
		out.Skills = m.mergeSkills(src.Skills, s)
	}

	out.Experience = mergeItems(m, model.SectionExperience, src.Experience, outputs.Experience, LockExperience)
	out.Projects = mergeItems(m, model.SectionProjects, src.Projects, outputs.Projects, LockProject)
	out.Education = mergeItems(m, model.SectionEducation, src.Education, outputs.Education, nil)
	out.Languages = mergeItems(m, model.SectionLanguages, src.Languages, outputs.Languages, LockLanguage)
	out.Extras = mergeItems(m, model.SectionExtras, src.Extras, outputs.Extras, LockExtra)
	return out
}

func mergeItems[T any](m *merger, section string, src []T, outs []model.ItemOutput[T], lock func(dst *T, src T)) []T {
	if len(outs) == 0 {
		return src
	}
	result := make([]T, len(src))
	copy(result, src)
	removed := make(map[int]bool)
	var appended []T

	for _, o := range outs {
		if o.Index < 0 {
			continue
		}
		if o.Index >= len(src) {
			if m.decide(section, model.ChangeKey(section, o.Index, model.FieldItem)) != Rejected {
				appended = append(appended, o.Item)
			}
			continue
		}
		if o.Removed {
			if m.decide(section, model.ChangeKey(section, o.Index, model.FieldItem)) != Rejected {
				removed[o.Index] = true
			}
			continue
		}
		item := o.Item
		for _, mod := range o.Modifications {
			if m.decide(section, model.ChangeKey(section, o.Index, mod.Field)) == Rejected {
				copyField(&item, src[o.Index], mod.Field)
			}
		}
		if lock != nil {
			lock(&item, src[o.Index])
		}
		result[o.Index] = item
	}

	if len(removed) == 0 && len(appended) == 0 {
		return result
	}
	final := make([]T, 0, len(result)+len(appended))
	for i, item := range result {
		if !removed[i] {
			final = append(final, item)
		}
	}
	return append(final, appended...)
}

func (m *merger) decide(section, key string) Decision {
	d := m.decisions[key]
	ss := m.stats.BySection[section]
	m.stats.Total++
	if d == Rejected {
		m.stats.Rejected++
		ss.Rejected++
	} else {
		d = Accepted
		m.stats.Accepted++
		ss.Accepted++
	}
	m.stats.BySection[section] = ss
	return d
}

func (s *Stats) finish() {
	if s.Total == 0 {
		return
	}
	s.AcceptRatio = int(math.Round(float64(s.Accepted) * 100 / float64(s.Total)))
}

// LockExperience restores fields the model may never change.
func LockExperience(dst *model.Experience, src model.Experience) {
	dst.Title = src.Title
	dst.Company = src.Company
	dst.Location = src.Location
	dst.Type = src.Type
	dst.StartDate = src.StartDate
	dst.EndDate = src.EndDate
}

func LockProject(dst *model.Project, src model.Project) {
	dst.Name = src.Name
	dst.Role = src.Role
	dst.StartDate = src.StartDate
	dst.EndDate = src.EndDate
}

func LockLanguage(dst *model.Language, src model.Language) {
	dst.Name = src.Name
}

func LockExtra(dst *model.Extra, src model.Extra) {
	dst.Name = src.Name
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
