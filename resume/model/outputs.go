package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Section names used in change keys.
const (
	SectionHeader     = "header"
	SectionSummary    = "summary"
	SectionSkills     = "skills"
	SectionExperience = "experience"
	SectionProjects   = "projects"
	SectionEducation  = "education"
	SectionLanguages  = "languages"
	SectionExtras     = "extras"
	SectionDocument   = "cv"
)

// Modification actions.
const (
	ActionAdded    = "added"
	ActionRemoved  = "removed"
	ActionAdjusted = "adjusted"
)

// FieldItem is the pseudo-field for whole-item insertions and removals in list sections.
const FieldItem = "item"

// Skill categories.
const (
	CategoryHardSkills    = "hard_skills"
	CategorySoftSkills    = "soft_skills"
	CategoryTools         = "tools"
	CategoryMethodologies = "methodologies"
)

// Modification is one discrete edit reported for an item.
type Modification struct {
	Field  string `json:"field"`
	Action string `json:"action"`
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// SkillModification is an action-typed skills edit.
type SkillModification struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Action   string `json:"action"`
	Before   *Skill `json:"before,omitempty"`
	After    *Skill `json:"after,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ItemOutput is the adapted form of one list item. Index is the source position; an index at or
// past the end of the source list marks an item that only exists in the adapted document.
type ItemOutput[T any] struct {
	Index         int            `json:"index"`
	Item          T              `json:"item"`
	Removed       bool           `json:"removed,omitempty"`
	Modifications []Modification `json:"modifications"`
}

type HeaderOutput struct {
	CurrentTitle  string         `json:"current_title"`
	Modifications []Modification `json:"modifications"`
}

type SummaryOutput struct {
	Summary       Summary        `json:"summary"`
	Modifications []Modification `json:"modifications"`
}

type SkillsOutput struct {
	Skills        Skills              `json:"skills"`
	Modifications []SkillModification `json:"modifications"`
}

// DocumentOutput carries a whole adapted document when no field-level changes could be derived.
type DocumentOutput struct {
	CV     CV     `json:"cv"`
	Reason string `json:"reason,omitempty"`
}

// StageOutputs collects what each stage produced. A nil or empty part means the section passes through.
type StageOutputs struct {
	Header     *HeaderOutput            `json:"header,omitempty"`
	Summary    *SummaryOutput           `json:"summary,omitempty"`
	Skills     *SkillsOutput            `json:"skills,omitempty"`
	Experience []ItemOutput[Experience] `json:"experience,omitempty"`
	Projects   []ItemOutput[Project]    `json:"projects,omitempty"`
	Education  []ItemOutput[Education]  `json:"education,omitempty"`
	Languages  []ItemOutput[Language]   `json:"languages,omitempty"`
	Extras     []ItemOutput[Extra]      `json:"extras,omitempty"`
	Document   *DocumentOutput          `json:"document,omitempty"`
}

// ChangeKey formats section:index:field.
func ChangeKey(section string, index int, field string) string {
	return section + ":" + strconv.Itoa(index) + ":" + field
}

// SkillField formats the field part of a skills key.
func SkillField(category, name string) string {
	return category + "." + name
}

// ParsedKey is a decoded change key.
type ParsedKey struct {
	Section string
	Index   int
	Field   string
}

// ParseKey splits a key on its first two colons; the field may itself contain ':'.
func ParseKey(key string) (ParsedKey, error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return ParsedKey{}, fmt.Errorf("invalid change key %q", key)
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil || idx < 0 {
		return ParsedKey{}, fmt.Errorf("invalid change key index %q", key)
	}
	return ParsedKey{Section: parts[0], Index: idx, Field: parts[2]}, nil
}

// ItemKey returns the identity label of a list item, used for display and alignment.
func (e Experience) ItemKey() string {
	switch {
	case e.Title != "" && e.Company != "":
		return e.Title + " - " + e.Company
	case e.Title != "":
		return e.Title
	default:
		return e.Company
	}
}

func (p Project) ItemKey() string  { return p.Name }
func (l Language) ItemKey() string { return l.Name }
func (x Extra) ItemKey() string    { return x.Name }
func (e Education) ItemKey() string {
	if e.Institution == "" {
		return e.Degree
	}
	return e.Degree + " - " + e.Institution
}
