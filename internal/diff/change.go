package diff

import (
	"reflect"

	"cv-adapter/resume/model"
)

// Status is the review state of a change.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Change is one reviewable field-level edit. ID is the change key used by merge decisions.
type Change struct {
	ID         string `json:"id"`
	Section    string `json:"section"`
	ItemKey    string `json:"itemKey"`
	ItemIndex  int    `json:"itemIndex"`
	Field      string `json:"field"`
	ChangeType string `json:"changeType"`
	Before     any    `json:"beforeValue"`
	After      any    `json:"afterValue"`
	Status     Status `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

// FromOutputs lists every modification carried by outputs as a pending change, in section order.
func FromOutputs(source model.CV, outputs model.StageOutputs) []Change {
	var changes []Change

	if doc := outputs.Document; doc != nil {
		return []Change{{
			ID:         model.ChangeKey(model.SectionDocument, 0, "content"),
			Section:    model.SectionDocument,
			ItemKey:    "cv",
			Field:      "content",
			ChangeType: model.ActionAdjusted,
			Before:     source,
			After:      doc.CV,
			Status:     StatusPending,
			Reason:     doc.Reason,
		}}
	}

	if h := outputs.Header; h != nil {
		adapted := source.Header
		adapted.CurrentTitle = h.CurrentTitle
		for _, m := range h.Modifications {
			changes = append(changes, fieldChange(model.SectionHeader, 0, "header", m, source.Header, adapted))
		}
	}
	if s := outputs.Summary; s != nil {
		for _, m := range s.Modifications {
			changes = append(changes, fieldChange(model.SectionSummary, 0, "summary", m, source.Summary, s.Summary))
		}
	}
	if s := outputs.Skills; s != nil {
		for i, m := range s.Modifications {
			c := Change{
				ID:         model.ChangeKey(model.SectionSkills, i, model.SkillField(m.Category, m.Name)),
				Section:    model.SectionSkills,
				ItemKey:    model.SkillField(m.Category, m.Name),
				ItemIndex:  i,
				Field:      m.Category,
				ChangeType: m.Action,
				Status:     StatusPending,
				Reason:     m.Reason,
			}
			if m.Before != nil {
				c.Before = *m.Before
			}
			if m.After != nil {
				c.After = *m.After
			}
			changes = append(changes, c)
		}
	}

	changes = appendItems(changes, model.SectionExperience, source.Experience, outputs.Experience)
	changes = appendItems(changes, model.SectionProjects, source.Projects, outputs.Projects)
	changes = appendItems(changes, model.SectionEducation, source.Education, outputs.Education)
	changes = appendItems(changes, model.SectionLanguages, source.Languages, outputs.Languages)
	changes = appendItems(changes, model.SectionExtras, source.Extras, outputs.Extras)
	return changes
}

type keyed interface {
	ItemKey() string
}

func appendItems[T keyed](changes []Change, section string, src []T, outs []model.ItemOutput[T]) []Change {
	for _, o := range outs {
		var before T
		if o.Index >= 0 && o.Index < len(src) {
			before = src[o.Index]
		}
		label := o.Item.ItemKey()
		if label == "" {
			label = before.ItemKey()
		}
		for _, m := range o.Modifications {
			c := fieldChange(section, o.Index, label, m, before, o.Item)
			switch {
			case m.Field == model.FieldItem && o.Removed:
				c.ChangeType, c.Before, c.After = model.ActionRemoved, before, nil
			case m.Field == model.FieldItem:
				c.ChangeType, c.Before, c.After = model.ActionAdded, nil, o.Item
			}
			changes = append(changes, c)
		}
	}
	return changes
}

func fieldChange[T any](section string, index int, label string, m model.Modification, before, after T) Change {
	c := Change{
		ID:         model.ChangeKey(section, index, m.Field),
		Section:    section,
		ItemKey:    label,
		ItemIndex:  index,
		Field:      m.Field,
		ChangeType: m.Action,
		Before:     m.Before,
		After:      m.After,
		Status:     StatusPending,
		Reason:     m.Reason,
	}
	if c.ChangeType == "" {
		c.ChangeType = model.ActionAdjusted
	}
	if c.Before == nil {
		c.Before = fieldValue(before, m.Field)
	}
	if c.After == nil {
		c.After = fieldValue(after, m.Field)
	}
	return c
}

func fieldValue(v any, field string) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Struct {
		return nil
	}
	for i := 0; i < rv.NumField(); i++ {
		if jsonName(rv.Type().Field(i)) == field {
			return rv.Field(i).Interface()
		}
	}
	return nil
}
