package pipeline

import (
	"encoding/json"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"cv-adapter/resume/model"
)

const (
	defaultInterfaceLanguage = "English"
	targetLanguage           = "the language of the résumé"
)

var digit = regexp.MustCompile(`\d`)

// filterDeliverables keeps only deliverables that contain a digit.
func filterDeliverables(in []string) []string {
	out := []string{}
	for _, d := range in {
		if digit.MatchString(d) {
			out = append(out, d)
		}
	}
	return out
}

// textChange and listChange are the {value, reason} envelopes the model uses for edited fields.
// A null envelope leaves the field as it was.
type textChange struct {
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

type listChange struct {
	Value  []string `json:"value"`
	Reason string   `json:"reason"`
}

// applyText sets *dst from ch and reports the modification, if the value actually changed.
func applyText(mods []model.Modification, field string, dst *string, ch *textChange) []model.Modification {
	if ch == nil {
		return mods
	}
	v := strings.TrimSpace(ch.Value)
	if v == "" || v == *dst {
		return mods
	}
	before := *dst
	*dst = v
	return append(mods, model.Modification{Field: field, Action: model.ActionAdjusted, Before: before, After: v, Reason: ch.Reason})
}

func applyList(mods []model.Modification, field string, dst *[]string, value []string, reason string) []model.Modification {
	cleaned := cleanList(value)
	if slices.Equal(cleaned, *dst) {
		return mods
	}
	before := *dst
	*dst = cleaned
	return append(mods, model.Modification{Field: field, Action: model.ActionAdjusted, Before: before, After: cleaned, Reason: reason})
}

func cleanList(in []string) []string {
	out := []string{}
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(it)
	}
	return b.String()
}

func keywords(job JobContext) string {
	if len(job.Keywords) == 0 {
		return "(none)"
	}
	return strings.Join(job.Keywords, ", ")
}

func toJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// yearsBetween returns the span between two YYYY or YYYY-MM dates in years, rounded to one
// decimal and at least 0.1. An end of "present" or empty means now.
func yearsBetween(start, end string, now time.Time) float64 {
	sy, sm, ok := parseYearMonth(start, 1)
	if !ok {
		return 0
	}
	ey, em := now.Year(), int(now.Month())
	if e := strings.ToLower(strings.TrimSpace(end)); e != "" && e != "present" {
		y, m, ok := parseYearMonth(e, 12)
		if ok {
			ey, em = y, m
		}
	}
	months := (ey-sy)*12 + (em - sm)
	years := float64(months) / 12
	if years < 0.1 {
		years = 0.1
	}
	return float64(int(years*10+0.5)) / 10
}

func parseYearMonth(s string, defaultMonth int) (int, int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	y, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	m := defaultMonth
	if len(parts) == 2 {
		if v, err := strconv.Atoi(parts[1]); err == nil && v >= 1 && v <= 12 {
			m = v
		}
	}
	return y, m, true
}
