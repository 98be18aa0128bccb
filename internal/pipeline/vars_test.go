package pipeline

import (
	"testing"
	"time"

	"cv-adapter/resume/model"
)

func TestFilterDeliverables(t *testing.T) {
	got := filterDeliverables([]string{"Cut p99 latency by 40%", "Improved team morale", "Shipped v2", "Led migration"})
	if len(got) != 2 || got[0] != "Cut p99 latency by 40%" || got[1] != "Shipped v2" {
		t.Fatalf("got %v", got)
	}
	if got := filterDeliverables(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty, non-nil slice")
	}
}

func TestYearsBetween(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		start, end string
		want       float64
	}{
		{"2020-01", "2022-07", 2.5},
		{"2024-01", "present", 2.5},
		{"2021", "2021", 0.9},
		{"2026-07", "", 0.1},
		{"garbage", "2020", 0},
	}
	for _, tt := range tests {
		if got := yearsBetween(tt.start, tt.end, now); got != tt.want {
			t.Fatalf("yearsBetween(%q, %q) = %v, want %v", tt.start, tt.end, got, tt.want)
		}
	}
}

func TestApplySkillChanges(t *testing.T) {
	s := func(v string) *string { return &v }
	got, _, changed := applySkillChanges([]string{"Go", "Perl", "SQL"}, []skillChange{
		{Before: s("Perl"), After: nil, Reason: "not relevant"},
		{Before: s("sql"), After: s("PostgreSQL")},
		{Before: nil, After: s("Kubernetes")},
		{Before: nil, After: s("go")},
	})
	if !changed {
		t.Fatalf("expected change")
	}
	want := []string{"Go", "PostgreSQL", "Kubernetes"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestApplySkillsIgnoresImpossibleEdits(t *testing.T) {
	src := model.Skills{
		HardSkills: []model.Skill{{Name: "Go", Proficiency: "advanced"}},
		SoftSkills: []string{"Mentoring"},
	}
	p := func(v string) *string { return &v }
	out := applySkills(src, []skillsChange{
		{Category: model.CategoryHardSkills, Name: "Go", Action: model.ActionAdded},
		{Category: model.CategoryHardSkills, Name: "Rust", Action: model.ActionRemoved},
		{Category: model.CategoryHardSkills, Name: "go", Action: model.ActionAdjusted, Proficiency: p("expert")},
		{Category: model.CategorySoftSkills, Name: "Mentoring", Action: model.ActionRemoved},
		{Category: model.CategoryTools, Name: "Terraform", Action: model.ActionAdded, Proficiency: p("intermediate")},
	})
	if len(out.Modifications) != 3 {
		t.Fatalf("modifications = %+v", out.Modifications)
	}
	if out.Skills.HardSkills[0].Proficiency != "expert" || len(out.Skills.SoftSkills) != 0 || out.Skills.Tools[0].Name != "Terraform" {
		t.Fatalf("skills = %+v", out.Skills)
	}
	if src.HardSkills[0].Proficiency != "advanced" || len(src.SoftSkills) != 1 {
		t.Fatalf("source mutated: %+v", src)
	}
	adj := out.Modifications[0]
	if adj.Name != "Go" || adj.Before.Proficiency != "advanced" || adj.After.Proficiency != "expert" {
		t.Fatalf("adjusted = %+v", adj)
	}
}

func TestAdaptExperienceFiltersUntouchedDeliverables(t *testing.T) {
	src := model.Experience{
		Title:        "Engineer",
		Company:      "Acme",
		Description:  "Built things.",
		Deliverables: []string{"Shipped feature", "Reduced latency by 40%", "Led team"},
	}
	out := adaptExperience(src, experienceResponse{Description: &textChange{Value: "Built payment services.", Reason: "job focus"}})

	if len(out.Item.Deliverables) != 1 || out.Item.Deliverables[0] != "Reduced latency by 40%" {
		t.Fatalf("deliverables = %q", out.Item.Deliverables)
	}
	var found bool
	for _, m := range out.Modifications {
		if m.Field == "deliverables" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a deliverables modification, got %+v", out.Modifications)
	}
	if len(src.Deliverables) != 3 {
		t.Fatalf("source mutated: %q", src.Deliverables)
	}

	clean := model.Experience{Title: "Engineer", Deliverables: []string{"Cut costs by 20%"}}
	if out := adaptExperience(clean, experienceResponse{}); len(out.Modifications) != 0 {
		t.Fatalf("expected no modifications, got %+v", out.Modifications)
	}
}
