package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"cv-adapter/internal/diff"
	"cv-adapter/internal/documents"
	"cv-adapter/resume/model"
)

func sourceCV() model.CV {
	return model.CV{
		Header:  model.Header{FullName: "Ada Park", CurrentTitle: "Engineer"},
		Summary: model.Summary{Headline: "Engineer", Description: "Builds things."},
		Experience: []model.Experience{
			{Title: "Backend Engineer", Company: "Acme", StartDate: "2021-01", EndDate: "present", Description: "Built APIs."},
			{Title: "Developer", Company: "Initech", StartDate: "2018-01", EndDate: "2020-12", Deliverables: []string{"Shipped v1"}},
		},
	}
}

func adaptedCV() model.CV {
	cv := sourceCV()
	cv.Summary.Headline = "Go backend engineer"
	cv.Experience[0].Description = "Built Go APIs on Postgres."
	cv.Experience[1].Deliverables = []string{"Shipped v1", "Cut costs by 30%"}
	return cv
}

type fixture struct {
	svc  *Service
	docs *documents.MemoryRepo
	doc  documents.Document
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	docs := documents.NewMemoryRepo()
	now := time.Now().UTC()
	doc := documents.Document{ID: "doc-1", UserID: "u1", Name: "CV", Content: sourceCV(), ContentVersion: 2, OptimizeStatus: documents.OptimizeIdle, CreatedAt: now, UpdatedAt: now}
	if err := docs.Create(context.Background(), doc); err != nil {
		t.Fatalf("create doc: %v", err)
	}
	svc := &Service{Repo: NewMemoryRepo(), Documents: docs}

	src, adapted := sourceCV(), adaptedCV()
	outputs := diff.BuildOutputs(src, adapted)
	changes := diff.FromOutputs(src, outputs)
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d: %+v", len(changes), changes)
	}
	if err := docs.UpdateContent(context.Background(), "u1", "doc-1", adapted); err != nil {
		t.Fatalf("update content: %v", err)
	}
	if err := svc.Initialize(context.Background(), "u1", "doc-1", 1, src, changes, outputs); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return fixture{svc: svc, docs: docs, doc: doc}
}

func (f fixture) content(t *testing.T) documents.Document {
	t.Helper()
	d, err := f.docs.GetByID(context.Background(), "u1", "doc-1")
	if err != nil {
		t.Fatalf("get doc: %v", err)
	}
	return d
}

func TestInitializeFlagsDocument(t *testing.T) {
	f := newFixture(t)
	d := f.content(t)
	if !d.PendingReview || d.SourceVersion == nil || *d.SourceVersion != 1 {
		t.Fatalf("review flags = %v %v", d.PendingReview, d.SourceVersion)
	}
	st, err := f.svc.Get(context.Background(), "u1", "doc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, c := range st.Changes {
		if c.Status != diff.StatusPending {
			t.Fatalf("change %s status %s", c.ID, c.Status)
		}
	}
	if p := ProgressOf(st.Changes); p.Total != 3 || p.Pending != 3 || p.PercentComplete != 0 {
		t.Fatalf("progress = %+v", p)
	}
}

func TestDecideThreeChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	headline := model.ChangeKey(model.SectionSummary, 0, "headline")
	description := model.ChangeKey(model.SectionExperience, 0, "description")
	deliverables := model.ChangeKey(model.SectionExperience, 1, "deliverables")

	res, err := f.svc.Decide(ctx, "u1", "doc-1", []string{headline}, ActionReject)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.ProcessedCount != 1 || res.AllReviewed || res.Progress.Reviewed != 1 || res.Progress.PercentComplete != 33 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.UpdatedChanges) != 3 {
		t.Fatalf("expected the full change list, got %d", len(res.UpdatedChanges))
	}
	for _, c := range res.UpdatedChanges {
		want := diff.StatusPending
		if c.ID == headline {
			want = diff.StatusRejected
		}
		if c.Status != want {
			t.Fatalf("change %s status = %s, want %s", c.ID, c.Status, want)
		}
	}
	d := f.content(t)
	if d.Content.Summary.Headline != "Engineer" {
		t.Fatalf("rejected headline not restored: %q", d.Content.Summary.Headline)
	}
	if d.Content.Experience[0].Description != "Built Go APIs on Postgres." {
		t.Fatalf("pending change should stay applied: %q", d.Content.Experience[0].Description)
	}

	res, err = f.svc.Decide(ctx, "u1", "doc-1", []string{description, "summary:0:nope"}, ActionAccept)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.ProcessedCount != 1 || res.AllReviewed {
		t.Fatalf("unknown id should be skipped: %+v", res)
	}

	res, err = f.svc.Decide(ctx, "u1", "doc-1", []string{deliverables}, ActionReject)
	if err != nil {
		t.Fatalf("reject deliverables: %v", err)
	}
	if !res.AllReviewed || res.Progress.PercentComplete != 100 || len(res.UpdatedChanges) != 0 {
		t.Fatalf("expected all reviewed with no changes left: %+v", res)
	}
	d = f.content(t)
	if len(d.Content.Experience[1].Deliverables) != 1 || d.Content.Experience[0].Description != "Built Go APIs on Postgres." || d.Content.Summary.Headline != "Engineer" {
		t.Fatalf("final content = %+v", d.Content)
	}
	if d.PendingReview || d.SourceVersion != nil {
		t.Fatalf("review flags not cleared: %v %v", d.PendingReview, d.SourceVersion)
	}
	if _, err := f.svc.Get(ctx, "u1", "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cleared state, got %v", err)
	}

	res, err = f.svc.Decide(ctx, "u1", "doc-1", []string{deliverables}, ActionReject)
	if err != nil || res.ProcessedCount != 0 || !res.AllReviewed {
		t.Fatalf("decide after clear = %+v, %v", res, err)
	}
}

func TestDecideIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := model.ChangeKey(model.SectionSummary, 0, "headline")

	if _, err := f.svc.Decide(ctx, "u1", "doc-1", []string{id}, ActionReject); err != nil {
		t.Fatalf("first: %v", err)
	}
	before := f.content(t)
	res, err := f.svc.Decide(ctx, "u1", "doc-1", []string{id}, ActionReject)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if res.ProcessedCount != 0 || len(res.UpdatedChanges) != 3 {
		t.Fatalf("repeat should process nothing and list every change: %+v", res)
	}
	after := f.content(t)
	if !model.Equal(before.Content, after.Content) {
		t.Fatalf("content changed on repeated decision")
	}

	res, err = f.svc.Decide(ctx, "u1", "doc-1", []string{id}, ActionAccept)
	if err != nil || res.ProcessedCount != 1 {
		t.Fatalf("flip to accept = %+v, %v", res, err)
	}
	if f.content(t).Content.Summary.Headline != "Go backend engineer" {
		t.Fatalf("accepted headline not applied")
	}
}

func TestDecideRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name   string
		user   string
		ids    []string
		action string
		want   error
	}{
		{"bad action", "u1", []string{"summary:0:headline"}, "maybe", ErrInvalidDecision},
		{"no ids", "u1", nil, ActionAccept, ErrInvalidDecision},
		{"other user", "u2", []string{"summary:0:headline"}, ActionAccept, documents.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Decide(ctx, tt.user, "doc-1", tt.ids, tt.action); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestInitializeWithoutChangesClears(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Initialize(context.Background(), "u1", "doc-1", 2, sourceCV(), nil, model.StageOutputs{}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if f.content(t).PendingReview {
		t.Fatalf("expected no pending review")
	}
}

func TestProgressOfEmpty(t *testing.T) {
	if p := ProgressOf(nil); p.PercentComplete != 100 || p.Total != 0 {
		t.Fatalf("progress = %+v", p)
	}
}
