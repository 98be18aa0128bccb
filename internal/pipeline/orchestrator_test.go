package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"cv-adapter/internal/events"
	"cv-adapter/internal/llm"
	"cv-adapter/internal/llm/prompts"
	"cv-adapter/internal/tasks"
	"cv-adapter/resume/model"
)

type scriptedLLM struct {
	mu      sync.Mutex
	calls   []llm.Request
	respond func(req llm.Request) (string, error)
}

func (s *scriptedLLM) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	content, err := s.respond(req)
	if err != nil {
		return llm.Response{}, err
	}
	return llm.Response{
		Content: json.RawMessage(content),
		Model:   req.Model,
		Usage:   llm.Usage{PromptTokens: 100, CachedTokens: 40, CompletionTokens: 20},
	}, nil
}

func (s *scriptedLLM) requests(stage string) []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []llm.Request
	for _, c := range s.calls {
		if c.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}

type fakeRuntime struct {
	mu        sync.Mutex
	cancelled bool
	progress  []int
}

func (f *fakeRuntime) Checkpoint(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled {
		return tasks.ErrCancelled
	}
	return ctx.Err()
}

func (f *fakeRuntime) SetProgress(ctx context.Context, taskID string, percent int) error {
	f.mu.Lock()
	f.progress = append(f.progress, percent)
	f.mu.Unlock()
	return nil
}

func (f *fakeRuntime) RegisterProcess(string, *os.Process, <-chan struct{}) {}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEvents) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingEvents) count(typ events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func sampleCV() model.CV {
	return model.CV{
		Header: model.Header{FullName: "Ada Park", CurrentTitle: "Backend Engineer", Contact: model.Contact{Email: "ada@example.com"}},
		Summary: model.Summary{
			Headline:    "Engineer",
			Description: "Builds services.",
		},
		Skills: model.Skills{
			HardSkills: []model.Skill{{Name: "Go", Proficiency: "advanced"}},
			Tools:      []model.Skill{{Name: "Git", Proficiency: "advanced"}},
		},
		Experience: []model.Experience{
			{
				Title: "Backend Engineer", Company: "Acme", StartDate: "2021-01", EndDate: "present",
				Description: "Built APIs.", Deliverables: []string{"Shipped v1"}, SkillsUsed: []string{"Go"},
			},
			{Title: "Barista", Company: "Bean Co", StartDate: "2018-01", EndDate: "2020-12", Description: "Coffee."},
			{Title: "Data Engineer", Company: "Initech", StartDate: "2019-01", EndDate: "2020-12", Description: "Pipelines."},
		},
		Projects:  []model.Project{{Name: "cvtool", Summary: "A CLI."}},
		Languages: []model.Language{{Name: "English", Level: "fluent"}},
	}
}

func stagedResponder(req llm.Request) (string, error) {
	switch req.Stage {
	case StagePreprocess:
		return `{"title":"Senior Go Engineer","responsibilities":["Build APIs"],"keywords":["go","postgres"],"seniority":"senior"}`, nil
	case StageClassify:
		return `{"experiences":[{"index":1,"decision":"skip","reason":"unrelated"}],"projects":[]}`, nil
	case StageExperiences:
		if strings.Contains(req.Prompt, "Data Engineer") {
			return "", errors.New("upstream 500")
		}
		return `{
			"description":{"value":"Built Go APIs on Postgres.","reason":"keywords"},
			"deliverables":{"value":["Cut p99 latency by 40%","Improved morale"],"reason":"impact"},
			"skill_changes":[{"before":null,"after":"PostgreSQL","reason":"job stack"}],
			"domain":null
		}`, nil
	case StageProjects:
		return `{"summary":{"value":"A Go CLI.","reason":"stack"}}`, nil
	case StageSkills:
		return `{"changes":[{"category":"tools","name":"Docker","action":"added","proficiency":"intermediate","reason":"job stack"}]}`, nil
	case StageSummary:
		return `{"headline":{"value":"Go backend engineer","reason":"title"}}`, nil
	case StageLanguages:
		return `{"languages":[{"index":0,"level":"C2","reason":"CEFR"}]}`, nil
	}
	return "", errors.New("unexpected stage " + req.Stage)
}

func newTestOrchestrator(t *testing.T, client llm.Client) (*Orchestrator, *tasks.MemoryRepo, *recordingEvents) {
	t.Helper()
	cat, err := prompts.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	repo := tasks.NewMemoryRepo()
	now := time.Now().UTC()
	if err := repo.Create(context.Background(), tasks.Task{ID: "task-1", UserID: "u1", Kind: "adapt", Status: tasks.StatusRunning, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	ev := &recordingEvents{}
	return &Orchestrator{LLM: client, Catalog: cat, Subtasks: repo, Events: ev}, repo, ev
}

func testInput(mode string) Input {
	return Input{
		TaskID:     "task-1",
		UserID:     "u1",
		DocumentID: "doc-1",
		Source:     sampleCV(),
		Job:        Job{Title: "Senior Go Engineer", Description: "Go and Postgres", Responsibilities: []string{"Build APIs"}},
		Mode:       mode,
	}
}

func TestRunStagedPartialFailure(t *testing.T) {
	client := &scriptedLLM{respond: stagedResponder}
	o, repo, ev := newTestOrchestrator(t, client)
	rt := &fakeRuntime{}

	res, err := o.Run(context.Background(), testInput(ModeStaged), rt)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := Stats{Total: 6, Succeeded: 5, Failed: 1}
	if res.Stats != want {
		t.Fatalf("stats = %+v, want %+v", res.Stats, want)
	}
	if res.Job.Title != "Senior Go Engineer" || len(res.Job.Keywords) != 2 {
		t.Fatalf("job = %+v", res.Job)
	}

	exps := client.requests(StageExperiences)
	if len(exps) != 2 {
		t.Fatalf("experience calls = %d, want 2 (barista skipped)", len(exps))
	}
	for _, r := range exps {
		if r.CacheKey != "task-1:experiences" {
			t.Fatalf("cache key = %q", r.CacheKey)
		}
		if strings.Contains(r.Prompt, "Barista") {
			t.Fatalf("skipped experience was sent")
		}
	}

	if len(res.Outputs.Experience) != 1 || res.Outputs.Experience[0].Index != 0 {
		t.Fatalf("experience outputs = %+v", res.Outputs.Experience)
	}
	adapted := res.Adapted
	got := adapted.Experience[0]
	if got.Title != "Backend Engineer" || got.Company != "Acme" || got.StartDate != "2021-01" {
		t.Fatalf("immutable fields changed: %+v", got)
	}
	if len(got.Deliverables) != 1 || got.Deliverables[0] != "Cut p99 latency by 40%" {
		t.Fatalf("deliverables = %v", got.Deliverables)
	}
	if len(got.SkillsUsed) != 2 || got.SkillsUsed[1] != "PostgreSQL" {
		t.Fatalf("skills_used = %v", got.SkillsUsed)
	}
	if adapted.Experience[1].Description != "Coffee." || adapted.Experience[2].Description != "Pipelines." {
		t.Fatalf("untouched experiences changed: %+v", adapted.Experience)
	}
	if adapted.Header.CurrentTitle != "Senior Go Engineer" || adapted.Header.FullName != "Ada Park" {
		t.Fatalf("header = %+v", adapted.Header)
	}
	if adapted.Summary.Headline != "Go backend engineer" || adapted.Languages[0].Level != "C2" {
		t.Fatalf("summary/languages = %+v %+v", adapted.Summary, adapted.Languages)
	}
	if len(adapted.Skills.Tools) != 2 || adapted.Skills.Tools[1].Name != "Docker" {
		t.Fatalf("tools = %+v", adapted.Skills.Tools)
	}
	if len(res.Changes) == 0 {
		t.Fatalf("expected changes")
	}

	subs, err := repo.ListSubtasks(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("subtasks: %v", err)
	}
	if len(subs) != 8 {
		t.Fatalf("subtasks = %d, want 8", len(subs))
	}
	failed := 0
	for _, s := range subs {
		if s.Status == tasks.SubtaskRunning {
			t.Fatalf("subtask %s left running", s.Type)
		}
		if s.Status == tasks.SubtaskFailed {
			failed++
			if s.Type != StageExperiences || s.ItemIndex != 2 {
				t.Fatalf("unexpected failed subtask %+v", s)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("failed subtasks = %d", failed)
	}

	if res.Usage.PromptTokens != 700 || res.Usage.CompletionTokens != 140 || res.Usage.EstimatedCost <= 0 {
		t.Fatalf("usage = %+v", res.Usage)
	}
	if ev.count(events.TypeItem) == 0 || ev.count(events.TypeProgress) == 0 {
		t.Fatalf("expected progress and item events")
	}
	last := rt.progress[len(rt.progress)-1]
	if last != 100 {
		t.Fatalf("final progress = %d", last)
	}
}

func TestRunStagedAllItemsFail(t *testing.T) {
	client := &scriptedLLM{respond: func(req llm.Request) (string, error) {
		switch req.Stage {
		case StagePreprocess, StageClassify:
			return stagedResponder(req)
		}
		return "", llm.ErrQuotaExceeded
	}}
	o, _, _ := newTestOrchestrator(t, client)

	res, err := o.Run(context.Background(), testInput(ModeStaged), nil)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("expected ErrAllFailed, got %v", err)
	}
	if !errors.Is(err, llm.ErrQuotaExceeded) {
		t.Fatalf("expected quota cause, got %v", err)
	}
	if res.Stats.Succeeded != 0 || res.Stats.Failed != res.Stats.Total {
		t.Fatalf("stats = %+v", res.Stats)
	}
}

func TestRunPreprocessFailureIsFatal(t *testing.T) {
	client := &scriptedLLM{respond: func(req llm.Request) (string, error) {
		if req.Stage == StagePreprocess {
			return "", errors.New("boom")
		}
		return stagedResponder(req)
	}}
	o, _, _ := newTestOrchestrator(t, client)

	if _, err := o.Run(context.Background(), testInput(ModeStaged), nil); err == nil {
		t.Fatalf("expected error")
	}
	if n := len(client.requests(StageExperiences)); n != 0 {
		t.Fatalf("experience calls after failed preprocess = %d", n)
	}
}

func TestRunClassifyFailureKeepsEverything(t *testing.T) {
	client := &scriptedLLM{respond: func(req llm.Request) (string, error) {
		if req.Stage == StageClassify {
			return `not json`, nil
		}
		return stagedResponder(req)
	}}
	o, _, _ := newTestOrchestrator(t, client)

	if _, err := o.Run(context.Background(), testInput(ModeStaged), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := len(client.requests(StageExperiences)); n != 3 {
		t.Fatalf("experience calls = %d, want 3", n)
	}
}

func TestRunCancelledBeforeFirstCall(t *testing.T) {
	client := &scriptedLLM{respond: stagedResponder}
	o, _, _ := newTestOrchestrator(t, client)

	_, err := o.Run(context.Background(), testInput(ModeStaged), &fakeRuntime{cancelled: true})
	if !errors.Is(err, tasks.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if len(client.calls) != 0 {
		t.Fatalf("calls = %d, want 0", len(client.calls))
	}
}

func TestRunLegacy(t *testing.T) {
	adapted := sampleCV()
	adapted.Header.FullName = "Someone Else"
	adapted.Header.CurrentTitle = "Senior Go Engineer"
	adapted.Experience[0].Deliverables = []string{"Shipped v1", "Won an award", "Saved $2M a year"}
	body, err := json.Marshal(map[string]any{"cv": adapted})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	client := &scriptedLLM{respond: func(req llm.Request) (string, error) {
		if req.Stage != StageLegacy {
			return "", errors.New("unexpected stage " + req.Stage)
		}
		return string(body), nil
	}}
	o, _, _ := newTestOrchestrator(t, client)

	res, err := o.Run(context.Background(), testInput(ModeLegacy), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Mode != ModeLegacy || res.Stats != (Stats{Total: 1, Succeeded: 1}) {
		t.Fatalf("mode=%s stats=%+v", res.Mode, res.Stats)
	}
	if res.Adapted.Header.FullName != "Ada Park" {
		t.Fatalf("full name overwritten: %q", res.Adapted.Header.FullName)
	}
	if res.Adapted.Header.CurrentTitle != "Senior Go Engineer" {
		t.Fatalf("title = %q", res.Adapted.Header.CurrentTitle)
	}
	d := res.Adapted.Experience[0].Deliverables
	if len(d) != 2 || d[0] != "Shipped v1" || d[1] != "Saved $2M a year" {
		t.Fatalf("deliverables = %v", d)
	}
	if len(res.Changes) == 0 {
		t.Fatalf("expected changes")
	}
}

func TestRunLegacyBadResponse(t *testing.T) {
	client := &scriptedLLM{respond: func(llm.Request) (string, error) { return `{"cv":null}`, nil }}
	o, _, _ := newTestOrchestrator(t, client)

	_, err := o.Run(context.Background(), testInput(ModeLegacy), nil)
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrAllFailed wrapping ErrNoResponse, got %v", err)
	}
}
