package pipeline

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"cv-adapter/internal/diff"
	"cv-adapter/internal/events"
	"cv-adapter/internal/llm"
	"cv-adapter/internal/llm/prompts"
	"cv-adapter/internal/merge"
	"cv-adapter/internal/tasks"
	"cv-adapter/resume/model"
)

// Orchestrator runs adaptation stages against an AI backend.
type Orchestrator struct {
	LLM      llm.Client
	Catalog  *prompts.Catalog
	Subtasks SubtaskStore
	Events   events.Publisher
	// FanOutLimit bounds concurrent item calls within a stage; 0 means unbounded.
	FanOutLimit int
	// Model overrides the catalogue's per-stage model when set.
	Model string
}

// Run adapts in.Source to in.Job. Item failures are tolerated and counted in Result.Stats;
// Run fails when every item failed, when preprocessing fails, or when the task is cancelled.
func (o *Orchestrator) Run(ctx context.Context, in Input, rt tasks.Runtime) (Result, error) {
	if o.LLM == nil || o.Catalog == nil {
		return Result{}, fmt.Errorf("pipeline: llm client and catalog are required")
	}
	mode := in.Mode
	if mode != ModeLegacy {
		mode = ModeStaged
	}
	r := &runner{o: o, in: in, rt: rt, progress: NewProgress(mode)}
	res := Result{Mode: mode}

	var err error
	if mode == ModeLegacy {
		err = r.runLegacy(ctx, &res)
	} else {
		err = r.runStaged(ctx, &res)
	}
	res.Usage = r.usage
	res.Job = r.job
	if err != nil {
		return res, err
	}
	if err := r.checkpoint(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func (r *runner) runLegacy(ctx context.Context, res *Result) error {
	r.job = JobContext{Title: r.in.Job.Title, Responsibilities: cleanList(r.in.Job.Responsibilities)}
	stats, err := r.stage(ctx, StageLegacy, func(ctx context.Context) (Stats, error) {
		return r.legacy(ctx, res)
	})
	res.Stats = stats
	if err != nil {
		if cerr := r.checkpoint(ctx); cerr != nil {
			return cerr
		}
		return fmt.Errorf("%w: %w", ErrAllFailed, err)
	}
	return nil
}

func (r *runner) runStaged(ctx context.Context, res *Result) error {
	if _, err := r.stage(ctx, StagePreprocess, func(ctx context.Context) (Stats, error) {
		return r.preprocess(ctx)
	}); err != nil {
		return err
	}
	if err := r.checkpoint(ctx); err != nil {
		return err
	}

	var sel selection
	if _, err := r.stage(ctx, StageClassify, func(ctx context.Context) (Stats, error) {
		return r.classify(ctx, &sel)
	}); err != nil {
		return err
	}
	if err := r.checkpoint(ctx); err != nil {
		return err
	}

	var (
		outputs                                 model.StageOutputs
		expStats, projStats, skillStats         Stats
		summaryStats, languageStats, extraStats Stats
	)
	src := r.in.Source
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := r.stage(gctx, StageExperiences, func(ctx context.Context) (Stats, error) {
			outputs.Experience, expStats = r.experiences(ctx, sel.experiences)
			return expStats, nil
		})
		return err
	})
	g.Go(func() error {
		_, err := r.stage(gctx, StageProjects, func(ctx context.Context) (Stats, error) {
			outputs.Projects, projStats = r.projects(ctx, sel.projects)
			return projStats, nil
		})
		return err
	})
	g.Go(func() error {
		_, err := r.stage(gctx, StageSkills, func(ctx context.Context) (Stats, error) {
			outputs.Skills, skillStats = r.skills(ctx, usedSkills(src.Experience))
			return skillStats, nil
		})
		return err
	})
	g.Go(func() error {
		_, err := r.stage(gctx, StageSummary, func(ctx context.Context) (Stats, error) {
			outputs.Summary, summaryStats = r.summary(ctx)
			return summaryStats, nil
		})
		return err
	})
	g.Go(func() error {
		_, err := r.stage(gctx, StageLanguages, func(ctx context.Context) (Stats, error) {
			outputs.Languages, languageStats = r.languages(ctx)
			return languageStats, nil
		})
		return err
	})
	g.Go(func() error {
		_, err := r.stage(gctx, StageExtras, func(ctx context.Context) (Stats, error) {
			outputs.Extras, extraStats = r.extras(ctx)
			return extraStats, nil
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if err := r.checkpoint(ctx); err != nil {
		return err
	}

	for _, s := range []Stats{expStats, projStats, skillStats, summaryStats, languageStats, extraStats} {
		res.Stats.add(s)
	}
	if res.Stats.Total > 0 && res.Stats.Succeeded == 0 {
		return fmt.Errorf("%w (%d items): %w", ErrAllFailed, res.Stats.Total, r.firstFailure())
	}

	_, err := r.stage(ctx, StageRecompose, func(ctx context.Context) (Stats, error) {
		outputs.Header = r.header()
		res.Outputs = outputs
		res.Adapted = merge.Recompose(src, outputs)
		res.Changes = diff.FromOutputs(src, outputs)
		return Stats{}, nil
	})
	return err
}

// header aligns current_title with the target job title.
func (r *runner) header() *model.HeaderOutput {
	title := strings.TrimSpace(firstNonEmpty(r.in.Job.Title, r.job.Title))
	current := r.in.Source.Header.CurrentTitle
	if title == "" || strings.EqualFold(title, strings.TrimSpace(current)) {
		return nil
	}
	return &model.HeaderOutput{
		CurrentTitle: title,
		Modifications: []model.Modification{{
			Field:  "current_title",
			Action: model.ActionAdjusted,
			Before: current,
			After:  title,
			Reason: "Aligned with the target job title",
		}},
	}
}
