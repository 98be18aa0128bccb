package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"cv-adapter/resume/model"
)

type summaryResponse struct {
	Headline     *textChange `json:"headline"`
	Description  *textChange `json:"description"`
	Domains      *listChange `json:"domains"`
	KeyStrengths *listChange `json:"key_strengths"`
}

func (r *runner) summary(ctx context.Context) (*model.SummaryOutput, Stats) {
	src := r.in.Source.Summary
	var out *model.SummaryOutput
	err := r.generate(ctx, call{
		stage: StageSummary,
		input: map[string]string{"headline": src.Headline},
		vars: map[string]any{
			"InterfaceLanguage": r.interfaceLanguage(),
			"JobTitle":          firstNonEmpty(r.job.Title, r.in.Job.Title),
			"JobKeywords":       keywords(r.job),
			"ItemJSON":          toJSON(src),
		},
	}, func(raw json.RawMessage) (any, error) {
		var resp summaryResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		s := src
		var mods []model.Modification
		mods = applyText(mods, "headline", &s.Headline, resp.Headline)
		mods = applyText(mods, "description", &s.Description, resp.Description)
		if resp.Domains != nil {
			mods = applyList(mods, "domains", &s.Domains, resp.Domains.Value, resp.Domains.Reason)
		}
		if resp.KeyStrengths != nil {
			mods = applyList(mods, "key_strengths", &s.KeyStrengths, resp.KeyStrengths.Value, resp.KeyStrengths.Reason)
		}
		if len(mods) > 0 {
			out = &model.SummaryOutput{Summary: s, Modifications: mods}
		}
		return mods, nil
	})
	r.emitItem(StageSummary, 0, 1, "summary", err)
	if err != nil {
		return nil, Stats{Total: 1, Failed: 1}
	}
	return out, Stats{Total: 1, Succeeded: 1}
}
