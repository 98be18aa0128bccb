package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"cv-adapter/internal/merge"
	"cv-adapter/resume/model"
)

type projectResponse struct {
	Summary     *textChange `json:"summary"`
	Description *textChange `json:"description"`
	TechStack   *listChange `json:"tech_stack"`
}

func (r *runner) projects(ctx context.Context, indexes []int) ([]model.ItemOutput[model.Project], Stats) {
	src := r.in.Source.Projects
	results := make([]*model.ItemOutput[model.Project], len(src))

	stats := fanOut(ctx, r, StageProjects, indexes, func(i int) string { return src[i].ItemKey() }, func(ctx context.Context, i int) error {
		p := src[i]
		return r.generate(ctx, call{
			stage:  StageProjects,
			index:  i,
			shared: true,
			input:  map[string]string{"name": p.Name},
			vars: map[string]any{
				"InterfaceLanguage":   r.interfaceLanguage(),
				"JobResponsibilities": bulletList(r.job.Responsibilities),
				"JobKeywords":         keywords(r.job),
				"ItemJSON":            toJSON(p),
			},
		}, func(raw json.RawMessage) (any, error) {
			var resp projectResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				return nil, fmt.Errorf("decode project: %w", err)
			}
			item := p
			var mods []model.Modification
			mods = applyText(mods, "summary", &item.Summary, resp.Summary)
			mods = applyText(mods, "description", &item.Description, resp.Description)
			if resp.TechStack != nil {
				mods = applyList(mods, "tech_stack", &item.TechStack, resp.TechStack.Value, resp.TechStack.Reason)
			}
			merge.LockProject(&item, p)
			if len(mods) > 0 {
				results[i] = &model.ItemOutput[model.Project]{Index: i, Item: item, Modifications: mods}
			}
			return mods, nil
		})
	})
	return collect(results), stats
}
