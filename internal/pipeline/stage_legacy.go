package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"cv-adapter/internal/diff"
	"cv-adapter/internal/merge"
	"cv-adapter/resume/model"
)

// legacy adapts the whole document in one call and derives the change set by diffing. New
// deliverables without a figure are dropped; ones already in the source stay.
func (r *runner) legacy(ctx context.Context, res *Result) (Stats, error) {
	src := r.in.Source
	err := r.generate(ctx, call{
		stage: StageLegacy,
		input: map[string]string{"jobTitle": r.in.Job.Title},
		vars: map[string]any{
			"JobTitle":       r.in.Job.Title,
			"JobDescription": r.in.Job.Description,
			"ItemJSON":       toJSON(src),
		},
	}, func(raw json.RawMessage) (any, error) {
		var resp struct {
			CV *model.CV `json:"cv"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode legacy: %w", err)
		}
		if resp.CV == nil {
			return nil, ErrNoResponse
		}
		adapted := *resp.CV
		adapted.Header.FullName = src.Header.FullName
		adapted.Header.Contact = src.Header.Contact
		existing := map[string]bool{}
		for _, e := range src.Experience {
			for _, d := range e.Deliverables {
				existing[d] = true
			}
		}
		for i := range adapted.Experience {
			kept := adapted.Experience[i].Deliverables[:0:0]
			for _, d := range adapted.Experience[i].Deliverables {
				if existing[d] || digit.MatchString(d) {
					kept = append(kept, d)
				}
			}
			adapted.Experience[i].Deliverables = kept
		}
		res.Outputs = diff.BuildOutputs(src, adapted)
		res.Adapted = merge.Recompose(src, res.Outputs)
		res.Changes = diff.FromOutputs(src, res.Outputs)
		return len(res.Changes), nil
	})
	r.emitItem(StageLegacy, 0, 1, "cv", err)
	if err != nil {
		return Stats{Total: 1, Failed: 1}, err
	}
	return Stats{Total: 1, Succeeded: 1}, nil
}
