package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type preprocessResponse struct {
	Title            string   `json:"title"`
	Responsibilities []string `json:"responsibilities"`
	Keywords         []string `json:"keywords"`
	Seniority        string   `json:"seniority"`
}

// preprocess extracts the job context. Its failure is fatal for the run.
func (r *runner) preprocess(ctx context.Context) (Stats, error) {
	job := r.in.Job
	err := r.generate(ctx, call{
		stage: StagePreprocess,
		input: job,
		vars: map[string]any{
			"JobTitle":         job.Title,
			"JobDescription":   job.Description,
			"Responsibilities": job.Responsibilities,
		},
	}, func(raw json.RawMessage) (any, error) {
		var resp preprocessResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode preprocess: %w", err)
		}
		r.job = JobContext{
			Title:            firstNonEmpty(strings.TrimSpace(resp.Title), job.Title),
			Responsibilities: cleanList(resp.Responsibilities),
			Keywords:         cleanList(resp.Keywords),
			Seniority:        resp.Seniority,
		}
		if len(r.job.Responsibilities) == 0 {
			r.job.Responsibilities = cleanList(job.Responsibilities)
		}
		return nil, nil
	})
	if err != nil {
		return Stats{Total: 1, Failed: 1}, err
	}
	return Stats{Total: 1, Succeeded: 1}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
