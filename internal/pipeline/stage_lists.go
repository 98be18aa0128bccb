package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cv-adapter/internal/merge"
	"cv-adapter/resume/model"
)

type languageEdit struct {
	Index  int    `json:"index"`
	Level  string `json:"level"`
	Reason string `json:"reason"`
}

type extraEdit struct {
	Index   int    `json:"index"`
	Summary string `json:"summary"`
	Reason  string `json:"reason"`
}

type indexedItem[T any] struct {
	Index int `json:"index"`
	Item  T   `json:"item"`
}

func withIndexes[T any](items []T) []indexedItem[T] {
	out := make([]indexedItem[T], len(items))
	for i, it := range items {
		out[i] = indexedItem[T]{Index: i, Item: it}
	}
	return out
}

// languages normalizes language levels in one call.
func (r *runner) languages(ctx context.Context) ([]model.ItemOutput[model.Language], Stats) {
	src := r.in.Source.Languages
	if len(src) == 0 {
		return nil, Stats{}
	}
	var outs []model.ItemOutput[model.Language]
	err := r.generate(ctx, call{
		stage: StageLanguages,
		input: map[string]int{"languages": len(src)},
		vars: map[string]any{
			"InterfaceLanguage": r.interfaceLanguage(),
			"ItemJSON":          toJSON(withIndexes(src)),
		},
	}, func(raw json.RawMessage) (any, error) {
		var resp struct {
			Languages []languageEdit `json:"languages"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode languages: %w", err)
		}
		seen := map[int]bool{}
		for _, e := range resp.Languages {
			if e.Index < 0 || e.Index >= len(src) || seen[e.Index] {
				continue
			}
			seen[e.Index] = true
			item := src[e.Index]
			var mods []model.Modification
			mods = applyText(mods, "level", &item.Level, &textChange{Value: e.Level, Reason: e.Reason})
			merge.LockLanguage(&item, src[e.Index])
			if len(mods) > 0 {
				outs = append(outs, model.ItemOutput[model.Language]{Index: e.Index, Item: item, Modifications: mods})
			}
		}
		return outs, nil
	})
	r.emitItem(StageLanguages, 0, 1, "languages", err)
	if err != nil {
		return nil, Stats{Total: 1, Failed: 1}
	}
	return outs, Stats{Total: 1, Succeeded: 1}
}

// extras rewrites extra-item summaries in one call.
func (r *runner) extras(ctx context.Context) ([]model.ItemOutput[model.Extra], Stats) {
	src := r.in.Source.Extras
	if len(src) == 0 {
		return nil, Stats{}
	}
	var outs []model.ItemOutput[model.Extra]
	err := r.generate(ctx, call{
		stage: StageExtras,
		input: map[string]int{"extras": len(src)},
		vars: map[string]any{
			"InterfaceLanguage": r.interfaceLanguage(),
			"JobKeywords":       keywords(r.job),
			"ItemJSON":          toJSON(withIndexes(src)),
		},
	}, func(raw json.RawMessage) (any, error) {
		var resp struct {
			Extras []extraEdit `json:"extras"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode extras: %w", err)
		}
		seen := map[int]bool{}
		for _, e := range resp.Extras {
			if e.Index < 0 || e.Index >= len(src) || seen[e.Index] || strings.TrimSpace(e.Summary) == "" {
				continue
			}
			seen[e.Index] = true
			item := src[e.Index]
			var mods []model.Modification
			mods = applyText(mods, "summary", &item.Summary, &textChange{Value: e.Summary, Reason: e.Reason})
			merge.LockExtra(&item, src[e.Index])
			if len(mods) > 0 {
				outs = append(outs, model.ItemOutput[model.Extra]{Index: e.Index, Item: item, Modifications: mods})
			}
		}
		return outs, nil
	})
	r.emitItem(StageExtras, 0, 1, "extras", err)
	if err != nil {
		return nil, Stats{Total: 1, Failed: 1}
	}
	return outs, Stats{Total: 1, Succeeded: 1}
}
