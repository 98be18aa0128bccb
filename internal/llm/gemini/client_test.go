package gemini

import (
	"context"
	"errors"
	"sync"
	"testing"

	"google.golang.org/genai"

	"cv-adapter/internal/llm"
)

type fakeBackend struct {
	mu         sync.Mutex
	cacheCalls int
	cacheErr   error
	configs    []*genai.GenerateContentConfig
	text       string
	err        error
}

func (f *fakeBackend) createCache(ctx context.Context, model, displayName, prefix string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheCalls++
	if f.cacheErr != nil {
		return "", f.cacheErr
	}
	return "cachedContents/abc", nil
}

func (f *fakeBackend) generate(ctx context.Context, model, prompt string, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	f.configs = append(f.configs, cfg)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}}}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:        50,
			CachedContentTokenCount: 40,
			CandidatesTokenCount:    10,
		},
	}, nil
}

func TestGenerateReusesCacheAcrossCalls(t *testing.T) {
	fb := &fakeBackend{text: `{"ok":true}`}
	c := newClient(fb, "")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Generate(context.Background(), llm.Request{Stage: "experiences", System: "prefix", Prompt: "item", CacheKey: "task-1"}); err != nil {
				t.Errorf("generate: %v", err)
			}
		}()
	}
	wg.Wait()

	if fb.cacheCalls != 1 {
		t.Fatalf("expected one cache creation, got %d", fb.cacheCalls)
	}
	for _, cfg := range fb.configs {
		if cfg.CachedContent != "cachedContents/abc" {
			t.Fatalf("expected cached content on every call, got %q", cfg.CachedContent)
		}
	}
}

func TestGenerateFallsBackToSystemInstruction(t *testing.T) {
	fb := &fakeBackend{text: "```json\n{\"a\":1}\n```", cacheErr: errors.New("too few tokens")}
	c := newClient(fb, "gemini-2.5-pro")

	resp, err := c.Generate(context.Background(), llm.Request{Stage: "summary", System: "prefix", Prompt: "p", CacheKey: "k"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(resp.Content) != `{"a":1}` {
		t.Fatalf("unexpected content %s", resp.Content)
	}
	if resp.Usage.CachedTokens != 40 || resp.Usage.PromptTokens != 50 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
	cfg := fb.configs[0]
	if cfg.CachedContent != "" || cfg.SystemInstruction == nil {
		t.Fatalf("expected inline system instruction after cache failure")
	}
	if _, err := c.Generate(context.Background(), llm.Request{Stage: "summary", System: "prefix", Prompt: "p", CacheKey: "k"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if fb.cacheCalls != 1 {
		t.Fatalf("cache miss should be remembered, got %d create calls", fb.cacheCalls)
	}
}

func TestGenerateMapsQuota(t *testing.T) {
	fb := &fakeBackend{err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "Quota exceeded for project"}}
	c := newClient(fb, "")

	_, err := c.Generate(context.Background(), llm.Request{Prompt: "p"})
	if !llm.IsQuotaError(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestGenerateRejectsInvalidJSON(t *testing.T) {
	c := newClient(&fakeBackend{text: "not json"}, "")
	if _, err := c.Generate(context.Background(), llm.Request{Prompt: "p"}); err == nil {
		t.Fatalf("expected invalid JSON error")
	}
}
