package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"cv-adapter/internal/llm"
	"cv-adapter/internal/shared/telemetry"
)

const (
	defaultModel = "gemini-2.5-flash"
	cacheTTL     = time.Hour
)

// backend is the slice of the genai SDK the client uses.
type backend interface {
	createCache(ctx context.Context, model, displayName, prefix string) (string, error)
	generate(ctx context.Context, model, prompt string, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type sdkBackend struct {
	client *genai.Client
}

func (b sdkBackend) createCache(ctx context.Context, model, displayName, prefix string) (string, error) {
	cached, err := b.client.Caches.Create(ctx, model, &genai.CreateCachedContentConfig{
		DisplayName: displayName,
		TTL:         cacheTTL,
		Contents: []*genai.Content{{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: prefix}},
		}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(cached.Name), nil
}

func (b sdkBackend) generate(ctx context.Context, model, prompt string, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return b.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
}

// Client implements llm.Client on the Gemini API. Calls that share a CacheKey reuse one cached
// content resource holding the system prefix.
type Client struct {
	backend      backend
	defaultModel string

	cacheMu sync.Mutex
	caches  map[string]string
}

// NewClient creates a Gemini-backed generator.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newClient(sdkBackend{client: client}, model), nil
}

func newClient(b backend, model string) *Client {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	return &Client{backend: b, defaultModel: model, caches: make(map[string]string)}
}

// Generate runs one JSON generation. When req.CacheKey is set the system prefix is served from
// cached content; if the cache cannot be created the prefix is sent inline instead.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" || !strings.HasPrefix(model, "gemini") {
		model = c.defaultModel
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return llm.Response{}, errors.New("prompt must not be empty")
	}
	if len(req.Schema) > 0 {
		prompt += "\n\nRespond with JSON matching this schema:\n" + string(req.Schema)
	}

	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if req.Temperature != nil {
		cfg.Temperature = req.Temperature
	}
	if name := c.cachedPrefix(ctx, model, req); name != "" {
		cfg.CachedContent = name
	} else if strings.TrimSpace(req.System) != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	started := time.Now()
	resp, err := c.backend.generate(ctx, model, prompt, cfg)
	if err != nil {
		return llm.Response{}, mapError(err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			builder.WriteString(part.Text)
		}
	}
	content := strings.TrimSpace(builder.String())
	if content == "" {
		return llm.Response{}, fmt.Errorf("gemini: %w", llm.ErrEmptyResponse)
	}
	content = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(content, "```json"), "```"), "```")
	content = strings.TrimSpace(content)
	if !json.Valid([]byte(content)) {
		return llm.Response{}, fmt.Errorf("gemini returned invalid JSON for stage %s", req.Stage)
	}

	out := llm.Response{Content: json.RawMessage(content), Model: model}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CachedTokens:     int(u.CachedContentTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
		}
	}
	telemetry.Info("llm.usage", map[string]any{
		"provider":          "gemini",
		"stage":             req.Stage,
		"model":             model,
		"prompt_tokens":     out.Usage.PromptTokens,
		"cached_tokens":     out.Usage.CachedTokens,
		"completion_tokens": out.Usage.CompletionTokens,
		"cached_content":    cfg.CachedContent != "",
		"duration_ms":       time.Since(started).Milliseconds(),
	})
	return out, nil
}

func (c *Client) cachedPrefix(ctx context.Context, model string, req llm.Request) string {
	if strings.TrimSpace(req.CacheKey) == "" || strings.TrimSpace(req.System) == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(model + "\x00" + req.System))
	key := fmt.Sprintf("%s:%x", req.CacheKey, sum[:8])

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if name, ok := c.caches[key]; ok {
		return name
	}
	name, err := c.backend.createCache(ctx, model, "cv-adapter-"+req.Stage, req.System)
	if err != nil || name == "" {
		telemetry.Info("llm.cache_unavailable", map[string]any{"stage": req.Stage, "error": fmt.Sprint(err)})
		// remember the miss so siblings do not retry the create call
		c.caches[key] = ""
		return ""
	}
	c.caches[key] = name
	return name
}

func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 && strings.EqualFold(apiErr.Status, "RESOURCE_EXHAUSTED") && strings.Contains(strings.ToLower(apiErr.Message), "quota") {
			return fmt.Errorf("gemini: %s: %w", apiErr.Message, llm.ErrQuotaExceeded)
		}
		return fmt.Errorf("gemini http status %d (%s): %w", apiErr.Code, apiErr.Status, err)
	}
	return fmt.Errorf("gemini generate: %w", err)
}

var _ llm.Client = (*Client)(nil)
