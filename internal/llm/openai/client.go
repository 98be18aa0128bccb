package openai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cv-adapter/internal/llm"
	"cv-adapter/internal/shared/telemetry"
)

var apiURL = "https://api.openai.com/v1/chat/completions"

// Client implements llm.Client using OpenAI Chat Completions with structured outputs.
type Client struct {
	apiKey       string
	defaultModel string
	httpClient   *http.Client
}

// NewClient constructs a new OpenAI client. defaultModel is used when a request names none.
func NewClient(apiKey, defaultModel string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey:       apiKey,
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    *float32       `json:"temperature,omitempty"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		TotalTokens         int `json:"total_tokens"`
		PromptTokensDetails *struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details,omitempty"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Generate sends one chat completion and returns the JSON content.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return llm.Response{}, fmt.Errorf("openai: model is required")
	}

	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	}
	if len(req.Schema) > 0 {
		name := req.SchemaName
		if name == "" {
			name = req.Stage
		}
		body.ResponseFormat = responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchema{Name: name, Strict: true, Schema: req.Schema},
		}
	}
	if !isReasoningModel(model) {
		temp := float32(0)
		if req.Temperature != nil {
			temp = *req.Temperature
		}
		body.Temperature = &temp
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return llm.Response{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return llm.Response{}, fmt.Errorf("openai request timeout: %w", err)
		}
		return llm.Response{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Response{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return llm.Response{}, fmt.Errorf("openai response parse (http status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		if parsed.Error.Code == "insufficient_quota" || parsed.Error.Type == "insufficient_quota" {
			return llm.Response{}, fmt.Errorf("openai: %s: %w", parsed.Error.Message, llm.ErrQuotaExceeded)
		}
		return llm.Response{}, fmt.Errorf("openai error (http status %d): %s (%s)", resp.StatusCode, parsed.Error.Message, parsed.Error.Type)
	}
	if resp.StatusCode >= 300 {
		return llm.Response{}, fmt.Errorf("openai http status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("openai response missing choices: %w", llm.ErrEmptyResponse)
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return llm.Response{}, fmt.Errorf("openai: %w", llm.ErrEmptyResponse)
	}
	if !json.Valid([]byte(content)) {
		return llm.Response{}, fmt.Errorf("openai returned invalid JSON for stage %s", req.Stage)
	}

	out := llm.Response{Content: json.RawMessage(content), Model: model}
	if parsed.Model != "" {
		out.Model = parsed.Model
	}
	if u := parsed.Usage; u != nil {
		out.Usage = llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens}
		if u.PromptTokensDetails != nil {
			out.Usage.CachedTokens = u.PromptTokensDetails.CachedTokens
		}
	}
	logUsage(req.Stage, out, time.Since(started), hashPromptString(req.System))
	return out, nil
}

func logUsage(stage string, resp llm.Response, took time.Duration, prefixHash string) {
	telemetry.Info("llm.usage", map[string]any{
		"provider":          "openai",
		"stage":             stage,
		"model":             resp.Model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"cached_tokens":     resp.Usage.CachedTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"duration_ms":       took.Milliseconds(),
		"prefix_hash":       prefixHash,
	})
}

// isReasoningModel reports models that reject an explicit temperature.
func isReasoningModel(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	return isGPT5(m) || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4")
}

func isGPT5(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-5")
}

func hashPromptString(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

var _ llm.Client = (*Client)(nil)
