package llm

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
)

// Client is the text-generation backend: it turns a prompt plus a JSON schema into structured output.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Request describes one structured generation call.
type Request struct {
	Stage       string
	Model       string
	System      string
	Prompt      string
	SchemaName  string
	Schema      json.RawMessage
	Temperature *float32
	// CacheKey groups calls that share the System prefix so backends with explicit caching can reuse it.
	CacheKey string
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CachedTokens     int `json:"cachedTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Response is the structured content plus usage metadata.
type Response struct {
	Content json.RawMessage
	Model   string
	Usage   Usage
}

var (
	// ErrQuotaExceeded marks provider quota exhaustion. It is never retried.
	ErrQuotaExceeded = errors.New("llm quota exceeded")
	// ErrEmptyResponse is returned when the backend produced no content.
	ErrEmptyResponse = errors.New("llm response empty")
)

var quotaPattern = regexp.MustCompile(`(?i)insufficient_quota|exceeded your current quota`)

// IsQuotaError reports whether err means the provider quota is exhausted.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	return quotaPattern.MatchString(err.Error())
}

// Float32 is a helper for Request.Temperature.
func Float32(v float32) *float32 {
	return &v
}
