package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"cv-adapter/internal/shared/telemetry"
)

// RetryOptions configures Retrying. Delays double after each attempt.
type RetryOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryOptions retries three times after 1s, 2s and 4s.
var DefaultRetryOptions = RetryOptions{MaxRetries: 3, BaseDelay: time.Second}

type retrying struct {
	base Client
	opts RetryOptions
}

// NewRetrying wraps base with exponential backoff on transient errors.
func NewRetrying(base Client, opts RetryOptions) Client {
	if base == nil {
		return nil
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return retrying{base: base, opts: opts}
}

func (r retrying) Generate(ctx context.Context, req Request) (Response, error) {
	delay := r.opts.BaseDelay
	for attempt := 0; ; attempt++ {
		resp, err := r.base.Generate(ctx, req)
		if err == nil || attempt >= r.opts.MaxRetries || !ShouldRetry(err) || ctx.Err() != nil {
			return resp, err
		}
		telemetry.Info("llm.retry", map[string]any{
			"stage":    req.Stage,
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
		delay *= 2
	}
}

// ShouldRetry reports whether err looks transient. Quota and cancellation errors never retry.
func ShouldRetry(err error) bool {
	if err == nil || IsQuotaError(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "http status 5") || strings.Contains(msg, "http status 429") || strings.Contains(msg, "server_error") {
		return true
	}
	if strings.Contains(msg, "timeout") {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unexpected eof") ||
		strings.Contains(msg, "invalid json") {
		return true
	}
	return false
}
