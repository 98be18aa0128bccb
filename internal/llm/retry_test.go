package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type scriptedClient struct {
	errs  []error
	calls int
}

func (s *scriptedClient) Generate(ctx context.Context, req Request) (Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Response{}, s.errs[i]
	}
	return Response{Content: []byte(`{}`), Model: "m"}, nil
}

func TestRetryingRecoversFromTransientErrors(t *testing.T) {
	base := &scriptedClient{errs: []error{
		errors.New("openai http status 503"),
		errors.New("connection reset by peer"),
	}}
	c := NewRetrying(base, RetryOptions{MaxRetries: 3, BaseDelay: time.Millisecond})

	if _, err := c.Generate(context.Background(), Request{Stage: "summary"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", base.calls)
	}
}

func TestRetryingGivesUpAfterMaxRetries(t *testing.T) {
	transient := errors.New("http status 500")
	base := &scriptedClient{errs: []error{transient, transient, transient, transient, transient}}
	c := NewRetrying(base, RetryOptions{MaxRetries: 3, BaseDelay: time.Millisecond})

	if _, err := c.Generate(context.Background(), Request{}); !errors.Is(err, transient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if base.calls != 4 {
		t.Fatalf("expected 1 call + 3 retries, got %d", base.calls)
	}
}

func TestRetryingDoesNotRetryQuota(t *testing.T) {
	base := &scriptedClient{errs: []error{fmt.Errorf("openai: %w", ErrQuotaExceeded)}}
	c := NewRetrying(base, RetryOptions{MaxRetries: 3, BaseDelay: time.Millisecond})

	_, err := c.Generate(context.Background(), Request{})
	if !IsQuotaError(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if base.calls != 1 {
		t.Fatalf("quota errors must not retry, got %d calls", base.calls)
	}
}

func TestRetryingStopsOnCancel(t *testing.T) {
	base := &scriptedClient{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	c := NewRetrying(base, RetryOptions{MaxRetries: 3, BaseDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := c.Generate(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsQuotaError(t *testing.T) {
	cases := map[string]bool{
		"You exceeded your current quota, please check your plan": true,
		"error code insufficient_quota":                           true,
		"RESOURCE_EXHAUSTED":                                      false,
		"http status 500":                                         false,
	}
	for msg, want := range cases {
		if got := IsQuotaError(errors.New(msg)); got != want {
			t.Fatalf("IsQuotaError(%q) = %v, want %v", msg, got, want)
		}
	}
}
