package usage

import (
	"context"

	"cv-adapter/internal/shared/telemetry"
)

type store interface {
	EnsurePeriod(ctx context.Context, userID string) (Usage, error)
	Consume(ctx context.Context, userID string, n int) (Usage, error)
	Release(ctx context.Context, userID string, n int) (Usage, error)
	Reset(ctx context.Context, userID string) (Usage, error)
}

// Service manages credit balances via an underlying store.
type Service struct {
	store store
}

// NewService constructs a Service with an in-memory store granting limit credits per window.
func NewService(limit int) *Service {
	return &Service{store: newMemoryStore(limit)}
}

// NewPostgresService constructs a Service backed by Postgres.
func NewPostgresService(pgStore store) *Service {
	return &Service{store: pgStore}
}

// Get returns the current usage for a user, starting a new window when the last one expired.
func (s *Service) Get(ctx context.Context, userID string) (Usage, error) {
	return s.store.EnsurePeriod(ctx, userID)
}

// CanConsume reports whether the user can consume n credits.
func (s *Service) CanConsume(ctx context.Context, userID string, n int) (bool, Usage, error) {
	u, err := s.store.EnsurePeriod(ctx, userID)
	if err != nil {
		return false, Usage{}, err
	}
	if n <= 0 {
		return true, u, nil
	}
	return u.Used+n <= u.Limit, u, nil
}

// Consume charges n credits, failing with ErrLimitReached when the window is exhausted.
func (s *Service) Consume(ctx context.Context, userID string, n int) (Usage, error) {
	return s.store.Consume(ctx, userID, n)
}

// Refund returns n previously charged credits. Callers guarantee a charge is refunded once.
func (s *Service) Refund(ctx context.Context, userID string, n int) (Usage, error) {
	u, err := s.store.Release(ctx, userID, n)
	if err != nil {
		return Usage{}, err
	}
	telemetry.Info("usage.refund", map[string]any{
		"user_id": userID,
		"credits": n,
		"used":    u.Used,
	})
	return u, nil
}

// Reset sets usage to zero and restarts the window.
func (s *Service) Reset(ctx context.Context, userID string) (Usage, error) {
	return s.store.Reset(ctx, userID)
}
