package usage

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu    sync.Mutex
	limit int
	data  map[string]Usage
}

func newMemoryStore(limit int) *memoryStore {
	return &memoryStore{limit: limit, data: make(map[string]Usage)}
}

func (s *memoryStore) EnsurePeriod(ctx context.Context, userID string) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current(userID), nil
}

// current must be called with mu held.
func (s *memoryStore) current(userID string) Usage {
	now := time.Now().UTC()
	u, ok := s.data[userID]
	if !ok {
		u = defaultUsage(s.limit)
	}
	if !now.Before(u.ResetsAt) {
		u.Used = 0
		u.ResetsAt = now.Add(windowLength)
	}
	s.data[userID] = u
	return u
}

func (s *memoryStore) Consume(ctx context.Context, userID string, n int) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.current(userID)
	if n <= 0 {
		return u, nil
	}
	if u.Used+n > u.Limit {
		return Usage{}, ErrLimitReached
	}
	u.Used += n
	s.data[userID] = u
	return u, nil
}

func (s *memoryStore) Release(ctx context.Context, userID string, n int) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.current(userID)
	u.Used = max(u.Used-n, 0)
	s.data[userID] = u
	return u, nil
}

func (s *memoryStore) Reset(ctx context.Context, userID string) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.current(userID)
	u.Used = 0
	u.ResetsAt = time.Now().UTC().Add(windowLength)
	s.data[userID] = u
	return u, nil
}
