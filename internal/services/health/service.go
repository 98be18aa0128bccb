package health

import (
	"context"
	"sort"
	"time"
)

const checkTimeout = 2 * time.Second

// Check pings one dependency.
type Check func(ctx context.Context) error

// Service runs the registered dependency checks.
type Service struct {
	checks map[string]Check
}

// NewService constructs a health service. Components with nothing configured simply do not
// register a check.
func NewService() *Service {
	return &Service{checks: map[string]Check{}}
}

// Register adds a named check. A nil check is ignored.
func (s *Service) Register(name string, check Check) {
	if check == nil {
		return
	}
	s.checks[name] = check
}

// Status runs every check with a short timeout and reports per-component results.
func (s *Service) Status(ctx context.Context) (ok bool, components map[string]string) {
	components = make(map[string]string, len(s.checks))
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ok = true
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := s.checks[name](cctx)
		cancel()
		if err != nil {
			ok = false
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}
	return ok, components
}
