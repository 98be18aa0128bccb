package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FanOut runs fn for every item. Item 0 runs alone first so that the prompt prefix it sends
// is cached by the backend; the remaining items then run concurrently, at most limit at a
// time (0 means unbounded). Per-item errors are collected by index and never abort siblings.
func FanOut[T any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, index int, item T) error) []error {
	errs := make([]error, len(items))
	if len(items) == 0 {
		return errs
	}
	errs[0] = fn(ctx, 0, items[0])
	if len(items) == 1 {
		return errs
	}

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 1; i < len(items); i++ {
		g.Go(func() error {
			errs[i] = fn(gctx, i, items[i])
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func countErrors(errs []error) Stats {
	s := Stats{Total: len(errs)}
	for _, err := range errs {
		if err != nil {
			s.Failed++
		} else {
			s.Succeeded++
		}
	}
	return s
}
