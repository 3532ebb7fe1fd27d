// Package concur provides small bounded-concurrency helpers for fanning out
// independent store operations.
package concur

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map runs fn over every task with at most limit workers, preserving input
// order in the result slice. The first error cancels the remaining work and
// is returned; results computed before the failure are discarded.
func Map[T, R any](ctx context.Context, limit int, tasks []T, fn func(ctx context.Context, i int, task T) (R, error)) ([]R, error) {
	if limit < 1 {
		limit = 1
	}
	results := make([]R, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, task := range tasks {
		g.Go(func() error {
			r, err := fn(gctx, i, task)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ForEach is Map without results.
func ForEach[T any](ctx context.Context, limit int, tasks []T, fn func(ctx context.Context, i int, task T) error) error {
	_, err := Map(ctx, limit, tasks, func(ctx context.Context, i int, task T) (struct{}, error) {
		return struct{}{}, fn(ctx, i, task)
	})
	return err
}
