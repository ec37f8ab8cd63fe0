// Package parallel runs index-addressed work on a bounded set of goroutines.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map calls fn for every index in [0, n) and returns the results in index
// order. With workers <= 1 it runs serially on the calling goroutine. The
// first error cancels the remaining work and is returned.
func Map[T any](ctx context.Context, n, workers int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	if n <= 0 {
		return []T{}, nil
	}
	out := make([]T, n)

	if workers <= 1 {
		for i := range n {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			v, err := fn(ctx, i)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				v, err := fn(gctx, i)
				if err != nil {
					return err
				}
				out[i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
