package agent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunBatches splits items into batches of size and runs each batch's items
// concurrently, waiting for a batch to finish before starting the next.
// The first error stops further batches.
func RunBatches[T any](ctx context.Context, items []T, size int, fn func(ctx context.Context, item T) error) error {
	if size <= 0 {
		size = len(items)
	}
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		g, gctx := errgroup.WithContext(ctx)
		for _, item := range items[start:end] {
			g.Go(func() error {
				return fn(gctx, item)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}
