package enrichers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// batchParallel bounds concurrent per-key upstream calls inside one batch.
	batchParallel = 5
	// batchSize is how many keys run between pacing pauses.
	batchSize = 20
	// batchPause separates consecutive batches to stay friendly to the
	// per-token call budget.
	batchPause = 200 * time.Millisecond
)

// forEachKey runs fn once per key, bounded-parallel within batches of
// batchSize and paced between batches. Per-key errors are collected, not
// fatal; a cancelled context stops the walk and is returned alone.
func forEachKey(ctx context.Context, keys []string, fn func(ctx context.Context, key string) error) []error {
	var (
		mu     sync.Mutex
		errs   []error
		record = func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	)

	for start := 0; start < len(keys); start += batchSize {
		if err := ctx.Err(); err != nil {
			return []error{err}
		}
		end := start + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(batchParallel)
		for _, key := range keys[start:end] {
			key := key
			g.Go(func() error {
				if err := fn(gctx, key); err != nil {
					record(err)
				}
				return nil
			})
		}
		g.Wait()

		if end < len(keys) {
			select {
			case <-ctx.Done():
				return []error{ctx.Err()}
			case <-time.After(batchPause):
			}
		}
	}
	return errs
}
