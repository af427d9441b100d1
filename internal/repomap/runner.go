package repomap

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the number of scans allowed in flight at once.
const DefaultConcurrency = 8

// RunWithConcurrency calls worker for every item with at most limit calls in
// flight. results[i] always belongs to items[i], whatever the completion order.
//
// Workers report failure through their return value. If ctx is cancelled while
// waiting for a slot, the remaining items keep the zero value of R.
func RunWithConcurrency[T, R any](ctx context.Context, items []T, limit int, worker func(ctx context.Context, index int, item T) R) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}
	if limit < 1 {
		limit = 1
	}
	if limit > len(items) {
		limit = len(items)
	}

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = worker(ctx, i, item)
		}()
	}
	wg.Wait()
	return results
}
