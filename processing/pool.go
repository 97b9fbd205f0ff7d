package processing

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/pdok/terrapack/tilekey"
)

// forEachTile runs fn for every key with at most parallel calls in flight.
// It stops starting new work when ctx is done.
func forEachTile(ctx context.Context, keys []tilekey.Key, parallel int, fn func(ctx context.Context, key tilekey.Key)) error {
	if parallel < 1 {
		parallel = 1
	}
	sem := semaphore.NewWeighted(int64(parallel))
	for _, key := range keys {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		go func(key tilekey.Key) {
			defer sem.Release(1)
			fn(ctx, key)
		}(key)
	}
	// acquiring the full weight waits for all running calls
	if err := sem.Acquire(context.Background(), int64(parallel)); err != nil {
		return err
	}
	return ctx.Err()
}
