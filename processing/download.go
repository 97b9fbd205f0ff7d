package processing

import (
	"context"
	"log"

	"github.com/pdok/terrapack/tilekey"
)

type Fetcher interface {
	Fetch(ctx context.Context, key tilekey.Key) (bool, error)
}

// Download fetches every key with at most parallel fetches in flight.
func Download(ctx context.Context, fetcher Fetcher, keys []tilekey.Key, parallel int, report *Report) error {
	log.Printf("=== start downloading %d tiles, %d at a time (run %s) ===", len(keys), parallel, report.RunID)
	err := forEachTile(ctx, keys, parallel, func(ctx context.Context, key tilekey.Key) {
		ok, err := fetcher.Fetch(ctx, key)
		switch {
		case err != nil:
			report.Fail(key, err)
		case !ok:
			report.Skip(key)
		default:
			report.Done(key)
		}
	})
	report.Log("downloading")
	return err
}
