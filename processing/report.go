package processing

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pdok/terrapack/tilekey"
)

// TileError is the failure of a single tile. It does not stop the batch.
type TileError struct {
	Key tilekey.Key
	Err error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *TileError) Unwrap() error {
	return e.Err
}

// Report collects per tile outcomes of one run. It is safe for concurrent use.
type Report struct {
	RunID string

	mu      sync.Mutex
	done    int
	skipped int
	failed  []*TileError
}

func NewReport() *Report {
	return &Report{RunID: uuid.NewString()}
}

func (r *Report) Done(tilekey.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
}

// Skip counts a tile without data, which is not an error.
func (r *Report) Skip(tilekey.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped++
}

func (r *Report) Fail(key tilekey.Key, err error) {
	log.Printf("  [%s] %s failed: %v", r.RunID, key, err)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, &TileError{Key: key, Err: err})
}

func (r *Report) Counts() (done, skipped, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done, r.skipped, len(r.failed)
}

// Failures returns the failed tiles ordered by key.
func (r *Report) Failures() []*TileError {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]*TileError(nil), r.failed...)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Err joins all tile failures, nil when there were none.
func (r *Report) Err() error {
	failures := r.Failures()
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func (r *Report) Log(stage string) {
	done, skipped, failed := r.Counts()
	log.Printf("=== %s done (run %s): %d ok, %d without data, %d failed ===", stage, r.RunID, done, skipped, failed)
}
