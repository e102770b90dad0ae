package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

// retryBudget is the per-segment retry ceiling shared by every failure
// class the worker can observe (spec §4.5): R attempts total, meaning
// up to R-1 retries after the first try.
const retryBudget = 6

// backoffPolicy returns a fresh exponential backoff matching spec
// §4.5's formula: 500ms initial, x2 multiplier, 30s cap, 20% jitter.
// A new instance is built per segment so elapsed-time state never
// leaks between segments sharing a worker goroutine.
func backoffPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0 // bounded by retryBudget attempts, not wall time
	return b
}

// segmentFetcher downloads, decrypts, and persists one segment. It is
// the unit of work a worker pool goroutine runs per descriptor.
type segmentFetcher struct {
	client  *Client
	keys    *keyCache
	store   *Store
	headers map[string]string
}

// fetchOne performs a single attempt (no retry) at fetching segment
// seg: GET, optional AES-128-CBC decrypt, validate, persist. Retry
// orchestration lives in fetchSegmentWithRetry, not here, so a single
// attempt can be unit tested without timing dependencies.
func (f *segmentFetcher) fetchOne(ctx context.Context, seg SegmentDescriptor) (int64, error) {
	data, err := f.client.GetBytes(ctx, seg.URL, f.headers)
	if err != nil {
		return 0, err
	}

	if seg.KeyMethod == KeyMethodAES128 {
		key, err := f.keys.resolve(ctx, f.client, seg.KeyURL, f.headers)
		if err != nil {
			return 0, err
		}
		data, err = decryptAES128CBC(data, key, seg.IV)
		if err != nil {
			return 0, err
		}
	}

	if !validateSegment(data) {
		return 0, &ValidationError{Index: seg.Index, Reason: "unrecognized container format"}
	}

	if err := f.store.Write(seg.Index, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// runWorkerPool downloads every segment in playlist not already marked
// done, bounding concurrency to `workers` in-flight fetches at once
// (spec §4.5, "Concurrency knob"), retrying each failed segment up to
// retryBudget attempts under an independent exponential backoff. It
// returns once every pending segment has reported exactly once, or ctx
// is cancelled, whichever comes first.
//
// onProgress, when non-nil, is called after every successful segment
// write with that segment's size and the cumulative bytes written so
// far across the whole task — the task's progress aggregator (C6)
// samples this rather than runWorkerPool owning any timing state
// itself.
func runWorkerPool(ctx context.Context, playlist *Playlist, done map[int]int64, fetcher *segmentFetcher, workers int, onProgress func(segmentBytes, totalBytes int64)) error {
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))

	var (
		wg         sync.WaitGroup
		firstFatal error
		fatalOnce  sync.Once
		totalBytes int64
	)
	for _, size := range done {
		totalBytes += size
	}

	for _, seg := range playlist.Segments {
		if _, ok := done[seg.Index]; ok {
			continue
		}
		seg := seg
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled while waiting for a slot; stop launching
			// new segments and let already-running ones drain below.
			break
		}
		wg.Add(1)
		go func() {
			defer sem.Release(1)
			defer wg.Done()

			n, err := fetchSegmentWithRetry(ctx, fetcher, seg)
			if err != nil {
				fatalOnce.Do(func() { firstFatal = fmt.Errorf("segment %d: %w", seg.Index, err) })
				return
			}
			running := atomic.AddInt64(&totalBytes, n)
			if onProgress != nil {
				onProgress(n, running)
			}
		}()
	}

	wg.Wait()

	if firstFatal != nil {
		return firstFatal
	}
	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}
	return nil
}

// fetchSegmentWithRetry attempts seg up to retryBudget times,
// retrying only errors retryable() classifies as such (spec §4.5).
// Any other error, or exhausting the budget, is fatal for the whole
// task per spec §4.6 (a segment's retries exhausted -> download
// failure via the task state machine).
func fetchSegmentWithRetry(ctx context.Context, fetcher *segmentFetcher, seg SegmentDescriptor) (int64, error) {
	policy := backoffPolicy()
	var lastErr error

	for attempt := 1; attempt <= retryBudget; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, ErrCancelled
		}

		n, err := fetcher.fetchOne(ctx, seg)
		if err == nil {
			return n, nil
		}
		lastErr = err

		if !retryable(err) {
			return 0, err
		}
		if attempt == retryBudget {
			break
		}

		wait := policy.NextBackOff()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ErrCancelled
		case <-timer.C:
		}
	}
	return 0, fmt.Errorf("exhausted %d attempts: %w", retryBudget, lastErr)
}
