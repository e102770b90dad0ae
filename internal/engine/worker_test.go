package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient() *Client {
	return NewClient(4)
}

func TestRunWorkerPoolDownloadsAllSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tsSegment(2))
	}))
	defer srv.Close()

	dir := t.TempDir()
	store, err := NewStore(dir, "pool1")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	playlist := &Playlist{
		Segments: []SegmentDescriptor{
			{Index: 0, URL: srv.URL + "/0"},
			{Index: 1, URL: srv.URL + "/1"},
			{Index: 2, URL: srv.URL + "/2"},
		},
		HasEndlist: true,
	}

	fetcher := &segmentFetcher{
		client: newTestClient(),
		keys:   newKeyCache(),
		store:  store,
	}

	var progressCalls int64
	err = runWorkerPool(context.Background(), playlist, map[int]int64{}, fetcher, 2, func(segBytes, total int64) {
		atomic.AddInt64(&progressCalls, 1)
	})
	if err != nil {
		t.Fatalf("runWorkerPool: %v", err)
	}
	if atomic.LoadInt64(&progressCalls) != 3 {
		t.Errorf("expected 3 progress callbacks, got %d", progressCalls)
	}

	survivors, err := store.Resume()
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(survivors) != 3 {
		t.Fatalf("expected 3 segments persisted, got %d", len(survivors))
	}
}

func TestRunWorkerPoolSkipsAlreadyDoneSegments(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.Write(tsSegment(2))
	}))
	defer srv.Close()

	dir := t.TempDir()
	store, _ := NewStore(dir, "pool2")
	defer store.Close()

	playlist := &Playlist{
		Segments: []SegmentDescriptor{
			{Index: 0, URL: srv.URL + "/0"},
			{Index: 1, URL: srv.URL + "/1"},
		},
		HasEndlist: true,
	}

	fetcher := &segmentFetcher{client: newTestClient(), keys: newKeyCache(), store: store}
	err := runWorkerPool(context.Background(), playlist, map[int]int64{0: 376}, fetcher, 2, nil)
	if err != nil {
		t.Fatalf("runWorkerPool: %v", err)
	}
	if atomic.LoadInt64(&requests) != 1 {
		t.Fatalf("expected only segment 1 to be fetched, got %d requests", requests)
	}
}

func TestRunWorkerPoolFailsAfterRetryExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	store, _ := NewStore(dir, "pool3")
	defer store.Close()

	playlist := &Playlist{Segments: []SegmentDescriptor{{Index: 0, URL: srv.URL}}, HasEndlist: true}
	fetcher := &segmentFetcher{client: newTestClient(), keys: newKeyCache(), store: store}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	err := runWorkerPool(ctx, playlist, map[int]int64{}, fetcher, 1, nil)
	if err == nil {
		t.Fatal("expected runWorkerPool to fail after retry exhaustion")
	}
}

func TestRunWorkerPoolFatalErrorNotRetried(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dir := t.TempDir()
	store, _ := NewStore(dir, "pool4")
	defer store.Close()

	playlist := &Playlist{Segments: []SegmentDescriptor{{Index: 0, URL: srv.URL}}, HasEndlist: true}
	fetcher := &segmentFetcher{client: newTestClient(), keys: newKeyCache(), store: store}

	err := runWorkerPool(context.Background(), playlist, map[int]int64{}, fetcher, 1, nil)
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if atomic.LoadInt64(&requests) != 1 {
		t.Fatalf("expected exactly 1 request for a non-retryable status, got %d", requests)
	}
}
