package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one end-to-end download of one manifest to one MP4 (spec
// §3, "Task"). It owns its own cancellation switch, event bus, and
// on-disk store, and is driven to completion by a single call to Run.
type Task struct {
	ID          string
	ManifestURL string
	Name        string
	OutputDir   string
	ThreadCount int
	Headers     map[string]string
	CreatedAt   time.Time

	Bus *Bus

	status int32 // Status, accessed atomically

	doneCount  int32
	totalCount int32
	bytesTotal int64
	speedBps   int64

	lastEmittedPercent int32

	cancel context.CancelFunc
	ctx    context.Context

	mu      sync.Mutex
	running bool
}

// NewTask constructs a task in the new(10) state. It does not start
// any work; call Run to drive it.
func NewTask(id, manifestURL, name, outputDir string, threadCount int, headers map[string]string) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		ID:          id,
		ManifestURL: manifestURL,
		Name:        name,
		OutputDir:   outputDir,
		ThreadCount: threadCount,
		Headers:     headers,
		CreatedAt:   time.Now(),
		Bus:         NewBus(),
		ctx:         ctx,
		cancel:      cancel,
	}
	t.setStatus(StatusNew)
	return t
}

func (t *Task) setStatus(s Status) { atomic.StoreInt32(&t.status, int32(s)) }

// StatusNow returns the task's current status (spec §3, "Status code").
func (t *Task) StatusNow() Status { return Status(atomic.LoadInt32(&t.status)) }

// Cancel trips the task's cancellation switch (spec §4.6, "any ->
// cancel -> cancelled"). Idempotent: calling it on a terminal task is
// a no-op, per spec §5's cancellation semantics.
func (t *Task) Cancel() {
	switch t.StatusNow() {
	case StatusMuxed, StatusCancelled, StatusMuxFailed:
		return
	}
	t.cancel()
}

// outputPath is the destination MP4 path.
func (t *Task) outputPath() string {
	return filepath.Join(t.OutputDir, t.Name+".mp4")
}

// Run drives the task through its full lifecycle: fetch manifest,
// resume or create the segment store, download all segments, mux, and
// clean up (spec §4.6's state diagram end to end). It blocks until the
// task reaches a terminal state and returns the terminal error, if
// any, or nil on success.
func (t *Task) Run(client *Client) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("task %s already running", t.ID)
	}
	t.running = true
	t.mu.Unlock()

	t.setStatus(StatusQueued)
	err := t.run(client)
	// run closes the bus itself once downloading has begun; this covers
	// the failures that return before that point. A second Close is a
	// no-op.
	t.Bus.Close()
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	return err
}

func (t *Task) run(client *Client) error {
	log := Logger().With(zap.String("task_id", t.ID))

	manifestText, err := client.GetText(t.ctx, t.ManifestURL, t.Headers)
	if err != nil {
		return t.fail(err)
	}
	playlist, err := ParseManifest(strings.NewReader(manifestText), t.ManifestURL)
	if err != nil {
		return t.fail(err)
	}
	atomic.StoreInt32(&t.totalCount, int32(len(playlist.Segments)))

	if err := os.MkdirAll(t.OutputDir, 0o755); err != nil {
		return t.fail(err)
	}
	store, err := NewStore(t.OutputDir, t.ID)
	if err != nil {
		return t.fail(err)
	}
	defer store.Close()
	t.Bus.Publish(Event{Kind: EventCreateTempDirectory, TaskID: t.ID, IsCreatedTempDir: true})

	survivors, err := store.Resume()
	if err != nil {
		return t.fail(err)
	}
	atomic.StoreInt32(&t.doneCount, int32(len(survivors)))
	var resumedBytes int64
	for _, size := range survivors {
		resumedBytes += size
	}
	atomic.StoreInt64(&t.bytesTotal, resumedBytes)
	log.Info("resumed", zap.Int("survivors", len(survivors)), zap.Int("total", len(playlist.Segments)))

	t.setStatus(StatusDownloading)
	t.emitProgress()

	speedDone := make(chan struct{})
	var speedWG sync.WaitGroup
	speedWG.Add(1)
	go func() {
		defer speedWG.Done()
		t.sampleSpeed(speedDone)
	}()
	defer func() {
		close(speedDone)
		speedWG.Wait()
		t.Bus.Close()
	}()

	fetcher := &segmentFetcher{client: client, keys: newKeyCache(), store: store, headers: t.Headers}
	err = runWorkerPool(t.ctx, playlist, survivors, fetcher, t.ThreadCount, func(segBytes, totalBytes int64) {
		atomic.AddInt32(&t.doneCount, 1)
		atomic.StoreInt64(&t.bytesTotal, totalBytes)
		t.emitProgress()
	})
	fetcher.keys.zeroize()
	if err != nil {
		return t.fail(err)
	}

	t.setStatus(StatusDownloadComplete)
	t.emitProgress()

	t.setStatus(StatusMuxing)
	t.Bus.Publish(Event{Kind: EventStartMergeVideo, TaskID: t.ID, Status: StatusMuxing})

	total := int(atomic.LoadInt32(&t.totalCount))
	segmentPaths := store.OrderedSegmentPaths(total)
	outPath := t.outputPath()
	if err := Mux(t.ctx, store.Dir(), segmentPaths, outPath); err != nil {
		t.setStatus(StatusMuxFailed)
		t.Bus.Publish(Event{Kind: EventMergeVideo, TaskID: t.ID, IsMerged: false, Status: StatusMuxFailed, Err: err})
		return err
	}

	if err := store.Remove(); err != nil {
		log.Warn("failed to remove temp directory after successful mux", zap.Error(err))
	}

	t.setStatus(StatusMuxed)
	t.Bus.Publish(Event{Kind: EventMergeVideo, TaskID: t.ID, IsMerged: true, File: outPath, Status: StatusMuxed})
	log.Info("muxed", zap.String("output", outPath), zap.String("elapsed", formatDuration(time.Since(t.CreatedAt))))
	return nil
}

func (t *Task) fail(err error) error {
	if t.ctx.Err() != nil {
		t.setStatus(StatusCancelled)
		t.Bus.Publish(Event{Kind: EventDownloadProgress, TaskID: t.ID, Status: StatusCancelled, Err: ErrCancelled})
		return ErrCancelled
	}
	t.setStatus(StatusCancelled)
	t.Bus.Publish(Event{Kind: EventDownloadProgress, TaskID: t.ID, Status: StatusCancelled, Err: err})
	return err
}

// emitProgress computes the current percent and emits a
// download_progress event only when the percent has changed from the
// last emission (spec §4.6, "emitted only when it changes").
func (t *Task) emitProgress() {
	done := int(atomic.LoadInt32(&t.doneCount))
	total := int(atomic.LoadInt32(&t.totalCount))
	if total == 0 {
		return
	}
	percent := int32((100 * done) / total)
	if percent > 100 {
		percent = 100
	}
	if atomic.SwapInt32(&t.lastEmittedPercent, percent) == percent {
		return
	}
	t.Bus.Publish(Event{
		Kind:       EventDownloadProgress,
		TaskID:     t.ID,
		Progress:   int(percent),
		Speed:      t.currentSpeed(),
		DoneCount:  done,
		TotalCount: total,
		Status:     t.StatusNow(),
	})
}

// sampleSpeed runs a 1 Hz timer computing speed_bps as the delta of
// bytes_total across the last second (spec §4.6, "Progress
// aggregation"), publishing a download_progress event even when the
// percent hasn't changed so a speed value keeps flowing.
func (t *Task) sampleSpeed(done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var lastBytes int64

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			cur := atomic.LoadInt64(&t.bytesTotal)
			delta := cur - lastBytes
			lastBytes = cur
			atomic.StoreInt64(&t.speedBps, delta)

			doneN := int(atomic.LoadInt32(&t.doneCount))
			totalN := int(atomic.LoadInt32(&t.totalCount))
			if totalN == 0 {
				continue
			}
			t.Bus.Publish(Event{
				Kind:       EventDownloadProgress,
				TaskID:     t.ID,
				Progress:   int((100 * doneN) / totalN),
				Speed:      t.currentSpeed(),
				DoneCount:  doneN,
				TotalCount: totalN,
				Status:     t.StatusNow(),
			})
		}
	}
}

func (t *Task) currentSpeed() string {
	bps := atomic.LoadInt64(&t.speedBps)
	return formatBytes(bps) + "/s"
}

// Snapshot returns the task's current progress, suitable for a
// query-style command that doesn't want to wait on the event bus
// (spec §3, "Progress snapshot").
func (t *Task) Snapshot() ProgressSnapshot {
	done := int(atomic.LoadInt32(&t.doneCount))
	total := int(atomic.LoadInt32(&t.totalCount))
	return ProgressSnapshot{
		DoneCount:  done,
		TotalCount: total,
		BytesTotal: atomic.LoadInt64(&t.bytesTotal),
		SpeedBps:   atomic.LoadInt64(&t.speedBps),
		Status:     t.StatusNow(),
	}
}

// ProgressSnapshot is a derived, unpersisted view of a task's progress
// (spec §3, "Progress snapshot").
type ProgressSnapshot struct {
	DoneCount  int
	TotalCount int
	BytesTotal int64
	SpeedBps   int64
	Status     Status
}

