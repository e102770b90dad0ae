package engine

import (
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine is the command surface invoked by the UI collaborator (spec
// §6): start/cancel/delete/query entry points plus cpu-info. It pairs
// a Registry with the single shared HTTP client every task's driver
// uses (spec §4.1, "a single shared client per process").
type Engine struct {
	registry *Registry
	client   *Client
}

// NewEngine builds an engine whose shared HTTP client pool is sized
// for poolSize concurrent segment fetches across every task combined
// (spec §4.5, "Concurrency knob").
func NewEngine(poolSize int) *Engine {
	return &Engine{
		registry: NewRegistry(),
		client:   NewClient(poolSize),
	}
}

// StartDownload creates the task for id (if not already present) and
// launches its driver in a background goroutine, returning immediately
// (spec §6, `start_download`). Calling it again for an id the engine
// already owns returns the existing task without starting a second
// run.
func (e *Engine) StartDownload(id, url, name, outputDir string, threadCount int, headers map[string]string) (*Task, error) {
	correlationID := uuid.New().String()
	task, created := e.registry.insert(id, func() *Task {
		return NewTask(id, url, name, outputDir, threadCount, headers)
	})
	if !created {
		return task, nil
	}

	Logger().Info("start_download",
		zap.String("task_id", id),
		zap.String("correlation_id", correlationID),
		zap.String("url", url),
		zap.Int("thread_count", threadCount),
	)
	go task.Run(e.client)
	return task, nil
}

// CancelDownload trips the cancellation switch for id, idempotently
// (spec §6, `cancel_download`; spec §5, "cancel_download is
// idempotent"). An unknown id is a no-op.
func (e *Engine) CancelDownload(id string) {
	task, ok := e.registry.Get(id)
	if !ok {
		return
	}
	task.Cancel()
}

// DeleteDownload cancels the task if still active, removes its temp
// directory, and forgets it (spec §6, `delete_download`).
func (e *Engine) DeleteDownload(id, outputDir string) error {
	task, _ := e.registry.remove(id)
	if task != nil {
		task.Cancel()
	}
	store, err := NewStore(outputDir, id)
	if err != nil {
		return err
	}
	return store.Remove()
}

// DeleteFile unconditionally removes a finalized MP4 (spec §6,
// `delete_file`; spec §9's second Open Question, resolved as
// unconditional and synchronous — no UI policy toggle in the engine).
func (e *Engine) DeleteFile(path string) error {
	return os.Remove(path)
}

// Query returns the task for id and whether the engine still owns it,
// for a poll-style status check alongside the event bus.
func (e *Engine) Query(id string) (*Task, bool) {
	return e.registry.Get(id)
}

// GetCPUInfo reports the host's physical and logical core counts
// (spec §6, `get_cpu_info`).
func (e *Engine) GetCPUInfo() (CPUInfo, error) {
	return GetCPUInfo()
}
