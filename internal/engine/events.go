package engine

import "sync"

// Status is the stable integer status code shared between the engine
// and the UI collaborator (spec §3).
type Status int

const (
	StatusCancelled       Status = 0
	StatusQueued          Status = 1
	StatusDownloading     Status = 2
	StatusDownloadComplete Status = 3
	StatusMuxing          Status = 4
	StatusMuxed           Status = 5
	StatusNew             Status = 10
	StatusMuxFailed       Status = 400
)

// EventKind distinguishes the payload shapes broadcast to the UI
// collaborator over a task's event bus.
type EventKind string

const (
	EventCreateTempDirectory EventKind = "create_temp_directory"
	EventDownloadProgress    EventKind = "download_progress"
	EventStartMergeVideo     EventKind = "start_merge_video"
	EventMergeVideo          EventKind = "merge_video"
)

// Event is the envelope broadcast on a task's event bus. Only the
// fields relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind               EventKind
	TaskID             string
	IsCreatedTempDir   bool
	Progress           int
	Speed              string
	DoneCount          int
	TotalCount         int
	IsMerged           bool
	File               string
	Status             Status
	Err                error
}

// Bus is a per-task event broadcaster. The teacher's reactive store +
// event bus is recast here as explicit channels: one buffered channel
// per subscriber, consumed by whatever UI collaborator subscribed. The
// buffers are bounded (see Subscribe), so delivery is not guaranteed.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewBus creates an empty event bus for one task.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel that receives every event published after
// the call. The channel holds 256 events so a slow subscriber never
// blocks the task driver; an event published while a subscriber's
// buffer is full is dropped for that subscriber.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 256)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish broadcasts an event to every current subscriber without
// blocking on a full channel.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes every subscriber channel. Called once the task reaches a
// terminal state and no further events will be published.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
