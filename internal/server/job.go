package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/m3u8dl/engine/internal/engine"
)

// streamEvents relays task's event bus to the client as a Server-Sent
// Events stream, one JSON-encoded engine.Event per `data:` line, until
// the bus closes (task reached a terminal state) or the client
// disconnects. This generalizes the teacher's JobQueue polling model
// (internal/server/job.go's map of *Job, queried by repeated
// GET /status/{id}) into a push model, since the engine's task already
// exposes a push-based bus rather than a store the server would have to
// poll.
func streamEvents(c *gin.Context, task *engine.Task) {
	w := c.Writer
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch := task.Bus.Subscribe()
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(sseEvent{
				Kind:       string(ev.Kind),
				Progress:   ev.Progress,
				Speed:      ev.Speed,
				DoneCount:  ev.DoneCount,
				TotalCount: ev.TotalCount,
				IsMerged:   ev.IsMerged,
				File:       ev.File,
				Status:     int(ev.Status),
				Error:      errString(ev.Err),
			})
			if err != nil {
				continue
			}
			w.Write([]byte("data: "))
			w.Write(payload)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

// sseEvent is the wire shape of an engine.Event sent over SSE: plain
// JSON scalars only, since engine.Event carries an error value that
// doesn't marshal on its own.
type sseEvent struct {
	Kind       string `json:"kind"`
	Progress   int    `json:"progress,omitempty"`
	Speed      string `json:"speed,omitempty"`
	DoneCount  int    `json:"done_count,omitempty"`
	TotalCount int    `json:"total_count,omitempty"`
	IsMerged   bool   `json:"is_merged,omitempty"`
	File       string `json:"file,omitempty"`
	Status     int    `json:"status"`
	Error      string `json:"error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
