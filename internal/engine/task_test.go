package engine

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const plainManifest = `#EXTM3U
#EXTINF:2.0,
seg0.ts
#EXTINF:2.0,
seg1.ts
#EXT-X-ENDLIST
`

func TestTaskRunPlainVODReachesMuxed(t *testing.T) {
	if !FFmpegAvailable() {
		t.Skip("ffmpeg not available in this environment")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ".m3u8"):
			w.Write([]byte(plainManifest))
		default:
			w.Write(tsSegment(2))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	task := NewTask("task-s1", srv.URL+"/index.m3u8", "out", dir, 2, nil)
	client := NewClient(2)

	events := task.Bus.Subscribe()
	var sawCreateTempDir, sawMuxed bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events {
			if e.Kind == EventCreateTempDirectory {
				sawCreateTempDir = true
			}
			if e.Kind == EventMergeVideo && e.IsMerged {
				sawMuxed = true
			}
		}
	}()

	err := task.Run(client)
	task.Bus.Close()
	<-done

	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.StatusNow() != StatusMuxed {
		t.Fatalf("status = %v, want StatusMuxed", task.StatusNow())
	}
	if !sawCreateTempDir {
		t.Error("expected a create_temp_directory event")
	}
	if !sawMuxed {
		t.Error("expected a merge_video event with IsMerged=true")
	}
	if _, err := os.Stat(filepath.Join(dir, "out.mp4")); err != nil {
		t.Errorf("expected output file, stat failed: %v", err)
	}
}

func TestTaskCancelIsIdempotentOnTerminalStatus(t *testing.T) {
	task := NewTask("task-term", "http://example.com/x.m3u8", "out", t.TempDir(), 1, nil)
	task.setStatus(StatusMuxed)
	task.Cancel() // must not panic or alter status
	if task.StatusNow() != StatusMuxed {
		t.Fatalf("status changed after Cancel on terminal task: %v", task.StatusNow())
	}
}

func TestTaskSnapshotReflectsProgress(t *testing.T) {
	task := NewTask("task-snap", "http://example.com/x.m3u8", "out", t.TempDir(), 1, nil)
	task.totalCount = 4
	task.doneCount = 2
	snap := task.Snapshot()
	if snap.DoneCount != 2 || snap.TotalCount != 4 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestTaskRunFailsOnUnreachableManifest(t *testing.T) {
	task := NewTask("task-fail", "http://127.0.0.1:1/missing.m3u8", "out", t.TempDir(), 1, nil)
	client := NewClient(1)
	err := task.Run(client)
	if err == nil {
		t.Fatal("expected error for unreachable manifest host")
	}
	if task.StatusNow() != StatusCancelled {
		t.Fatalf("status = %v, want StatusCancelled (fatal non-cancel path still reports cancelled per state machine)", task.StatusNow())
	}
}
