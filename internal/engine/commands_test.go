package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStartDownloadIsIdempotentPerID(t *testing.T) {
	e := NewEngine(2)
	dir := t.TempDir()
	t1, err := e.StartDownload("dup", "http://127.0.0.1:1/x.m3u8", "out", dir, 1, nil)
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	t2, err := e.StartDownload("dup", "http://different-url-ignored/y.m3u8", "out", dir, 1, nil)
	if err != nil {
		t.Fatalf("StartDownload (second call): %v", err)
	}
	if t1 != t2 {
		t.Fatal("expected second StartDownload with the same id to return the existing task")
	}
}

func TestCancelDownloadUnknownIDIsNoop(t *testing.T) {
	e := NewEngine(1)
	e.CancelDownload("never-started") // must not panic
}

func TestDeleteDownloadRemovesTempDir(t *testing.T) {
	e := NewEngine(1)
	dir := t.TempDir()

	store, err := NewStore(dir, "del1")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	store.Close()

	if err := e.DeleteDownload("del1", dir); err != nil {
		t.Fatalf("DeleteDownload: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, workDirPrefix+"del1")); !os.IsNotExist(err) {
		t.Errorf("expected temp dir to be removed")
	}
}

func TestDeleteFileRemovesOutput(t *testing.T) {
	e := NewEngine(1)
	dir := t.TempDir()
	path := filepath.Join(dir, "video.mp4")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := e.DeleteFile(path); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected file to be removed")
	}
}

func TestQueryReturnsRegisteredTask(t *testing.T) {
	e := NewEngine(1)
	dir := t.TempDir()
	task, _ := e.StartDownload("q1", "http://127.0.0.1:1/x.m3u8", "out", dir, 1, nil)
	got, ok := e.Query("q1")
	if !ok || got != task {
		t.Fatalf("Query did not return the started task")
	}
	// Let the background driver fail fast against the unroutable host
	// before the test process exits, so it doesn't leak across tests.
	time.Sleep(50 * time.Millisecond)
}

func TestGetCPUInfoReturnsNonZeroCores(t *testing.T) {
	info, err := GetCPUInfo()
	if err != nil {
		t.Fatalf("GetCPUInfo: %v", err)
	}
	if info.LogicalCores <= 0 {
		t.Errorf("expected at least 1 logical core, got %d", info.LogicalCores)
	}
}
