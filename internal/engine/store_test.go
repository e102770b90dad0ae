package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func tsSegment(packets int) []byte {
	buf := make([]byte, packets*188)
	for i := 0; i < packets; i++ {
		buf[i*188] = tsSyncByte
	}
	return buf
}

func TestStoreWriteThenResumeSurvivesValidSegment(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, "task1")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	data := tsSegment(4)
	if err := s.Write(2, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.Close()

	s2, err := NewStore(dir, "task1")
	if err != nil {
		t.Fatalf("reopen NewStore: %v", err)
	}
	survivors, err := s2.Resume()
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	size, ok := survivors[2]
	if !ok {
		t.Fatalf("expected segment 2 to survive resume, got %v", survivors)
	}
	if size != int64(len(data)) {
		t.Errorf("size = %d, want %d", size, len(data))
	}
}

func TestStoreResumeDropsTruncatedSegment(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, "task2")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	data := tsSegment(4)
	if err := s.Write(0, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Simulate truncation by rewriting the finalized file with fewer bytes
	// than the journal records.
	if err := os.WriteFile(s.segmentPath(0), data[:100], 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	s.Close()

	s2, _ := NewStore(dir, "task2")
	survivors, err := s2.Resume()
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, ok := survivors[0]; ok {
		t.Fatalf("expected segment 0 to be dropped, got %v", survivors)
	}
	if _, err := os.Stat(s2.segmentPath(0)); !os.IsNotExist(err) {
		t.Errorf("expected truncated segment file to be removed")
	}
}

func TestStoreResumeDropsCorruptJournalLine(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, "task3")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.Close()

	journalPath := filepath.Join(s.Dir(), "journal.log")
	if err := os.WriteFile(journalPath, []byte("not-a-number 10 abcd\n"), 0o644); err != nil {
		t.Fatalf("write journal: %v", err)
	}

	s2, _ := NewStore(dir, "task3")
	survivors, err := s2.Resume()
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(survivors) != 0 {
		t.Fatalf("expected no survivors from corrupt journal, got %v", survivors)
	}
}

func TestOrderedSegmentPaths(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir, "task4")
	paths := s.OrderedSegmentPaths(3)
	want := []string{
		s.segmentPath(0),
		s.segmentPath(1),
		s.segmentPath(2),
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("path %d = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestValidateSegmentMPEGTS(t *testing.T) {
	if !validateSegment(tsSegment(3)) {
		t.Fatal("expected valid MPEG-TS segment to pass validation")
	}
}

func TestValidateSegmentFragmentedMP4(t *testing.T) {
	box := append([]byte{0, 0, 0, 24}, []byte("ftyp")...)
	box = append(box, bytes.Repeat([]byte{0}, 16)...)
	if !validateSegment(box) {
		t.Fatal("expected valid fMP4 box to pass validation")
	}
}

func TestValidateSegmentRejectsGarbage(t *testing.T) {
	if validateSegment([]byte("not a media segment at all")) {
		t.Fatal("expected garbage input to fail validation")
	}
}
