package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteConcatListEscapesSingleQuotes(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "seg-000000.ts"),
		filepath.Join(dir, "it's-a-seg.ts"),
	}
	listPath, err := writeConcatList(dir, paths)
	if err != nil {
		t.Fatalf("writeConcatList: %v", err)
	}
	data, err := os.ReadFile(listPath)
	if err != nil {
		t.Fatalf("read concat list: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `it'\''s-a-seg.ts`) {
		t.Errorf("expected escaped single quote in concat list, got: %s", content)
	}
	if strings.Count(content, "file '") != 2 {
		t.Errorf("expected 2 file entries, got: %s", content)
	}
}

func TestValidateMuxedOutputRejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.mp4")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := validateMuxedOutput(path); err == nil {
		t.Fatal("expected empty file to fail validation")
	}
}

func TestValidateMuxedOutputRejectsMissingFile(t *testing.T) {
	if err := validateMuxedOutput(filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Fatal("expected missing file to fail validation")
	}
}

func TestValidateMuxedOutputAcceptsFtypBox(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.mp4")
	box := []byte{0x00, 0x00, 0x00, 0x18}
	box = append(box, []byte("ftypisom")...)
	box = append(box, make([]byte, 16)...)
	if err := os.WriteFile(path, box, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := validateMuxedOutput(path); err != nil {
		t.Errorf("expected ftyp-prefixed file to pass validation, got: %v", err)
	}
}

func TestTailStringTruncatesFromTheEnd(t *testing.T) {
	if got := tailString("abcdef", 3); got != "def" {
		t.Errorf("tailString(%q, 3) = %q, want %q", "abcdef", got, "def")
	}
	if got := tailString("ab", 3); got != "ab" {
		t.Errorf("tailString(%q, 3) = %q, want %q", "ab", got, "ab")
	}
}

func TestMuxFailsFastWhenFFmpegMissing(t *testing.T) {
	if FFmpegAvailable() {
		t.Skip("ffmpeg is available on this host; the missing-binary path isn't exercised here")
	}
	err := Mux(context.Background(), t.TempDir(), nil, filepath.Join(t.TempDir(), "out.mp4"))
	if err == nil {
		t.Fatal("expected Mux to fail when ffmpeg is not in PATH")
	}
}

func TestMuxProducesPlayableContainer(t *testing.T) {
	if !FFmpegAvailable() {
		t.Skip("ffmpeg not available")
	}
	dir := t.TempDir()
	segPath := filepath.Join(dir, "seg-000000.ts")
	if err := os.WriteFile(segPath, tsSegment(4), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	outPath := filepath.Join(dir, "out.mp4")
	if err := Mux(context.Background(), dir, []string{segPath}, outPath); err != nil {
		t.Fatalf("Mux: %v", err)
	}
	if info, err := os.Stat(outPath); err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty output file, stat err=%v", err)
	}
}
