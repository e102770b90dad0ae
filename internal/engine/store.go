package engine

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// workDirPrefix names a task's on-disk scratch directory
// (".m3u8dl-<id>", spec §6) inside the caller-supplied output directory.
const workDirPrefix = ".m3u8dl-"

// segmentFileName returns "seg-NNNNNN.ts" for the given zero-based
// index (spec §4.4).
func segmentFileName(index int) string {
	return fmt.Sprintf("seg-%06d.ts", index)
}

// Store owns one task's temp directory: segment files, the resume
// journal, and the concat list consumed by the muxer.
type Store struct {
	dir string

	mu      sync.Mutex
	journal *os.File
	done    map[int]int64 // index -> size, durable per the journal
}

// NewStore creates (or reopens) the scratch directory for taskID under
// outputDir.
func NewStore(outputDir, taskID string) (*Store, error) {
	dir := filepath.Join(outputDir, workDirPrefix+taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task directory: %w", err)
	}
	journal, err := os.OpenFile(filepath.Join(dir, "journal.log"), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Store{dir: dir, journal: journal, done: make(map[int]int64)}, nil
}

// Dir returns the task's scratch directory.
func (s *Store) Dir() string { return s.dir }

// segmentPath returns the finalized path for a segment index.
func (s *Store) segmentPath(index int) string {
	return filepath.Join(s.dir, segmentFileName(index))
}

// partPath returns the in-progress write path for a segment index.
func (s *Store) partPath(index int) string {
	return s.segmentPath(index) + ".part"
}

// Resume re-validates every journal-referenced segment file and
// returns the set of indices that survive as Done (spec §4.4,
// "Resume"; spec §8 property 3). Any journal line that fails to parse
// or whose file fails validation is discarded: the file, if present,
// is removed, and the journal is rewritten to drop it.
func (s *Store) Resume() (map[int]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, corrupt := s.readJournalLocked()
	for _, c := range corrupt {
		Logger().Warn(c.Error())
	}

	survivors := make(map[int]int64, len(entries))
	for index, size := range entries {
		path := s.segmentPath(index)
		info, err := os.Stat(path)
		if err != nil || info.Size() != size {
			os.Remove(path)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil || !validateSegment(data) {
			os.Remove(path)
			continue
		}
		survivors[index] = size
	}

	if len(corrupt) > 0 || len(survivors) != len(entries) {
		if err := s.rewriteJournalLocked(survivors); err != nil {
			return nil, err
		}
	}

	s.done = survivors
	out := make(map[int]int64, len(survivors))
	for k, v := range survivors {
		out[k] = v
	}
	return out, nil
}

func (s *Store) readJournalLocked() (entries map[int]int64, corrupt []*JournalCorruption) {
	entries = make(map[int]int64)
	if _, err := s.journal.Seek(0, 0); err != nil {
		return entries, corrupt
	}
	scanner := bufio.NewScanner(s.journal)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			corrupt = append(corrupt, &JournalCorruption{Line: line, Err: fmt.Errorf("malformed line")})
			continue
		}
		index, err := strconv.Atoi(fields[0])
		if err != nil {
			corrupt = append(corrupt, &JournalCorruption{Line: line, Err: err})
			continue
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			corrupt = append(corrupt, &JournalCorruption{Line: line, Err: err})
			continue
		}
		entries[index] = size
	}
	// Seek back to the end so subsequent appends land after existing content.
	s.journal.Seek(0, 2)
	return entries, corrupt
}

func (s *Store) rewriteJournalLocked(surviving map[int]int64) error {
	path := filepath.Join(s.dir, "journal.log")
	tmp := path + ".rewrite"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("rewrite journal: %w", err)
	}
	for index, size := range surviving {
		fingerprint := sha1Prefix(nil, index, size)
		if _, err := fmt.Fprintf(f, "%d %d %s\n", index, size, fingerprint); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	f.Close()

	s.journal.Close()
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename rewritten journal: %w", err)
	}
	s.journal, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	return err
}

// Write persists a finalized, already-validated segment: write to a
// ".part" file, fsync, rename into place, then append and fsync a
// journal line. The rename and the journal append together define
// durability (spec §4.4, "Write protocol"); a cancellation observed
// between them either leaves the part file unreferenced (so it is
// re-downloaded) or completes both, never one without the other.
func (s *Store) Write(index int, data []byte) error {
	part := s.partPath(index)
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create part file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(part)
		return fmt.Errorf("write segment %d: %w", index, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(part)
		return fmt.Errorf("sync segment %d: %w", index, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return err
	}

	final := s.segmentPath(index)
	if err := os.Rename(part, final); err != nil {
		return fmt.Errorf("finalize segment %d: %w", index, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fingerprint := sha1Prefix(data, index, int64(len(data)))
	if _, err := fmt.Fprintf(s.journal, "%d %d %s\n", index, len(data), fingerprint); err != nil {
		return fmt.Errorf("append journal for segment %d: %w", index, err)
	}
	if err := s.journal.Sync(); err != nil {
		return fmt.Errorf("sync journal for segment %d: %w", index, err)
	}
	s.done[index] = int64(len(data))
	return nil
}

// OrderedSegmentPaths returns the finalized segment paths for
// [0, total) in ascending index order, as required by the muxer
// (spec §3 invariant: "presented to the muxer in ascending order").
func (s *Store) OrderedSegmentPaths(total int) []string {
	paths := make([]string, total)
	for i := 0; i < total; i++ {
		paths[i] = s.segmentPath(i)
	}
	return paths
}

// Close releases the journal file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journal.Close()
}

// Remove deletes the entire scratch directory, including the journal,
// segment files, and concat list.
func (s *Store) Remove() error {
	s.Close()
	return os.RemoveAll(s.dir)
}

// sha1Prefix computes a short content fingerprint for the journal line.
// When data is nil (journal rewrite from a resumed file), the
// fingerprint is derived from index and size alone — the durability
// invariant (spec §3) is proved by (file exists, size matches, passes
// validator), not by the fingerprint; the fingerprint is a diagnostic
// aid for journal corruption detection, not itself load-bearing.
func sha1Prefix(data []byte, index int, size int64) string {
	h := sha1.New()
	if data != nil {
		h.Write(data)
	} else {
		fmt.Fprintf(h, "%d:%d", index, size)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:4])
}

// validateSegment implements the validator of spec §4.4: a file is
// valid iff its first bytes carry MPEG-TS sync bytes at 188-byte
// intervals, or it begins with an ISO-BMFF box (fMP4 ftyp/moof/mdat).
func validateSegment(data []byte) bool {
	if isMPEGTS(data) {
		return true
	}
	if isFragmentedMP4(data) {
		return true
	}
	return false
}

const tsSyncByte = 0x47

// isMPEGTS checks for sync bytes at offsets 0, 188, 376, ... across the
// first 16 full 188-byte packets, or fewer if the data holds fewer (at
// least one full packet required).
func isMPEGTS(data []byte) bool {
	if len(data) < 188 {
		return false
	}
	packets := len(data) / 188
	if packets > 16 {
		packets = 16 // sampling enough packets is sufficient; no need to scan a multi-MB segment fully
	}
	for i := 0; i < packets; i++ {
		if data[i*188] != tsSyncByte {
			return false
		}
	}
	return true
}

var fmp4BoxTypes = [][]byte{[]byte("ftyp"), []byte("moof"), []byte("mdat"), []byte("styp")}

// isFragmentedMP4 checks whether data begins with a 4-byte big-endian
// box length followed by a recognized ISO-BMFF box type.
func isFragmentedMP4(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	boxLen := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	if boxLen < 8 || int(boxLen) > len(data)+8 {
		// Only a length below the 8-byte box header is rejected; a
		// length larger than data is accepted, since callers may pass
		// only the leading bytes of a file.
		if boxLen < 8 {
			return false
		}
	}
	boxType := data[4:8]
	for _, want := range fmp4BoxTypes {
		if string(boxType) == string(want) {
			return true
		}
	}
	return false
}
