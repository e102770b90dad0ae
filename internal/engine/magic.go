package engine

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DetectContainerType reads the first bytes of a file on disk and
// reports which of the two container formats the engine understands
// it is: "ts" for MPEG-TS, "mp4" for ISO-BMFF/fMP4, or "" if neither
// signature matches (spec §4.4's validator, reused here as a
// file-level utility for diagnosing an unexpected extension).
func DetectContainerType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	header := make([]byte, 188*2)
	n, err := f.Read(header)
	if err != nil && err != io.EOF {
		return "", err
	}
	header = header[:n]

	if isMPEGTS(header) {
		return "ts", nil
	}
	if isFragmentedMP4(header) {
		return "mp4", nil
	}
	return "", nil
}

// RenameByContainerType checks whether a file's actual container
// differs from its extension and renames it to match if so. Returns
// the final path (renamed or original). A file with no extension, an
// unrecognized container, or a failed rename keeps its original path.
func RenameByContainerType(path string) string {
	detected, err := DetectContainerType(path)
	if err != nil || detected == "" {
		return path
	}

	ext := filepath.Ext(path)
	currentExt := strings.TrimPrefix(ext, ".")
	if currentExt == "" || strings.EqualFold(currentExt, detected) {
		return path
	}

	newPath := path[:len(path)-len(ext)] + "." + detected
	if err := os.Rename(path, newPath); err != nil {
		return path
	}
	return newPath
}
