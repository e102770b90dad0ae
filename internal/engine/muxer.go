package engine

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// stderrTailBytes bounds how much of ffmpeg's stderr is kept for
// diagnostics on failure (spec §4.7, "Diagnostics").
const stderrTailBytes = 4 * 1024

// FFmpegAvailable reports whether an ffmpeg binary is reachable on
// PATH. Checked once before muxing begins so a missing binary fails
// fast with a clear error instead of a confusing exec error mid-run.
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// FFmpegVersion runs `ffmpeg -version` and returns its first line, or
// an error if ffmpeg cannot be invoked at all. Mux calls it before
// writing the concat list and logs the version line at debug level; an
// error from it does not stop Mux.
func FFmpegVersion(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-version")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg preflight failed: %w", err)
	}
	lines := strings.SplitN(string(out), "\n", 2)
	return lines[0], nil
}

// writeConcatList writes an ffmpeg concat-demuxer list file naming
// every segment path in ascending order, as required by spec §4.7's
// muxing strategy (stream copy, no re-encode).
func writeConcatList(dir string, segmentPaths []string) (string, error) {
	listPath := filepath.Join(dir, "concat.txt")
	f, err := os.Create(listPath)
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, p := range segmentPaths {
		// ffmpeg's concat demuxer requires single-quoted paths with any
		// embedded single quote escaped.
		escaped := strings.ReplaceAll(p, "'", `'\''`)
		if _, err := fmt.Fprintf(w, "file '%s'\n", escaped); err != nil {
			return "", fmt.Errorf("write concat list: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush concat list: %w", err)
	}
	return listPath, nil
}

// Mux concatenates segmentPaths, in order, into outputPath as an MP4
// using ffmpeg's concat demuxer with stream copy (spec §4.7). It
// returns a *MuxerError describing the failure on a non-zero ffmpeg
// exit or an output file that fails container validation.
func Mux(ctx context.Context, workDir string, segmentPaths []string, outputPath string) error {
	if !FFmpegAvailable() {
		return fmt.Errorf("ffmpeg not found in PATH")
	}
	if version, err := FFmpegVersion(ctx); err == nil {
		Logger().Debug("ffmpeg preflight", zap.String("version", version))
	}

	listPath, err := writeConcatList(workDir, segmentPaths)
	if err != nil {
		return err
	}

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outputPath,
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var stderr strings.Builder
	cmd.Stderr = &stderr
	Logger().Info("muxing started", zap.Int("segment_count", len(segmentPaths)), zap.String("output", outputPath))

	runErr := cmd.Run()
	tail := tailString(stderr.String(), stderrTailBytes)

	if runErr != nil {
		exitCode := -1
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		Logger().Error("muxing failed", zap.Int("exit_code", exitCode), zap.String("stderr_tail", tail))
		return &MuxerError{ExitCode: exitCode, StderrTail: tail}
	}

	if err := validateMuxedOutput(outputPath); err != nil {
		Logger().Error("muxed output failed validation", zap.Error(err))
		return &MuxerError{ExitCode: 0, StderrTail: tail}
	}

	Logger().Info("muxing complete", zap.String("output", outputPath))
	return nil
}

// validateMuxedOutput confirms the muxer actually produced a non-empty
// file recognizable as an MP4 container (spec §4.7's "never ship a
// corrupt or zero-byte file" guarantee).
func validateMuxedOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output file not created: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output file is empty")
	}
	header := make([]byte, 12)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open output for validation: %w", err)
	}
	defer f.Close()
	n, _ := f.Read(header)
	if n < 8 || !isFragmentedMP4(header[:n]) {
		// A muxed MP4's very first box is virtually always ftyp; anything
		// else indicates ffmpeg wrote something other than valid MP4.
		if n < 8 || string(header[4:8]) != "ftyp" {
			return fmt.Errorf("output does not begin with an ftyp box")
		}
	}
	return nil
}

func tailString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[len(s)-maxBytes:]
}
