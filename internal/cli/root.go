// Package cli wires the engine's command surface into a cobra-based
// command-line front end, the way the teacher's internal/cli wires its
// extractors and downloader into `vget`.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/m3u8dl/engine/internal/config"
	"github.com/m3u8dl/engine/internal/engine"
	"github.com/m3u8dl/engine/internal/progresstui"
	"github.com/m3u8dl/engine/internal/version"
)

var (
	output      string
	name        string
	taskID      string
	threadCount int
	headerFlags []string
)

var rootCmd = &cobra.Command{
	Use:     "m3u8dl [url]",
	Short:   "Downloads an HLS (.m3u8) stream to a single MP4",
	Version: version.Version,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownload(args[0])
	},
}

func init() {
	rootCmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default: config's output_dir)")
	rootCmd.Flags().StringVarP(&name, "name", "n", "", "display name / output filename stem (default: derived from the URL)")
	rootCmd.Flags().StringVar(&taskID, "id", "", "task id, stable across a resume (default: a fresh uuid)")
	rootCmd.Flags().IntVarP(&threadCount, "threads", "t", 0, "segment worker count (default: config's thread_count)")
	rootCmd.Flags().StringArrayVarP(&headerFlags, "header", "H", nil, `extra request header, "Key: Value" (repeatable)`)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func runDownload(manifestURL string) error {
	cfg := config.LoadOrDefault()

	if !config.Exists() {
		fmt.Fprintf(os.Stderr, "\033[33mconfig file not found. Run 'm3u8dl init'.\033[0m\n")
	}

	outputDir := output
	if outputDir == "" {
		outputDir = cfg.OutputDir
	}
	displayName := name
	if displayName == "" {
		displayName = nameFromURL(manifestURL)
	}
	id := taskID
	if id == "" {
		id = uuid.New().String()
	}
	threads := threadCount
	if threads <= 0 {
		threads = cfg.ThreadCount
	}
	headers, err := parseHeaders(headerFlags)
	if err != nil {
		return err
	}

	eng := engine.NewEngine(threads)
	task, err := eng.StartDownload(id, manifestURL, displayName, outputDir, threads, headers)
	if err != nil {
		return fmt.Errorf("start_download: %w", err)
	}

	if err := progresstui.Run(displayName, task); err != nil {
		return err
	}

	switch task.StatusNow() {
	case engine.StatusMuxed:
		return nil
	case engine.StatusCancelled:
		return fmt.Errorf("cancelled")
	default:
		return fmt.Errorf("download did not complete (status %d)", task.StatusNow())
	}
}

// nameFromURL derives a filename stem from the manifest URL's last path
// segment, stripping the .m3u8 extension.
func nameFromURL(rawURL string) string {
	base := filepath.Base(rawURL)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		return "stream"
	}
	return base
}

// parseHeaders turns repeated "Key: Value" flags into a header map, the
// same wire shape `start_download` accepts (spec §6).
func parseHeaders(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(flags))
	for _, f := range flags {
		k, v, ok := strings.Cut(f, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, expected \"Key: Value\"", f)
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers, nil
}
