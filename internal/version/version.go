// Package version holds the build-time version stamp shared by the
// CLI and the command-surface server.
package version

// Version is overridden at build time via -ldflags
// "-X github.com/m3u8dl/engine/internal/version.Version=...".
var Version = "dev"
