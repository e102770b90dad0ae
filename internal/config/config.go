// Package config loads and saves the engine's on-disk defaults: the
// thread budget, HTTP timeouts, retry limits, and command-surface
// server port (spec §4.1, §4.5, §6).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName = "config.yml"
	AppDirName     = "m3u8dl"
)

// ConfigDir returns the standard config directory for m3u8dl.
// Windows: %APPDATA%\m3u8dl\
// macOS/Linux: ~/.config/m3u8dl/
func ConfigDir() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, AppDirName), nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", AppDirName), nil
}

// ConfigPath returns the path to the config file, e.g.
// ~/.config/m3u8dl/config.yml.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// Config holds the engine's tunable defaults. The m3u8dl CLI falls back
// to OutputDir and ThreadCount when the matching flag is unset;
// m3u8dl-server reads Server and sizes its connection pool from
// ThreadCount, while a request without a thread count gets 8 workers
// regardless of this file.
type Config struct {
	// OutputDir is the default output directory for finished MP4s.
	OutputDir string `yaml:"output_dir,omitempty"`

	// ThreadCount is the default per-task segment worker count (spec
	// §4.5, "Concurrency knob") used when a caller doesn't specify one.
	ThreadCount int `yaml:"thread_count,omitempty"`

	// HTTPTimeoutSeconds is saved and loaded with the file but not read
	// by the engine: its HTTP client uses a fixed 30 s request timeout.
	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds,omitempty"`

	// RetryBudget is saved and loaded with the file but not read by the
	// engine: its worker pool uses a fixed budget of 6 attempts per
	// segment.
	RetryBudget int `yaml:"retry_budget,omitempty"`

	// Server holds settings for `m3u8dl-server`.
	Server ServerConfig `yaml:"server,omitempty"`
}

// ServerConfig holds HTTP command-surface server settings.
type ServerConfig struct {
	// Port is the HTTP listen port (default: 8080).
	Port int `yaml:"port,omitempty"`

	// APIKey, if set, requires every command-surface request to carry
	// a matching X-API-Key header.
	APIKey string `yaml:"api_key,omitempty"`
}

// DefaultDownloadDir returns the default output directory.
// Windows/macOS: ~/Downloads/m3u8dl
// Linux and others: ~/downloads
func DefaultDownloadDir() string {
	if IsRunningInDocker() {
		return "/home/m3u8dl/downloads"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./downloads"
	}

	switch runtime.GOOS {
	case "darwin", "windows":
		return filepath.Join(home, "Downloads", "m3u8dl")
	default:
		return filepath.Join(home, "downloads")
	}
}

// IsRunningInDocker detects if we're running inside a Docker container.
func IsRunningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		if strings.Contains(content, "docker") || strings.Contains(content, "containerd") {
			return true
		}
	}
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return true
	}
	return false
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:          DefaultDownloadDir(),
		ThreadCount:        8,
		HTTPTimeoutSeconds: 30,
		RetryBudget:        6,
		Server: ServerConfig{
			Port: 8080,
		},
	}
}

// Exists checks if config file exists.
func Exists() bool {
	path, err := ConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Load reads the config from ~/.config/m3u8dl/config.yml.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.OutputDir = expandPath(cfg.OutputDir)

	return cfg, nil
}

// expandPath expands a leading tilde (~) to the user's home directory.
// It handles both forward and backward slashes so config files authored
// on Windows still expand correctly on macOS/Linux.
func expandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~") {
		// Only expand if it's explicitly "~", "~/", or "~\"
		if len(path) == 1 || path[1] == '/' || path[1] == '\\' {
			home, err := os.UserHomeDir()
			if err == nil {
				subPath := path[1:]
				if len(subPath) > 0 && (subPath[0] == '/' || subPath[0] == '\\') {
					subPath = subPath[1:]
				}
				return filepath.Join(home, subPath)
			}
		}
	}

	return path
}

// Save writes the config to ~/.config/m3u8dl/config.yml.
func Save(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	configPath, err := ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	header := "# m3u8dl configuration file\n# Delete this file and run 'm3u8dl init' to regenerate it with defaults\n\n"
	content := header + string(data)

	return os.WriteFile(configPath, []byte(content), 0644)
}

// SavePath returns the path where config will be saved.
func SavePath() string {
	if path, err := ConfigPath(); err == nil {
		return path
	}
	return "config.yml"
}

// Init creates a new config.yml with default values.
func Init() error {
	if Exists() {
		path, _ := ConfigPath()
		return fmt.Errorf("%s already exists", path)
	}
	return Save(DefaultConfig())
}

// LoadOrDefault loads config if it exists, otherwise returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		cfg = DefaultConfig()
	}
	return cfg
}
