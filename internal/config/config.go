package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	// StateDir holds the IPC socket, lock file, and history database.
	StateDir string `toml:"state_dir"`
	// ScratchDir is the default parent for generated mount points,
	// namespaced per bookmark and slot.
	ScratchDir string `toml:"scratch_dir"`
	LogDir     string `toml:"log_dir"`
	// BookmarksPath is the INI file holding bookmark and slot records.
	BookmarksPath string `toml:"bookmarks_path"`
}

// Daemon contains configuration for the supervised rc daemon process.
type Daemon struct {
	// Binary is the daemon executable; resolved via PATH when not absolute.
	Binary string `toml:"binary"`
	// RCEnabled disables the rc channel entirely when false. Mount and sync
	// operations are then unavailable and only the CLI fallback serves the
	// read-only endpoints.
	RCEnabled bool `toml:"rc_enabled"`
	// RCAddr is the host:port the daemon binds its remote-control API to.
	RCAddr string `toml:"rc_addr"`
	// RCUser and RCPass are the basic-auth credentials passed to the daemon.
	// When either is empty a random per-session pair is generated.
	RCUser      string `toml:"rc_user"`
	RCPass      string `toml:"rc_pass"`
	ConfigPath  string `toml:"config_path"`
	CacheDir    string `toml:"cache_dir"`
	AllowOrigin string `toml:"allow_origin"`

	// StartupGraceSeconds is the delay before the first readiness probe.
	StartupGraceSeconds int `toml:"startup_grace_seconds"`
	// StartupTimeoutSeconds bounds the whole spawn-and-poll phase.
	StartupTimeoutSeconds int `toml:"startup_timeout_seconds"`
	PollIntervalSeconds   int `toml:"poll_interval_seconds"`
	StopGraceSeconds      int `toml:"stop_grace_seconds"`
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
}

// Mount contains configuration for mount verification behavior.
type Mount struct {
	VerifyAttempts    int `toml:"verify_attempts"`
	VerifyDelayMillis int `toml:"verify_delay_millis"`
}

// Sync contains configuration for the sync job supervisor.
type Sync struct {
	HealthCheckIntervalSeconds int `toml:"health_check_interval_seconds"`
	JobPollIntervalSeconds     int `toml:"job_poll_interval_seconds"`
	BootstrapTimeoutMinutes    int `toml:"bootstrap_timeout_minutes"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for syncdock.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Daemon        Daemon        `toml:"daemon"`
	Mount         Mount         `toml:"mount"`
	Sync          Sync          `toml:"sync"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/syncdock/config.toml")
}

// SampleConfig returns the embedded annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// SocketPath returns the IPC socket location inside the state directory.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "syncdock.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "syncdockd.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "syncdockd.pid")
}

// HistoryPath returns the sync history database location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LogPath returns the daemon log file location, or empty when file logging
// is disabled.
func (c *Config) LogPath() string {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, "syncdockd.log")
}

// EnsureDirectories creates the directories syncdock writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.ScratchDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second return value
// is the resolved path, the third reports whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	for _, field := range []*string{
		&c.Paths.StateDir,
		&c.Paths.ScratchDir,
		&c.Paths.LogDir,
		&c.Paths.BookmarksPath,
		&c.Daemon.ConfigPath,
		&c.Daemon.CacheDir,
	} {
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	c.Daemon.Binary = strings.TrimSpace(c.Daemon.Binary)
	c.Daemon.RCAddr = strings.TrimSpace(c.Daemon.RCAddr)
	return nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.ScratchDir == "" {
		return errors.New("paths.scratch_dir must be set")
	}
	if c.Paths.BookmarksPath == "" {
		return errors.New("paths.bookmarks_path must be set")
	}
	if c.Daemon.Binary == "" {
		return errors.New("daemon.binary must be set")
	}
	if c.Daemon.RCEnabled {
		if _, _, err := net.SplitHostPort(c.Daemon.RCAddr); err != nil {
			return fmt.Errorf("daemon.rc_addr must be host:port: %w", err)
		}
	}
	if c.Daemon.StartupTimeoutSeconds <= 0 {
		return errors.New("daemon.startup_timeout_seconds must be positive")
	}
	if c.Daemon.PollIntervalSeconds <= 0 {
		return errors.New("daemon.poll_interval_seconds must be positive")
	}
	if c.Sync.HealthCheckIntervalSeconds <= 0 {
		return errors.New("sync.health_check_interval_seconds must be positive")
	}
	if c.Sync.JobPollIntervalSeconds <= 0 {
		return errors.New("sync.job_poll_interval_seconds must be positive")
	}
	if c.Mount.VerifyAttempts <= 0 {
		return errors.New("mount.verify_attempts must be positive")
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Clean(trimmed), nil
}
