// Package config provides JSON and YAML configuration loading, validation,
// and saving for the watchrun CLI.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultDebounceMs is the duplicate-suppression window applied when the
// configuration does not set one.
const DefaultDebounceMs = 100

// Config is the top-level configuration for a watchrun invocation. JSON is
// the canonical on-disk format; YAML is accepted on load for convenience.
type Config struct {
	// IsVerbose enables per-event diagnostic logging.
	IsVerbose bool `json:"isVerbose" yaml:"isVerbose"`

	// IsClearConsole clears the terminal before each command run.
	IsClearConsole bool `json:"isClearConsole" yaml:"isClearConsole"`

	// WatchFiles is the list of files and directories to watch. Required
	// unless paths are supplied on the command line.
	WatchFiles []string `json:"watchFiles" yaml:"watchFiles"`

	// Command is the command to run on each change, as a list of tokens.
	// Every literal "{}" token is replaced with the changed path.
	Command []string `json:"command" yaml:"command"`

	// Recursive controls whether directory targets are watched with their
	// whole subtree. Defaults to true when omitted.
	Recursive *bool `json:"recursive,omitempty" yaml:"recursive,omitempty"`

	// Ignore is a list of glob patterns (doublestar syntax, e.g.
	// "**/node_modules/**" or "*.tmp") whose matches generate no events.
	Ignore []string `json:"ignore,omitempty" yaml:"ignore,omitempty"`

	// DebounceMs is the duplicate-suppression window in milliseconds.
	// Defaults to 100 when omitted or zero.
	DebounceMs int `json:"debounceMs,omitempty" yaml:"debounceMs,omitempty"`

	// JournalFile is the path of the SQLite run-history journal. Empty
	// disables the journal.
	JournalFile string `json:"journalFile,omitempty" yaml:"journalFile,omitempty"`

	// StatusAddr is the listen address for the local status HTTP server
	// (e.g. "127.0.0.1:9400"). Empty disables the server.
	StatusAddr string `json:"statusAddr,omitempty" yaml:"statusAddr,omitempty"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads the config file at path, picking the parser by extension
// (".yaml"/".yml" for YAML, anything else JSON), applies defaults, and
// validates. Unknown keys are ignored.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
		}
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// Default returns a Config with every optional field at its default value and
// no watch paths or command.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Save writes cfg to path as indented JSON, the canonical on-disk format.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: cannot marshal: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("config: cannot write %q: %w", path, err)
	}
	return nil
}

// Debounce returns the configured duplicate-suppression window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// IsRecursive reports the effective recursion setting.
func (c *Config) IsRecursive() bool {
	return c.Recursive == nil || *c.Recursive
}

// applyDefaults fills in zero-value optional fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.DebounceMs == 0 {
		cfg.DebounceMs = DefaultDebounceMs
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// validate checks that populated fields contain only valid values. An empty
// watch list or command is legal here: the CLI may supply both.
func validate(cfg *Config) error {
	var errs []error

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("logLevel %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.DebounceMs < 0 {
		errs = append(errs, fmt.Errorf("debounceMs %d must not be negative", cfg.DebounceMs))
	}
	for i, p := range cfg.WatchFiles {
		if p == "" {
			errs = append(errs, fmt.Errorf("watchFiles[%d]: path must not be empty", i))
		}
	}
	for i, t := range cfg.Command {
		if t == "" && i == 0 {
			errs = append(errs, errors.New("command[0]: program must not be empty"))
		}
	}

	return errors.Join(errs...)
}
