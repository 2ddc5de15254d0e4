// Package config loads replmux configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (REPLMUX_*)
//  2. Config file
//  3. Built-in defaults
//
// Config file search order:
//  1. .replmux.yaml in current directory
//  2. ~/.config/replmux/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timvw/replmux/internal/interp"
)

// Output terminal modes.
const (
	OutputTerminalsOne     = "one"
	OutputTerminalsPerFile = "per-file"
)

// Config holds all replmux configuration.
type Config struct {
	// Terminals
	OutputTerminals string `yaml:"output_terminals"` // "one" or "per-file"
	Backend         string `yaml:"backend"`          // "tmux", "pty", or "" for auto-detect
	TmuxSession     string `yaml:"tmux_session"`
	ReplStartDelay  string `yaml:"repl_start_delay"` // Go duration string, e.g. "1s"

	// Editor integration
	SaveCommand string `yaml:"save_command"` // shell command run with $REPLMUX_FILE set
	Interpreter string `yaml:"interpreter"`  // overrides the matched profile's interpreter

	// Profiles map files to interpreters and command templates.
	Profiles []interp.Profile `yaml:"profiles"`

	// Daemon
	Socket   string `yaml:"socket"`
	StateDir string `yaml:"state_dir"` // pty output logs

	// Logging
	LogLevel string `yaml:"log_level"`
	LogDev   bool   `yaml:"log_dev"`

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"

	// Parsed durations (not from YAML, set after loading)
	ReplStartDelayDuration time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		OutputTerminals: OutputTerminalsPerFile,
		TmuxSession:     "replmux",
		ReplStartDelay:  "1s",
		Profiles:        interp.DefaultProfiles(),
		LogLevel:        "info",
	}
}

// SharedOutputTerminal reports whether all files share one output terminal.
func (c *Config) SharedOutputTerminal() bool {
	return c.OutputTerminals == OutputTerminalsOne
}

// Load reads configuration from file and environment variables.
// Environment variables always override file values.
func Load() (*Config, error) {
	cfg := Defaults()

	// Try to load config file
	if path, data, err := findConfigFile(); err == nil {
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
		mergeFile(cfg, &fileCfg)
	}

	// Environment variables override everything
	mergeEnv(cfg)

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize validates enumerations and parses durations.
func (c *Config) finalize() error {
	switch c.OutputTerminals {
	case OutputTerminalsOne, OutputTerminalsPerFile:
	default:
		return fmt.Errorf("invalid output_terminals %q (supported: one, per-file)", c.OutputTerminals)
	}
	switch c.Backend {
	case "", "tmux", "pty":
	default:
		return fmt.Errorf("invalid backend %q (supported: tmux, pty)", c.Backend)
	}
	if len(c.Profiles) == 0 {
		return fmt.Errorf("at least one interpreter profile is required")
	}
	for i, p := range c.Profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profile %d: %w", i, err)
		}
	}

	var err error
	c.ReplStartDelayDuration, err = parseDurationOrDisable(c.ReplStartDelay, time.Second)
	if err != nil {
		return fmt.Errorf("invalid repl start delay %q: %w", c.ReplStartDelay, err)
	}
	return nil
}

// findConfigFile searches for a config file and returns its path and contents.
func findConfigFile() (string, []byte, error) {
	// 1. Current directory
	if data, err := os.ReadFile(".replmux.yaml"); err == nil {
		return ".replmux.yaml", data, nil
	}

	// 2. XDG config dir / ~/.config
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "replmux", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, fmt.Errorf("no config file found")
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	if file.OutputTerminals != "" {
		cfg.OutputTerminals = file.OutputTerminals
	}
	if file.Backend != "" {
		cfg.Backend = file.Backend
	}
	if file.TmuxSession != "" {
		cfg.TmuxSession = file.TmuxSession
	}
	if file.ReplStartDelay != "" {
		cfg.ReplStartDelay = file.ReplStartDelay
	}
	if file.SaveCommand != "" {
		cfg.SaveCommand = file.SaveCommand
	}
	if file.Interpreter != "" {
		cfg.Interpreter = file.Interpreter
	}
	if len(file.Profiles) > 0 {
		cfg.Profiles = file.Profiles
	}
	if file.Socket != "" {
		cfg.Socket = file.Socket
	}
	if file.StateDir != "" {
		cfg.StateDir = file.StateDir
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if file.LogDev {
		cfg.LogDev = file.LogDev
	}
	if file.OTELEndpoint != "" {
		cfg.OTELEndpoint = file.OTELEndpoint
	}
	if file.OTELHeaders != "" {
		cfg.OTELHeaders = file.OTELHeaders
	}
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) {
	if v := os.Getenv("REPLMUX_OUTPUT_TERMINALS"); v != "" {
		cfg.OutputTerminals = v
	}
	if v := os.Getenv("REPLMUX_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("REPLMUX_TMUX_SESSION"); v != "" {
		cfg.TmuxSession = v
	}
	if v := os.Getenv("REPLMUX_REPL_START_DELAY"); v != "" {
		cfg.ReplStartDelay = v
	}
	if v := os.Getenv("REPLMUX_SAVE_COMMAND"); v != "" {
		cfg.SaveCommand = v
	}
	if v := os.Getenv("REPLMUX_INTERPRETER"); v != "" {
		cfg.Interpreter = v
	}
	if v := os.Getenv("REPLMUX_SOCKET"); v != "" {
		cfg.Socket = v
	}
	if v := os.Getenv("REPLMUX_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("REPLMUX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REPLMUX_LOG_DEV"); v == "true" || v == "1" {
		cfg.LogDev = true
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTELEndpoint = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); v != "" {
		cfg.OTELHeaders = v
	}
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// DefaultStateDir returns the directory for daemon state (pty logs).
func DefaultStateDir() string {
	if d := os.Getenv("XDG_STATE_HOME"); d != "" {
		return filepath.Join(d, "replmux")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "replmux")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("replmux-%d", os.Getuid()))
}
