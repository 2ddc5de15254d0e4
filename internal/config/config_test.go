package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// envKeys are cleared before every Load test so the host environment does
// not leak into results.
var envKeys = []string{
	"REPLMUX_OUTPUT_TERMINALS", "REPLMUX_BACKEND", "REPLMUX_TMUX_SESSION",
	"REPLMUX_REPL_START_DELAY", "REPLMUX_SAVE_COMMAND", "REPLMUX_INTERPRETER",
	"REPLMUX_SOCKET", "REPLMUX_STATE_DIR", "REPLMUX_LOG_LEVEL", "REPLMUX_LOG_DEV",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_HEADERS",
}

// inConfigDir writes content to .replmux.yaml in a fresh directory, makes it
// the working directory and points HOME at it so no user config is read.
func inConfigDir(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	if content != "" {
		if err := os.WriteFile(filepath.Join(dir, ".replmux.yaml"), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	origDir, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOME", dir)
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.OutputTerminals != OutputTerminalsPerFile {
		t.Errorf("OutputTerminals: got %q, want %q", cfg.OutputTerminals, OutputTerminalsPerFile)
	}
	if cfg.SharedOutputTerminal() {
		t.Error("default should be one terminal per file")
	}
	if cfg.TmuxSession != "replmux" {
		t.Errorf("TmuxSession: got %q, want %q", cfg.TmuxSession, "replmux")
	}
	if cfg.ReplStartDelay != "1s" {
		t.Errorf("ReplStartDelay: got %q, want %q", cfg.ReplStartDelay, "1s")
	}
	if len(cfg.Profiles) == 0 || cfg.Profiles[0].Name != "racket" {
		t.Errorf("expected racket as the first default profile, got %+v", cfg.Profiles)
	}
}

func TestParseDurationOrDisable(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMs  int64
		wantErr bool
	}{
		{"empty returns fallback", "", 5000, false},
		{"zero disables", "0", 0, false},
		{"off disables", "off", 0, false},
		{"disable disables", "disable", 0, false},
		{"valid duration", "2s", 2000, false},
		{"valid short duration", "750ms", 750, false},
		{"invalid", "not-a-duration", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDurationOrDisable(tt.input, 5*time.Second)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDurationOrDisable(%q): error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got.Milliseconds() != tt.wantMs {
				t.Errorf("parseDurationOrDisable(%q) = %v, want %dms", tt.input, got, tt.wantMs)
			}
		})
	}
}

func TestLoadWithoutFile(t *testing.T) {
	inConfigDir(t, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ConfigFile != "" {
		t.Errorf("ConfigFile: got %q, want empty", cfg.ConfigFile)
	}
	if cfg.ReplStartDelayDuration != time.Second {
		t.Errorf("ReplStartDelayDuration: got %v, want 1s", cfg.ReplStartDelayDuration)
	}
}

func TestLoadFromFile(t *testing.T) {
	inConfigDir(t, `output_terminals: one
backend: pty
tmux_session: editor
repl_start_delay: 1500ms
save_command: "nvim --server $NVIM --remote-send ':w<CR>'"
log_level: debug
profiles:
  - name: python
    match: ["**/*.py"]
    interpreter: python3
    run: "{{shquote .Interpreter}} {{shquote .File}}"
    repl: "{{shquote .Interpreter}} -i"
    load: "exec(open({{quote .File}}).read())"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ConfigFile != ".replmux.yaml" {
		t.Errorf("ConfigFile: got %q, want %q", cfg.ConfigFile, ".replmux.yaml")
	}
	if !cfg.SharedOutputTerminal() {
		t.Error("expected shared output terminal mode")
	}
	if cfg.Backend != "pty" {
		t.Errorf("Backend: got %q, want %q", cfg.Backend, "pty")
	}
	if cfg.TmuxSession != "editor" {
		t.Errorf("TmuxSession: got %q, want %q", cfg.TmuxSession, "editor")
	}
	if cfg.ReplStartDelayDuration != 1500*time.Millisecond {
		t.Errorf("ReplStartDelayDuration: got %v, want 1.5s", cfg.ReplStartDelayDuration)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.LogLevel, "debug")
	}
	if len(cfg.Profiles) != 1 || cfg.Profiles[0].Name != "python" {
		t.Fatalf("Profiles: got %+v, want the python profile only", cfg.Profiles)
	}
	if cfg.Profiles[0].Interpreter != "python3" {
		t.Errorf("Profiles[0].Interpreter: got %q", cfg.Profiles[0].Interpreter)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	inConfigDir(t, `output_terminals: one
tmux_session: editor
`)
	t.Setenv("REPLMUX_OUTPUT_TERMINALS", "per-file")
	t.Setenv("REPLMUX_TMUX_SESSION", "from-env")
	t.Setenv("REPLMUX_INTERPRETER", "/opt/racket/bin/racket")
	t.Setenv("REPLMUX_REPL_START_DELAY", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.SharedOutputTerminal() {
		t.Error("env should override output_terminals from file")
	}
	if cfg.TmuxSession != "from-env" {
		t.Errorf("TmuxSession: got %q, want %q (env should override file)", cfg.TmuxSession, "from-env")
	}
	if cfg.Interpreter != "/opt/racket/bin/racket" {
		t.Errorf("Interpreter: got %q", cfg.Interpreter)
	}
	if cfg.ReplStartDelayDuration != 0 {
		t.Errorf("ReplStartDelayDuration: got %v, want 0 (disabled)", cfg.ReplStartDelayDuration)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad output terminals", "output_terminals: two\n"},
		{"bad backend", "backend: screen\n"},
		{"bad delay", "repl_start_delay: soon\n"},
		{"profile without interpreter", "profiles:\n  - name: empty\n"},
		{"malformed yaml", "output_terminals: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inConfigDir(t, tt.content)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %q: expected error", tt.content)
			}
		})
	}
}

func TestDefaultStateDir(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/xdg-state")
	if got := DefaultStateDir(); got != "/tmp/xdg-state/replmux" {
		t.Errorf("DefaultStateDir() = %q", got)
	}
}
