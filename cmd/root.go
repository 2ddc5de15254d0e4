package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/replmux/internal/config"
	"github.com/timvw/replmux/internal/mux"
)

var (
	// Global flags.
	flagMux     string
	flagSocket  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "replmux",
	Short: "Run files and selections in interpreter terminals and REPLs",
	Long: `replmux gives any editor one terminal and one REPL per source file.

Editors call replmux with the active file (and, for exec, the selection):

  replmux run  --document main.rkt     run the file in its output terminal
  replmux load --document main.rkt     load the file into its REPL
  replmux exec --document main.rkt --selection '(+ 1 2)'
  replmux open --document main.rkt     bring the file's REPL to the front
  replmux show --document main.rkt     bring the file's output terminal to the front

Terminals and REPLs are tmux windows in the "replmux" session. Requests go to
a running "replmux serve" daemon when there is one; otherwise they are handled
in-process and the tmux window tags take the place of the daemon's registry.

Configuration is loaded from .replmux.yaml or ~/.config/replmux/config.yaml
and REPLMUX_* environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(fmt.Sprintf("replmux %s\n", versionString()))

	rootCmd.PersistentFlags().StringVar(&flagMux, "mux", envOrDefault("REPLMUX_MUX", ""), "terminal multiplexer: tmux (default: auto-detect)")
	rootCmd.PersistentFlags().StringVar(&flagSocket, "socket", "", "daemon socket path (default: $XDG_RUNTIME_DIR/replmux/dispatch.sock)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "log every dispatch to stderr")
}

// getMultiplexer returns the configured or auto-detected multiplexer.
func getMultiplexer() (mux.Multiplexer, error) {
	if flagMux != "" {
		return mux.FromName(flagMux)
	}
	return mux.Detect()
}

// loadConfig loads the config and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if flagSocket != "" {
		cfg.Socket = flagSocket
	}
	if flagVerbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
