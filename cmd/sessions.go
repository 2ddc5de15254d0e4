package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/replmux/internal/picker"
)

var (
	flagTheme       string
	flagAllSessions bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Browse and jump to terminals and REPLs",
	Long: `Open an interactive list of the terminals and REPLs replmux has opened,
grouped by kind, with a preview of the selected window. Enter jumps to the
window, / filters by name or file, r refreshes and q quits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		m, err := getMultiplexer()
		if err != nil {
			return fmt.Errorf("no supported terminal multiplexer found: %w", err)
		}

		p := &picker.Picker{Mux: m, Theme: picker.ThemeByName(flagTheme)}
		if !flagAllSessions {
			p.Session = cfg.TmuxSession
		}
		w, err := p.Run(cmd.Context())
		if err != nil {
			return err
		}
		if w != nil && os.Getenv("TMUX") == "" {
			fmt.Fprintf(os.Stderr, "selected %s; attach with: tmux attach -t %s\n", w.Name, w.Target)
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().StringVar(&flagTheme, "theme", "dark", "Color theme: dark, light")
	sessionsCmd.Flags().BoolVar(&flagAllSessions, "all", false, "include tagged windows in every tmux session")
	rootCmd.AddCommand(sessionsCmd)
}
