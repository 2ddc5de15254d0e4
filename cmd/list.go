package cmd

import (
	"fmt"
	"os"
	"regexp"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var flagAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the terminals and REPLs replmux has opened",
	Long: `List the tmux windows replmux has opened, one per line:

  WINDOW  KIND  NAME  FILE

FILE is the registry key: the source file, or "one" for the shared output
terminal. Use --all to include windows in other sessions.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		m, err := getMultiplexer()
		if err != nil {
			return err
		}

		filter := ""
		if !flagAll {
			filter = "^" + regexp.QuoteMeta(cfg.TmuxSession) + "$"
		}
		windows, err := m.ListWindows(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("failed to list windows: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, win := range windows {
			if !win.Tagged() {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", win.ID, win.Kind, win.Name, win.Key)
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().BoolVar(&flagAll, "all", false, "list tagged windows in every tmux session")
	rootCmd.AddCommand(listCmd)
}
