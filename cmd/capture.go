package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/timvw/replmux/internal/model"
)

var (
	flagCaptureFile string
	flagCaptureREPL bool
)

var captureCmd = &cobra.Command{
	Use:   "capture [window]",
	Short: "Print the visible content of a terminal or REPL",
	Long: `Print the visible content of a replmux window to stdout.

Pick the window by tmux id or target, or with --file to use the output
terminal (or, with --repl, the REPL) of a source file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (len(args) == 1) == (flagCaptureFile != "") {
			return fmt.Errorf("pass either a window or --file")
		}
		m, err := getMultiplexer()
		if err != nil {
			return err
		}

		target := ""
		if len(args) == 1 {
			target = args[0]
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			file, err := filepath.Abs(flagCaptureFile)
			if err != nil {
				return err
			}
			kind := model.KindOutput
			if flagCaptureREPL {
				kind = model.KindREPL
			}
			windows, err := m.ListWindows(cmd.Context(), "^"+regexp.QuoteMeta(cfg.TmuxSession)+"$")
			if err != nil {
				return fmt.Errorf("failed to list windows: %w", err)
			}
			for _, w := range windows {
				if w.Key == file && w.Kind == kind {
					target = w.ID
					break
				}
			}
			if target == "" {
				return fmt.Errorf("no %s window for %s", kind, file)
			}
		}

		content, err := m.CapturePane(cmd.Context(), target)
		if err != nil {
			return fmt.Errorf("failed to capture window %q: %w", target, err)
		}

		fmt.Fprint(os.Stdout, content)
		return nil
	},
}

func init() {
	captureCmd.Flags().StringVar(&flagCaptureFile, "file", "", "source file whose window to capture")
	captureCmd.Flags().BoolVar(&flagCaptureREPL, "repl", false, "with --file: capture the REPL instead of the output terminal")
	rootCmd.AddCommand(captureCmd)
}
