package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/timvw/replmux/internal/config"
	"github.com/timvw/replmux/internal/ipc"
	"github.com/timvw/replmux/internal/model"
	"github.com/timvw/replmux/internal/session"
)

// Editor context flags shared by the dispatch commands.
var (
	flagFile          string
	flagDocument      string
	flagSelection     string
	flagSelectionFile string
	flagLine          string
	flagNoDaemon      bool
)

var editorFlags = []string{"document", "selection", "selection-file", "line"}

func newDispatchCmd(action model.Action, use, short, long string) *cobra.Command {
	c := &cobra.Command{
		Use:   use + " [file]",
		Short: short,
		Long:  long,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(cmd, action, args, os.Stdin)
			if err != nil {
				return err
			}
			return submit(cmd.Context(), req)
		},
	}
	c.Flags().StringVar(&flagFile, "file", "", "file to act on (default: --document)")
	c.Flags().StringVar(&flagDocument, "document", "", "path of the document open in the editor; it is saved before run and load")
	c.Flags().StringVar(&flagSelection, "selection", "", "selected text")
	c.Flags().StringVar(&flagSelectionFile, "selection-file", "", "read the selection from a file (- for stdin)")
	c.Flags().StringVar(&flagLine, "line", "", "text of the line under the cursor, used when the selection is empty")
	c.Flags().BoolVar(&flagNoDaemon, "no-daemon", false, "handle the request in-process even if a daemon is running")
	return c
}

func init() {
	rootCmd.AddCommand(
		newDispatchCmd(model.ActionRunInTerminal, "run", "Run a file in its output terminal",
			`Save the open document and run the file with the interpreter in its output
terminal. The terminal is created on first use: one per file, or a single
shared "Output" terminal with output_terminals: one.`),
		newDispatchCmd(model.ActionLoadInREPL, "load", "Load a file into its REPL",
			`Save the open document and load the file into its REPL. A REPL started by
this command receives the load command after repl_start_delay.`),
		newDispatchCmd(model.ActionExecuteSelection, "exec", "Evaluate the selection in the file's REPL",
			`Type the selection (or the current line when nothing is selected) into the
file's REPL. Requires editor context: --document, --selection, --selection-file
or --line.`),
		newDispatchCmd(model.ActionOpenREPL, "open", "Open the file's REPL",
			`Bring the file's REPL to the foreground, starting it if needed.`),
		newDispatchCmd(model.ActionShowOutput, "show", "Show the file's output terminal",
			`Bring the file's output terminal to the foreground. Nothing is created when
the file has no output terminal yet.`),
	)
}

// buildRequest turns flags into a request. Editor context is present when any
// editor flag was given, even with an empty value.
func buildRequest(cmd *cobra.Command, action model.Action, args []string, stdin io.Reader) (model.Request, error) {
	req := model.Request{
		ID:     uuid.NewString(),
		Action: action,
		TS:     time.Now().UTC(),
	}

	file := flagFile
	if len(args) == 1 {
		if file != "" && file != args[0] {
			return req, fmt.Errorf("file given twice: %q and --file %q", args[0], file)
		}
		file = args[0]
	}
	if file != "" {
		abs, err := filepath.Abs(file)
		if err != nil {
			return req, fmt.Errorf("resolve %s: %w", file, err)
		}
		req.File = abs
	}

	hasEditor := false
	for _, name := range editorFlags {
		if cmd.Flags().Changed(name) {
			hasEditor = true
		}
	}
	if !hasEditor {
		return req, nil
	}

	ed := &model.Editor{Selection: flagSelection, Line: flagLine}
	if flagDocument != "" {
		abs, err := filepath.Abs(flagDocument)
		if err != nil {
			return req, fmt.Errorf("resolve %s: %w", flagDocument, err)
		}
		ed.Document = abs
	}
	if flagSelectionFile != "" {
		sel, err := readSelection(flagSelectionFile, stdin)
		if err != nil {
			return req, err
		}
		ed.Selection = sel
	}
	req.Editor = ed
	return req, nil
}

func readSelection(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read selection: %w", err)
	}
	return string(data), nil
}

// lockTimeout bounds how long an in-process dispatch waits for another
// replmux process to finish.
const lockTimeout = 30 * time.Second

// Replaced in tests.
var (
	sendRequest   = ipc.Send
	dispatchLocal = dispatchInProcess
)

// submit hands req to the daemon, or dispatches it in-process when no daemon
// is listening or the request does not fit in a datagram.
func submit(ctx context.Context, req model.Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if !flagNoDaemon {
		err := sendRequest(socketPath(cfg), req)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ipc.ErrNoDaemon) && !errors.Is(err, ipc.ErrTooLarge) {
			return err
		}
	}
	return dispatchLocal(ctx, cfg, req)
}

// dispatchInProcess handles one request against registries rebuilt from the
// tmux window tags, then waits for delayed sends before returning. The
// dispatch lock is held throughout so concurrent invocations see each
// other's windows.
func dispatchInProcess(ctx context.Context, cfg *config.Config, req model.Request) error {
	lock := session.NewLock(lockPath(cfg))
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	err := lock.Acquire(lockCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("wait for other replmux invocations: %w", err)
	}
	defer lock.Release()

	rt, err := newRuntime(ctx, cfg, false, os.Stdout)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	err = rt.dispatcher.Dispatch(ctx, req)
	rt.scheduler.Wait()
	return err
}
