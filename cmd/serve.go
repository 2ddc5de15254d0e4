package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/timvw/replmux/internal/ipc"
	"github.com/timvw/replmux/internal/model"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatch daemon",
	Long: `Run the replmux daemon. It owns the terminal and REPL registries and handles
requests from run, load, exec, open and show one at a time, in arrival order.

With the tmux backend the daemon is optional: without it each command
rebuilds the registries from tmux window tags. The pty backend keeps its
processes inside the daemon and requires it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.ConfigFile != "" {
		fmt.Fprintf(os.Stderr, "config: loaded %s\n", cfg.ConfigFile)
	}

	rt, err := newRuntime(ctx, cfg, true, os.Stdout)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	handle := func(ctx context.Context, req model.Request) {
		if err := rt.dispatcher.Dispatch(ctx, req); err != nil {
			rt.notifier.Error(ctx, err.Error())
		}
	}
	server := ipc.NewServer(socketPath(cfg), handle, rt.logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("dispatch socket: %w", err)
	}
	fmt.Fprintf(os.Stderr, "replmux: listening on %s (backend: %s)\n", server.SocketPath(), rt.backend.Name())
	rt.logger.Info("daemon started",
		zap.String("socket", server.SocketPath()),
		zap.String("backend", rt.backend.Name()),
		zap.Int("terminals", rt.dispatcher.Terminals.Len()),
		zap.Int("repls", rt.dispatcher.REPLs.Len()))

	<-ctx.Done()
	<-server.Done()
	rt.logger.Info("daemon stopped")
	return nil
}
