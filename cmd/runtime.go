package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/timvw/replmux/internal/config"
	"github.com/timvw/replmux/internal/dispatch"
	"github.com/timvw/replmux/internal/interp"
	"github.com/timvw/replmux/internal/ipc"
	"github.com/timvw/replmux/internal/logging"
	"github.com/timvw/replmux/internal/mux"
	"github.com/timvw/replmux/internal/notify"
	telem "github.com/timvw/replmux/internal/otel"
	"github.com/timvw/replmux/internal/session"
)

// runtime is everything a dispatcher needs, built from config.
type runtime struct {
	cfg        *config.Config
	logger     *zap.Logger
	telemetry  *telem.Telemetry
	mux        mux.Multiplexer // nil for the pty backend
	backend    session.Backend
	notifier   notify.Notifier
	scheduler  *dispatch.SerialScheduler
	dispatcher *dispatch.Dispatcher

	pty *session.PTYBackend
}

// newRuntime wires the backend, registries and dispatcher. daemon selects
// the long-lived setup: PTY sessions are only allowed there, since they end
// with the process that owns them.
func newRuntime(ctx context.Context, cfg *config.Config, daemon bool, stdout io.Writer) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Development = cfg.LogDev
	if !daemon && !flagVerbose {
		// One-shot invocations run inside editors; keep stderr for notices.
		logCfg.Level = "warn"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	rt.logger = logger

	telem.Version = Version
	tel, err := telem.Init(ctx, telem.OTELConfig{
		Endpoint: cfg.OTELEndpoint,
		Headers:  cfg.OTELHeaders,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: otel init failed: %v\n", err)
		tel = telem.Noop()
	}
	rt.telemetry = tel

	console := notify.NewConsole(os.Stderr)
	switch backendName(cfg) {
	case "pty":
		if !daemon {
			rt.close(ctx)
			return nil, fmt.Errorf("the pty backend needs a running daemon: start \"replmux serve\" first")
		}
		rt.pty = session.NewPTYBackend(filepath.Join(stateDir(cfg), "logs"), stdout)
		rt.backend = rt.pty
		rt.notifier = console
	default:
		m, err := getMultiplexer()
		if err != nil {
			rt.close(ctx)
			return nil, fmt.Errorf("no supported terminal multiplexer found: %w", err)
		}
		rt.mux = m
		rt.backend = session.NewTmuxBackend(m, cfg.TmuxSession)
		rt.notifier = notify.Multi{console, &notify.Tmux{Mux: m, Logger: logger}}
	}

	terminals, repls := session.NewRegistry(), session.NewRegistry()
	found, err := rt.backend.Discover(ctx)
	if err != nil {
		// No tmux server yet means nothing to restore.
		logger.Debug("discover sessions", zap.Error(err))
	}
	if n := session.RestoreAll(found, terminals, repls); n > 0 {
		logger.Info("restored sessions", zap.Int("count", n), zap.String("backend", rt.backend.Name()))
	}

	var saver dispatch.Saver
	if cfg.SaveCommand != "" {
		saver = &dispatch.CommandSaver{Command: cfg.SaveCommand}
	}

	rt.scheduler = dispatch.NewSerialScheduler()
	rt.dispatcher = &dispatch.Dispatcher{
		Terminals:            terminals,
		REPLs:                repls,
		Backend:              rt.backend,
		Resolver:             &interp.Resolver{Profiles: cfg.Profiles, Override: cfg.Interpreter},
		Notifier:             rt.notifier,
		Scheduler:            rt.scheduler,
		Saver:                saver,
		SharedOutputTerminal: cfg.SharedOutputTerminal(),
		StartDelay:           cfg.ReplStartDelayDuration,
		Logger:               logger,
		Telemetry:            tel,
	}
	return rt, nil
}

// close drains deferred sends, then releases sessions and exporters.
func (rt *runtime) close(ctx context.Context) {
	if rt.scheduler != nil {
		rt.scheduler.Close()
	}
	if rt.pty != nil {
		rt.pty.Close()
	}
	if rt.telemetry != nil {
		if err := rt.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil && rt.logger != nil {
			rt.logger.Debug("otel shutdown", zap.Error(err))
		}
	}
	if rt.logger != nil {
		_ = rt.logger.Sync()
	}
}

func backendName(cfg *config.Config) string {
	if cfg.Backend != "" {
		return cfg.Backend
	}
	if flagMux != "" || mux.Available() {
		return "tmux"
	}
	return "pty"
}

func stateDir(cfg *config.Config) string {
	if cfg.StateDir != "" {
		return cfg.StateDir
	}
	return config.DefaultStateDir()
}

func lockPath(cfg *config.Config) string {
	return filepath.Join(stateDir(cfg), "dispatch.lock")
}

func socketPath(cfg *config.Config) string {
	if cfg.Socket != "" {
		return cfg.Socket
	}
	return ipc.DefaultSocketPath()
}
