// Package dispatch implements the five editor commands: run a file in an
// output terminal, load it into a REPL, execute a selection, open a REPL and
// show the output terminal.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/timvw/replmux/internal/interp"
	"github.com/timvw/replmux/internal/model"
	"github.com/timvw/replmux/internal/notify"
	telem "github.com/timvw/replmux/internal/otel"
	"github.com/timvw/replmux/internal/session"
)

// DefaultStartDelay is how long a freshly started REPL gets before the first
// command is typed into it.
const DefaultStartDelay = time.Second

// Notices shown when a command lacks the context it needs.
const (
	MsgNoFile        = "No file is open: save the file or pass --file"
	MsgNoEditor      = "No active editor"
	MsgNoOutput      = "No output terminal exists for this file"
	MsgNoCode        = "Nothing to evaluate: the selection and the current line are empty"
	msgNoInterpreter = "Could not find the interpreter"
)

// InterpreterResolver finds the interpreter for a file.
type InterpreterResolver interface {
	Resolve(file string) (*interp.Resolved, error)
}

// Dispatcher runs editor commands against two registries: Terminals for
// run-in-terminal and show-output, REPLs for everything else.
type Dispatcher struct {
	Terminals *session.Registry
	REPLs     *session.Registry
	Backend   session.Backend
	Resolver  InterpreterResolver
	Notifier  notify.Notifier
	Scheduler Scheduler

	// Saver persists the open document before a run or load. Nil skips saving.
	Saver Saver
	// SharedOutputTerminal routes every run to the single "Output" terminal.
	SharedOutputTerminal bool
	// StartDelay holds back the first command sent to a new REPL.
	StartDelay time.Duration

	Logger    *zap.Logger
	Telemetry *telem.Telemetry
}

// Dispatch routes req to the command named by its action.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.Request) error {
	switch req.Action {
	case model.ActionRunInTerminal:
		return d.RunInTerminal(ctx, req)
	case model.ActionLoadInREPL:
		return d.LoadInREPL(ctx, req)
	case model.ActionExecuteSelection:
		return d.ExecuteSelection(ctx, req)
	case model.ActionOpenREPL:
		return d.OpenREPL(ctx, req)
	case model.ActionShowOutput:
		return d.ShowOutput(ctx, req)
	default:
		return fmt.Errorf("unknown action %q", req.Action)
	}
}

// RunInTerminal saves the open document and runs the file in its output
// terminal, creating the terminal on first use.
func (d *Dispatcher) RunInTerminal(ctx context.Context, req model.Request) error {
	ctx, end := d.begin(ctx, model.ActionRunInTerminal, req)

	file, ok := d.filePath(ctx, req)
	if !ok {
		return end(telem.OutcomeAborted, nil)
	}
	res, ok := d.interpreter(ctx, file)
	if !ok {
		return end(telem.OutcomeAborted, nil)
	}
	command, err := res.RunCommand(file)
	if err != nil {
		return end(telem.OutcomeError, err)
	}

	spec := session.Spec{
		Key:  file,
		Kind: model.KindOutput,
		Name: "Output (" + filepath.Base(file) + ")",
		Dir:  filepath.Dir(file),
	}
	if d.SharedOutputTerminal {
		spec = session.Spec{Key: session.SharedKey, Kind: model.KindOutput, Name: "Output"}
	}
	term, _, err := d.open(ctx, d.Terminals, spec)
	if err != nil {
		return end(telem.OutcomeError, err)
	}

	if err := d.save(ctx, req); err != nil {
		return end(telem.OutcomeError, err)
	}
	if err := term.Send(ctx, command); err != nil {
		return end(telem.OutcomeError, fmt.Errorf("send run command to %s: %w", term.Name(), err))
	}
	return end(telem.OutcomeOK, nil)
}

// LoadInREPL saves the open document and loads the file into its REPL. A
// REPL started by this call receives the load command after StartDelay.
func (d *Dispatcher) LoadInREPL(ctx context.Context, req model.Request) error {
	ctx, end := d.begin(ctx, model.ActionLoadInREPL, req)

	file, ok := d.filePath(ctx, req)
	if !ok {
		return end(telem.OutcomeAborted, nil)
	}
	res, ok := d.interpreter(ctx, file)
	if !ok {
		return end(telem.OutcomeAborted, nil)
	}
	load, err := res.LoadCommand(file)
	if err != nil {
		return end(telem.OutcomeError, err)
	}

	repl, created, err := d.repl(ctx, file, res)
	if err != nil {
		return end(telem.OutcomeError, err)
	}
	if err := d.save(ctx, req); err != nil {
		return end(telem.OutcomeError, err)
	}
	if created {
		d.sendAfterStart(ctx, repl, load)
		return end(telem.OutcomeOK, nil)
	}
	if err := repl.Send(ctx, load); err != nil {
		return end(telem.OutcomeError, fmt.Errorf("send load command to %s: %w", repl.Name(), err))
	}
	return end(telem.OutcomeOK, nil)
}

// ExecuteSelection types the editor's selection, or the current line when
// nothing is selected, into the file's REPL. The document is not saved.
func (d *Dispatcher) ExecuteSelection(ctx context.Context, req model.Request) error {
	ctx, end := d.begin(ctx, model.ActionExecuteSelection, req)

	if req.Editor == nil {
		d.notifyError(ctx, MsgNoEditor)
		return end(telem.OutcomeAborted, nil)
	}
	code := req.Editor.Code()
	if strings.TrimSpace(code) == "" {
		d.notifyError(ctx, MsgNoCode)
		return end(telem.OutcomeAborted, nil)
	}
	file, ok := d.filePath(ctx, req)
	if !ok {
		return end(telem.OutcomeAborted, nil)
	}
	res, ok := d.interpreter(ctx, file)
	if !ok {
		return end(telem.OutcomeAborted, nil)
	}

	repl, created, err := d.repl(ctx, file, res)
	if err != nil {
		return end(telem.OutcomeError, err)
	}
	if created {
		d.sendAfterStart(ctx, repl, code)
		return end(telem.OutcomeOK, nil)
	}
	if err := repl.Send(ctx, code); err != nil {
		return end(telem.OutcomeError, fmt.Errorf("send selection to %s: %w", repl.Name(), err))
	}
	return end(telem.OutcomeOK, nil)
}

// OpenREPL brings the file's REPL to the foreground, starting it if needed.
func (d *Dispatcher) OpenREPL(ctx context.Context, req model.Request) error {
	ctx, end := d.begin(ctx, model.ActionOpenREPL, req)

	file, ok := d.filePath(ctx, req)
	if !ok {
		return end(telem.OutcomeAborted, nil)
	}
	res, ok := d.interpreter(ctx, file)
	if !ok {
		return end(telem.OutcomeAborted, nil)
	}
	repl, _, err := d.repl(ctx, file, res)
	if err != nil {
		return end(telem.OutcomeError, err)
	}
	if err := repl.Show(ctx); err != nil {
		return end(telem.OutcomeError, fmt.Errorf("show %s: %w", repl.Name(), err))
	}
	return end(telem.OutcomeOK, nil)
}

// ShowOutput brings the file's output terminal to the foreground. It only
// looks the terminal up by file path and never creates one.
func (d *Dispatcher) ShowOutput(ctx context.Context, req model.Request) error {
	ctx, end := d.begin(ctx, model.ActionShowOutput, req)

	file, ok := d.filePath(ctx, req)
	if !ok {
		return end(telem.OutcomeAborted, nil)
	}
	term, found := d.Terminals.Lookup(file)
	if !found {
		d.notifyError(ctx, MsgNoOutput)
		return end(telem.OutcomeAborted, nil)
	}
	if err := term.Show(ctx); err != nil {
		return end(telem.OutcomeError, fmt.Errorf("show %s: %w", term.Name(), err))
	}
	return end(telem.OutcomeOK, nil)
}

// filePath returns the file the request acts on, notifying the user when
// there is none.
func (d *Dispatcher) filePath(ctx context.Context, req model.Request) (string, bool) {
	file := req.ActiveFile()
	if file == "" {
		d.notifyError(ctx, MsgNoFile)
		return "", false
	}
	return file, true
}

func (d *Dispatcher) interpreter(ctx context.Context, file string) (*interp.Resolved, bool) {
	res, err := d.Resolver.Resolve(file)
	if err != nil {
		d.logger().Warn("interpreter resolution failed", zap.String("file", file), zap.Error(err))
		msg := fmt.Sprintf("%s: %v", msgNoInterpreter, err)
		if errors.Is(err, interp.ErrInterpreterNotFound) {
			msg += ". Set 'interpreter' in the replmux config"
		}
		d.notifyError(ctx, msg)
		return nil, false
	}
	return res, true
}

func (d *Dispatcher) repl(ctx context.Context, file string, res *interp.Resolved) (session.Handle, bool, error) {
	command, err := res.REPLCommand(file)
	if err != nil {
		return nil, false, err
	}
	spec := session.Spec{
		Key:     file,
		Kind:    model.KindREPL,
		Name:    "REPL (" + filepath.Base(file) + ")",
		Dir:     filepath.Dir(file),
		Command: command,
	}
	return d.open(ctx, d.REPLs, spec)
}

func (d *Dispatcher) open(ctx context.Context, reg *session.Registry, spec session.Spec) (session.Handle, bool, error) {
	h, created, err := reg.GetOrCreate(spec.Key, func() (session.Handle, error) {
		return d.Backend.Open(ctx, spec)
	})
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", spec.Name, err)
	}
	if created {
		d.metrics().RecordSessionCreated(ctx, string(spec.Kind))
		d.logger().Info("session created",
			zap.String("kind", string(spec.Kind)),
			zap.String("key", spec.Key),
			zap.String("id", h.ID()),
			zap.String("name", h.Name()))
		d.notifyInfo(ctx, "Started "+h.Name())
	}
	return h, created, nil
}

// sendAfterStart types text into h once StartDelay has passed. The handle is
// the one returned at scheduling time, even if it has closed since.
func (d *Dispatcher) sendAfterStart(ctx context.Context, h session.Handle, text string) {
	d.metrics().RecordDeferredSend(ctx)
	detached := context.WithoutCancel(ctx)
	log := d.logger()
	d.Scheduler.After(d.StartDelay, func() {
		if err := h.Send(detached, text); err != nil {
			log.Error("deferred send failed", zap.String("id", h.ID()), zap.String("name", h.Name()), zap.Error(err))
		}
	})
}

func (d *Dispatcher) save(ctx context.Context, req model.Request) error {
	if d.Saver == nil || req.Editor == nil || req.Editor.Document == "" {
		return nil
	}
	if err := d.Saver.Save(ctx, req.Editor.Document); err != nil {
		return fmt.Errorf("save %s: %w", req.Editor.Document, err)
	}
	return nil
}

func (d *Dispatcher) notifyInfo(ctx context.Context, msg string) {
	d.metrics().RecordNotice(ctx, notify.LevelInfo)
	if d.Notifier != nil {
		d.Notifier.Info(ctx, msg)
	}
}

func (d *Dispatcher) notifyError(ctx context.Context, msg string) {
	d.metrics().RecordNotice(ctx, notify.LevelError)
	if d.Notifier != nil {
		d.Notifier.Error(ctx, msg)
	}
}

// begin opens a span for one command. The returned func records the outcome
// and passes err through.
func (d *Dispatcher) begin(ctx context.Context, action model.Action, req model.Request) (context.Context, func(outcome string, err error) error) {
	ctx, span := d.tracer().Start(ctx, "dispatch "+string(action), trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.file", req.ActiveFile()),
	))
	start := time.Now()
	return ctx, func(outcome string, err error) error {
		defer span.End()
		span.SetAttributes(attribute.String("dispatch.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		d.metrics().RecordDispatch(ctx, string(action), outcome)

		fields := []zap.Field{
			zap.String("action", string(action)),
			zap.String("request_id", req.ID),
			zap.String("outcome", outcome),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			d.logger().Error("dispatch failed", append(fields, zap.Error(err))...)
		} else {
			d.logger().Debug("dispatched", fields...)
		}
		return err
	}
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Dispatcher) metrics() *telem.Metrics {
	if d.Telemetry == nil {
		return nil
	}
	return d.Telemetry.Metrics
}

func (d *Dispatcher) tracer() trace.Tracer {
	if d.Telemetry == nil || d.Telemetry.Tracer == nil {
		return noop.NewTracerProvider().Tracer("replmux")
	}
	return d.Telemetry.Tracer
}
