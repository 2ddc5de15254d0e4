// Package notify delivers user-facing notices: missing context, missing
// output terminals and similar conditions the user can act on.
package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/timvw/replmux/internal/mux"
)

// Levels passed to metrics and tests.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Notifier shows short messages to the user.
type Notifier interface {
	Info(ctx context.Context, msg string)
	Error(ctx context.Context, msg string)
}

// Console writes styled notices to a terminal (usually stderr).
type Console struct {
	mu        sync.Mutex
	w         io.Writer
	infoStyle lipgloss.Style
	errStyle  lipgloss.Style
}

// NewConsole creates a console notifier writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{
		w:         w,
		infoStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		errStyle:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
}

func (c *Console) Info(ctx context.Context, msg string) {
	c.write(c.infoStyle.Render("replmux:") + " " + msg)
}

func (c *Console) Error(ctx context.Context, msg string) {
	c.write(c.errStyle.Render("replmux: error:") + " " + msg)
}

func (c *Console) write(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
}

// Tmux shows notices in the tmux status line. Without an attached client
// display-message fails; that failure is only logged.
type Tmux struct {
	Mux    mux.Multiplexer
	Logger *zap.Logger
}

func (t *Tmux) Info(ctx context.Context, msg string) {
	t.display(ctx, "replmux: "+msg)
}

func (t *Tmux) Error(ctx context.Context, msg string) {
	t.display(ctx, "replmux: error: "+msg)
}

func (t *Tmux) display(ctx context.Context, msg string) {
	if err := t.Mux.DisplayMessage(ctx, msg); err != nil && t.Logger != nil {
		t.Logger.Debug("tmux notice not shown", zap.Error(err))
	}
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

func (m Multi) Info(ctx context.Context, msg string) {
	for _, n := range m {
		n.Info(ctx, msg)
	}
}

func (m Multi) Error(ctx context.Context, msg string) {
	for _, n := range m {
		n.Error(ctx, msg)
	}
}
