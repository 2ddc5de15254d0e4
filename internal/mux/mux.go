// Package mux provides an abstraction over terminal multiplexers (tmux, zellij).
//
// This package is pure transport. It creates windows, types text into them
// and moves the client between them. Which window a file maps to is decided
// by the session registry, never here.
package mux

import (
	"context"

	"github.com/timvw/replmux/internal/model"
)

// WindowOptions describes a window to create.
type WindowOptions struct {
	// Session is the multiplexer session that owns the window. It is created
	// on demand.
	Session string
	// Name is the window title.
	Name string
	// Dir is the working directory. Empty uses the multiplexer default.
	Dir string
	// Command is the shell command the window runs. Empty starts a shell.
	Command string
	// Tags are stored as window user options (e.g., "@replmux-key").
	Tags map[string]string
}

// Multiplexer abstracts terminal multiplexer operations.
// Implementations exist for tmux and (future) zellij.
type Multiplexer interface {
	// Name returns the multiplexer name (e.g., "tmux", "zellij").
	Name() string

	// NewWindow creates a detached window and returns it.
	NewWindow(ctx context.Context, opts WindowOptions) (model.Window, error)

	// SendText types text into the window and presses Enter.
	SendText(ctx context.Context, target, text string) error

	// SelectWindow makes the window current and switches the attached
	// client to it.
	SelectWindow(ctx context.Context, target string) error

	// ListWindows returns all windows, optionally filtered by a session name regex pattern.
	// An empty filter returns all windows.
	ListWindows(ctx context.Context, filter string) ([]model.Window, error)

	// CapturePane captures the visible content of a window's active pane.
	CapturePane(ctx context.Context, target string) (string, error)

	// DisplayMessage shows a short message in the attached client's status line.
	DisplayMessage(ctx context.Context, message string) error
}
