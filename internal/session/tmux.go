package session

import (
	"context"
	"fmt"

	"github.com/timvw/replmux/internal/model"
	"github.com/timvw/replmux/internal/mux"
)

// TmuxBackend runs every session in its own window of one tmux session.
type TmuxBackend struct {
	Mux mux.Multiplexer
	// Session is the tmux session holding replmux windows.
	Session string
}

// NewTmuxBackend creates a backend using m and the named tmux session.
func NewTmuxBackend(m mux.Multiplexer, session string) *TmuxBackend {
	return &TmuxBackend{Mux: m, Session: session}
}

// Name returns "tmux".
func (b *TmuxBackend) Name() string {
	return "tmux"
}

// Open creates a detached, tagged window.
func (b *TmuxBackend) Open(ctx context.Context, spec Spec) (Handle, error) {
	w, err := b.Mux.NewWindow(ctx, mux.WindowOptions{
		Session: b.Session,
		Name:    spec.Name,
		Dir:     spec.Dir,
		Command: spec.Command,
		Tags: map[string]string{
			mux.TagKey:  spec.Key,
			mux.TagKind: string(spec.Kind),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open %s window %q: %w", spec.Kind, spec.Name, err)
	}
	return &tmuxHandle{mux: b.Mux, window: w}, nil
}

// Discover returns the tagged windows in the backend's tmux session.
func (b *TmuxBackend) Discover(ctx context.Context) ([]Discovered, error) {
	windows, err := b.Mux.ListWindows(ctx, "")
	if err != nil {
		return nil, err
	}
	var found []Discovered
	for _, w := range windows {
		if w.Session != b.Session || !w.Tagged() {
			continue
		}
		found = append(found, Discovered{
			Key:    w.Key,
			Kind:   w.Kind,
			Handle: &tmuxHandle{mux: b.Mux, window: w},
		})
	}
	return found, nil
}

// tmuxHandle addresses its window by the stable window id, which survives
// renames and reordering.
type tmuxHandle struct {
	mux    mux.Multiplexer
	window model.Window
}

func (h *tmuxHandle) ID() string   { return h.window.ID }
func (h *tmuxHandle) Name() string { return h.window.Name }

func (h *tmuxHandle) Send(ctx context.Context, text string) error {
	return h.mux.SendText(ctx, h.window.ID, text)
}

func (h *tmuxHandle) Show(ctx context.Context) error {
	return h.mux.SelectWindow(ctx, h.window.ID)
}

func (h *tmuxHandle) Alive(ctx context.Context) bool {
	windows, err := h.mux.ListWindows(ctx, "")
	if err != nil {
		return false
	}
	for _, w := range windows {
		if w.ID == h.window.ID {
			return true
		}
	}
	return false
}
