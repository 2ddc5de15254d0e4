package session

import (
	"context"

	"github.com/timvw/replmux/internal/model"
)

// Spec describes a session to start.
type Spec struct {
	// Key is the registry key the session is created for.
	Key string
	// Kind selects the registry: output terminals or REPLs.
	Kind model.Kind
	// Name is the title shown to the user.
	Name string
	// Dir is the working directory. Empty uses the backend default.
	Dir string
	// Command runs in place of a shell. Empty starts the user's shell.
	Command string
}

// Discovered is a session left behind by an earlier replmux process.
type Discovered struct {
	Key    string
	Kind   model.Kind
	Handle Handle
}

// Backend starts sessions and finds the ones that survived a restart.
type Backend interface {
	// Name returns the backend name ("tmux", "pty").
	Name() string
	// Open starts a new session.
	Open(ctx context.Context, spec Spec) (Handle, error)
	// Discover returns sessions from earlier runs. Backends whose sessions
	// die with the process return nothing.
	Discover(ctx context.Context) ([]Discovered, error)
}

// RestoreAll registers discovered sessions in the registry of their kind and
// returns how many were restored.
func RestoreAll(found []Discovered, terminals, repls *Registry) int {
	n := 0
	for _, d := range found {
		var r *Registry
		switch d.Kind {
		case model.KindOutput:
			r = terminals
		case model.KindREPL:
			r = repls
		default:
			continue
		}
		if r.Restore(d.Key, d.Handle) {
			n++
		}
	}
	return n
}
