// Package session keeps track of the terminals and REPLs replmux has started,
// keyed by file path (or by SharedKey when all files share one terminal).
package session

import (
	"context"
	"sort"
	"sync"
)

// SharedKey is the registry key used when every file runs in the same
// output terminal.
const SharedKey = "one"

// Handle is a running terminal or interactive process.
type Handle interface {
	// ID is the backend identifier (tmux window id, pty session id).
	ID() string
	// Name is the human-readable title.
	Name() string
	// Send types text followed by a newline. Text sent through one handle
	// arrives in call order.
	Send(ctx context.Context, text string) error
	// Show brings the session to the foreground where the backend has one.
	Show(ctx context.Context) error
	// Alive reports whether the underlying process or window still exists.
	Alive(ctx context.Context) bool
}

// Factory creates the handle for a key on first use.
type Factory func() (Handle, error)

// Registry maps keys to handles. A key holds at most one handle and entries
// are never evicted: a handle closed behind our back stays registered and
// later sends to it fail.
type Registry struct {
	mu      sync.Mutex
	handles map[string]Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

// GetOrCreate returns the handle stored under key, or calls factory, stores
// its result and returns it with created set. Factory errors are returned
// unchanged and nothing is stored. The factory runs under the registry lock
// so concurrent callers never create two handles for one key.
func (r *Registry) GetOrCreate(key string, factory Factory) (h Handle, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[key]; ok {
		return h, false, nil
	}
	h, err = factory()
	if err != nil {
		return nil, false, err
	}
	r.handles[key] = h
	return h, true, nil
}

// Lookup returns the handle stored under key without creating one.
func (r *Registry) Lookup(key string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key]
	return h, ok
}

// Restore registers a handle discovered from a previous run. It never
// replaces an existing entry and reports whether h was stored.
func (r *Registry) Restore(key string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[key]; ok {
		return false
	}
	r.handles[key] = h
	return true
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
