package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetry = 25 * time.Millisecond

// Lock is an exclusive lock shared by every replmux process on the machine.
// A process that rebuilds its registries from Backend.Discover holds it from
// Discover until its last send, so two processes never both find a key
// missing and create a session for it.
type Lock struct {
	path string
	fl   *flock.Flock
}

// NewLock returns a lock on the file at path. The file is created on Acquire.
func NewLock(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire blocks until the lock is held or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	ok, err := l.fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("lock %s: %w", l.path, ctx.Err())
	}
	return nil
}

// Release gives the lock up.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
