package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/creack/pty"
)

const defaultTailBytes = 64 * 1024

// PTYBackend runs sessions as child processes on pseudo-terminals owned by
// the daemon. Output is mirrored to a log file per session and the most
// recent output is kept in memory for Show.
type PTYBackend struct {
	// LogDir receives one log file per session. Empty disables log files.
	LogDir string
	// Shell runs commands and is started when a spec has no command.
	// Defaults to $SHELL, then /bin/sh.
	Shell string
	// Out receives the output tail when a session is shown.
	Out io.Writer
	// TailBytes bounds the in-memory output tail.
	TailBytes int

	mu       sync.Mutex
	seq      int
	sessions []*ptyHandle
}

// NewPTYBackend creates a PTY backend logging to logDir and showing output on out.
func NewPTYBackend(logDir string, out io.Writer) *PTYBackend {
	return &PTYBackend{LogDir: logDir, Out: out, TailBytes: defaultTailBytes}
}

// Name returns "pty".
func (b *PTYBackend) Name() string {
	return "pty"
}

// Open starts the spec's command (or a shell) on a new PTY.
func (b *PTYBackend) Open(ctx context.Context, spec Spec) (Handle, error) {
	shell := b.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	var cmd *exec.Cmd
	if spec.Command != "" {
		cmd = exec.Command(shell, "-c", spec.Command)
	} else {
		cmd = exec.Command(shell)
	}
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	b.mu.Lock()
	b.seq++
	id := fmt.Sprintf("pty-%d", b.seq)
	b.mu.Unlock()

	var logFile *os.File
	if b.LogDir != "" {
		if err := os.MkdirAll(b.LogDir, 0o700); err != nil {
			return nil, fmt.Errorf("create pty log dir: %w", err)
		}
		path := filepath.Join(b.LogDir, fmt.Sprintf("%s-%s.log", id, spec.Kind))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open pty log: %w", err)
		}
		logFile = f
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 120})
	if err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	tail := b.TailBytes
	if tail <= 0 {
		tail = defaultTailBytes
	}
	h := &ptyHandle{
		id:       id,
		name:     spec.Name,
		cmd:      cmd,
		ptmx:     ptmx,
		log:      logFile,
		out:      b.Out,
		maxTail:  tail,
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}

	go h.readOutput()
	go h.monitorProcess()

	b.mu.Lock()
	b.sessions = append(b.sessions, h)
	b.mu.Unlock()
	return h, nil
}

// Discover returns nothing: PTY sessions end with the daemon.
func (b *PTYBackend) Discover(ctx context.Context) ([]Discovered, error) {
	return nil, nil
}

// Close terminates every session started by the backend.
func (b *PTYBackend) Close() {
	b.mu.Lock()
	sessions := b.sessions
	b.sessions = nil
	b.mu.Unlock()
	for _, h := range sessions {
		h.kill()
	}
}

type ptyHandle struct {
	id   string
	name string
	cmd  *exec.Cmd
	ptmx *os.File
	log  *os.File
	out  io.Writer

	mu      sync.Mutex
	tail    []byte
	maxTail int
	closed  bool

	done     chan struct{} // closed when the process exits
	readDone chan struct{} // closed when the output reader stops
}

func (h *ptyHandle) ID() string   { return h.id }
func (h *ptyHandle) Name() string { return h.name }

func (h *ptyHandle) Send(ctx context.Context, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("session is closed: %s", h.id)
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if _, err := h.ptmx.Write([]byte(text)); err != nil {
		return fmt.Errorf("write to %s: %w", h.id, err)
	}
	return nil
}

// Show prints the buffered output tail; a PTY has no foreground to raise.
func (h *ptyHandle) Show(ctx context.Context) error {
	if h.out == nil {
		return nil
	}
	h.mu.Lock()
	snapshot := string(h.tail)
	h.mu.Unlock()

	_, err := fmt.Fprintf(h.out, "--- %s (%s) ---\n%s\n", h.name, h.id, snapshot)
	return err
}

func (h *ptyHandle) Alive(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

// Output returns the buffered output tail.
func (h *ptyHandle) Output() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.tail)
}

// readOutput continuously reads from the PTY into the tail and the log.
func (h *ptyHandle) readOutput() {
	defer close(h.readDone)
	buf := make([]byte, 4096)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			h.mu.Lock()
			h.tail = append(h.tail, buf[:n]...)
			if over := len(h.tail) - h.maxTail; over > 0 {
				h.tail = h.tail[over:]
			}
			h.mu.Unlock()
			if h.log != nil {
				_, _ = h.log.Write(buf[:n])
			}
		}
		if err != nil {
			return
		}
	}
}

// monitorProcess waits for the process to exit and marks the handle closed.
func (h *ptyHandle) monitorProcess() {
	_ = h.cmd.Wait()

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	_ = h.ptmx.Close()
	<-h.readDone
	if h.log != nil {
		_ = h.log.Close()
	}
	close(h.done)
}

func (h *ptyHandle) kill() {
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	<-h.done
}
