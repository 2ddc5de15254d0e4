package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"github.com/timvw/replmux/internal/model"
)

var (
	// ErrNoDaemon means nothing is listening on the socket.
	ErrNoDaemon = errors.New("replmux daemon is not running")
	// ErrTooLarge means the request does not fit in one datagram.
	ErrTooLarge = errors.New("request too large for the daemon socket")
)

// Send delivers req to the daemon listening on socketPath. Delivery is
// fire-and-forget: the daemon reports problems to the user, not the sender.
func Send(socketPath string, req model.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if len(payload) > MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrTooLarge, len(payload), MaxPayloadBytes)
	}

	addr, err := net.ResolveUnixAddr("unixgram", socketPath)
	if err != nil {
		return fmt.Errorf("resolve unix addr: %w", err)
	}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return fmt.Errorf("%w (%s)", ErrNoDaemon, socketPath)
		}
		return fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return fmt.Errorf("%w (%s)", ErrNoDaemon, socketPath)
		}
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

// DefaultSocketPath returns $XDG_RUNTIME_DIR/replmux/dispatch.sock, falling
// back to a per-user directory under the system temp dir.
func DefaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "replmux", "dispatch.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("replmux-%d", os.Getuid()), "dispatch.sock")
}
