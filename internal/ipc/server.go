// Package ipc carries dispatch requests from CLI invocations to the replmux
// daemon over a unix datagram socket. One datagram holds one JSON request.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/timvw/replmux/internal/model"
)

// MaxPayloadBytes bounds a request datagram. Larger payloads are dropped.
const MaxPayloadBytes = 64 * 1024

// Handler processes one request. Requests are handled one at a time in
// arrival order.
type Handler func(ctx context.Context, req model.Request)

// Server reads requests from the daemon socket.
type Server struct {
	handler Handler
	path    string
	logger  *zap.Logger

	MaxPayloadBytes int

	mu     sync.Mutex
	conn   *net.UnixConn
	closed bool
	done   chan struct{}
}

func NewServer(socketPath string, handler Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		handler:         handler,
		path:            socketPath,
		logger:          logger,
		MaxPayloadBytes: MaxPayloadBytes,
		done:            make(chan struct{}),
	}
}

func (s *Server) SocketPath() string {
	return s.path
}

// Start binds the socket and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.handler == nil {
		return fmt.Errorf("handler is required")
	}
	if s.path == "" {
		return fmt.Errorf("socket path is required")
	}
	if s.MaxPayloadBytes <= 0 {
		s.MaxPayloadBytes = MaxPayloadBytes
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Chmod(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("chmod socket dir: %w", err)
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	addr, err := net.ResolveUnixAddr("unixgram", s.path)
	if err != nil {
		return fmt.Errorf("resolve unix addr: %w", err)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return fmt.Errorf("listen unixgram: %w", err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		_ = conn.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.closed = false
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.close()
	}()

	go s.readLoop(ctx, conn)

	return nil
}

// Done is closed once the read loop has exited.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) readLoop(ctx context.Context, conn *net.UnixConn) {
	defer close(s.done)
	// One extra byte so a payload of exactly the limit is detected as
	// oversized rather than silently truncated.
	buf := make([]byte, s.MaxPayloadBytes+1)
	for {
		n, _, err := conn.ReadFromUnix(buf)
		if err != nil {
			if s.isClosed() {
				return
			}
			s.logger.Debug("read datagram", zap.Error(err))
			continue
		}

		if n <= 0 || n > s.MaxPayloadBytes {
			s.logger.Warn("dropped oversized request", zap.Int("bytes", n))
			continue
		}

		var req model.Request
		if err := json.Unmarshal(buf[:n], &req); err != nil {
			s.logger.Warn("dropped malformed request", zap.Error(err))
			continue
		}
		if err := req.Validate(); err != nil {
			s.logger.Warn("dropped invalid request", zap.String("id", req.ID), zap.Error(err))
			continue
		}
		s.handler(ctx, req)
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	_ = os.Remove(s.path)
}
