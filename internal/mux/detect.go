package mux

import (
	"fmt"
	"os"
	"os/exec"
)

// Detect picks the multiplexer for this environment. tmux wins when the
// caller runs inside it or the binary is installed; a server is started on
// the first NewWindow, so none has to be running yet.
func Detect() (Multiplexer, error) {
	if os.Getenv("TMUX") != "" || Available() {
		return NewTmux(), nil
	}
	if os.Getenv("ZELLIJ") != "" {
		return nil, fmt.Errorf("zellij support is not yet implemented")
	}
	return nil, fmt.Errorf("no supported terminal multiplexer found (install tmux)")
}

// Available reports whether a tmux binary is installed, even if no server
// is running yet. NewWindow starts the server on first use.
func Available() bool {
	path, err := exec.LookPath("tmux")
	return err == nil && path != ""
}

// FromName creates a Multiplexer by name.
func FromName(name string) (Multiplexer, error) {
	switch name {
	case "tmux":
		return NewTmux(), nil
	case "zellij":
		return nil, fmt.Errorf("zellij support is not yet implemented")
	default:
		return nil, fmt.Errorf("unknown multiplexer: %q (supported: tmux)", name)
	}
}
