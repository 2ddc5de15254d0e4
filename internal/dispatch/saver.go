package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Saver persists an open document before it is run or loaded.
type Saver interface {
	Save(ctx context.Context, document string) error
}

// CommandSaver asks the editor to save by running a shell command, e.g.
// `emacsclient -e '(save-some-buffers t)'` or `nvim --server $NVIM --remote-send ':w<CR>'`.
// The document path is passed in REPLMUX_FILE.
type CommandSaver struct {
	Command string
	Shell   string
}

// Save runs the command and waits for it. An empty command does nothing.
func (s *CommandSaver) Save(ctx context.Context, document string) error {
	if strings.TrimSpace(s.Command) == "" {
		return nil
	}
	shell := s.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", s.Command)
	cmd.Env = append(os.Environ(), "REPLMUX_FILE="+document)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("save command failed: %s: %w", msg, err)
		}
		return fmt.Errorf("save command failed: %w", err)
	}
	return nil
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, document string) error

func (f SaverFunc) Save(ctx context.Context, document string) error {
	return f(ctx, document)
}
