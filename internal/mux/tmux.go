package mux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/timvw/replmux/internal/model"
)

// Window user options written on every window replmux creates. They let a
// later invocation rediscover which file a window belongs to.
const (
	TagKey  = "@replmux-key"
	TagKind = "@replmux-kind"
)

// windowFormat is the print format of NewWindow: window_id, session:index,
// pane pid, window name. The name comes last so a tab in it stays in the name.
const windowFormat = "#{window_id}\t#{session_name}:#{window_index}\t#{pane_pid}\t#{window_name}"

// listFormat adds the tags ahead of the name. Tag values are stored quoted
// and never contain a tab.
const listFormat = "#{window_id}\t#{session_name}:#{window_index}\t#{pane_pid}\t#{" + TagKey + "}\t#{" + TagKind + "}\t#{window_name}"

// Tmux implements the Multiplexer interface for tmux.
type Tmux struct {
	// Exec runs a tmux command and returns its stdout. Replaced in tests.
	Exec func(ctx context.Context, args ...string) (string, error)
	// Sleep is used between the literal text and the Enter key.
	Sleep func(time.Duration)
	// EnterDelay lets the pasted text settle before Enter is pressed.
	EnterDelay time.Duration
	// InClient is true when running inside a tmux client, which makes
	// switch-client meaningful.
	InClient bool
}

// NewTmux creates a new tmux multiplexer.
func NewTmux() *Tmux {
	return &Tmux{
		Exec:       runTmux,
		Sleep:      time.Sleep,
		EnterDelay: 100 * time.Millisecond,
		InClient:   os.Getenv("TMUX") != "",
	}
}

// Name returns "tmux".
func (t *Tmux) Name() string {
	return "tmux"
}

// NewWindow creates a detached window, starting the session if needed.
func (t *Tmux) NewWindow(ctx context.Context, opts WindowOptions) (model.Window, error) {
	if opts.Session == "" {
		return model.Window{}, fmt.Errorf("session name is required")
	}

	var args []string
	if _, err := t.Exec(ctx, "has-session", "-t", "="+opts.Session); err == nil {
		args = []string{"new-window", "-d", "-P", "-F", windowFormat, "-t", opts.Session + ":"}
	} else {
		args = []string{"new-session", "-d", "-P", "-F", windowFormat, "-s", opts.Session}
	}
	if opts.Name != "" {
		args = append(args, "-n", opts.Name)
	}
	if opts.Dir != "" {
		args = append(args, "-c", opts.Dir)
	}
	if opts.Command != "" {
		args = append(args, opts.Command)
	}

	out, err := t.Exec(ctx, args...)
	if err != nil {
		return model.Window{}, fmt.Errorf("tmux %s: %w", args[0], err)
	}

	w, err := parseWindow(strings.TrimSpace(out))
	if err != nil {
		return model.Window{}, err
	}

	// Deterministic order keeps the command sequence stable.
	keys := make([]string, 0, len(opts.Tags))
	for k := range opts.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := t.Exec(ctx, "set-option", "-w", "-t", w.ID, k, strconv.Quote(opts.Tags[k])); err != nil {
			return model.Window{}, fmt.Errorf("tmux set-option %s on %s: %w", k, w.ID, err)
		}
	}
	w.Key = opts.Tags[TagKey]
	w.Kind = model.Kind(opts.Tags[TagKind])

	return w, nil
}

// SendText types text into a window and presses Enter (literal mode + debounce + Enter with retry).
func (t *Tmux) SendText(ctx context.Context, target, text string) error {
	if text != "" {
		if _, err := t.Exec(ctx, "send-keys", "-t", target, "-l", text); err != nil {
			return fmt.Errorf("send literal keys to %s: %w", target, err)
		}
		if t.EnterDelay > 0 && t.Sleep != nil {
			t.Sleep(t.EnterDelay)
		}
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 && t.Sleep != nil {
			t.Sleep(200 * time.Millisecond)
		}
		if _, err := t.Exec(ctx, "send-keys", "-t", target, "Enter"); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("failed to send Enter to %s after 3 attempts: %w", target, lastErr)
}

// SelectWindow selects the window and, when attached, switches the client to it.
// The switch is best-effort: a detached server has no client to move.
func (t *Tmux) SelectWindow(ctx context.Context, target string) error {
	if _, err := t.Exec(ctx, "select-window", "-t", target); err != nil {
		return fmt.Errorf("tmux select-window -t %s: %w", target, err)
	}
	if t.InClient {
		_, _ = t.Exec(ctx, "switch-client", "-t", target)
	}
	return nil
}

// ListWindows returns all tmux windows, optionally filtered by session name pattern.
func (t *Tmux) ListWindows(ctx context.Context, filter string) ([]model.Window, error) {
	out, err := t.Exec(ctx, "list-windows", "-a", "-F", listFormat)
	if err != nil {
		return nil, fmt.Errorf("tmux list-windows: %w", err)
	}

	var re *regexp.Regexp
	if filter != "" {
		re, err = regexp.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern %q: %w", filter, err)
		}
	}

	var windows []model.Window
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 6)
		if len(parts) != 6 {
			continue
		}
		w, err := parseWindow(strings.Join([]string{parts[0], parts[1], parts[2], parts[5]}, "\t"))
		if err != nil {
			continue
		}
		w.Key = decodeTag(parts[3])
		w.Kind = model.Kind(decodeTag(parts[4]))

		// Apply session name filter if provided.
		if re != nil && !re.MatchString(w.Session) {
			continue
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// CapturePane captures the visible content of a tmux window's active pane.
// Uses -p (stdout) and -J (joined, unwraps lines).
func (t *Tmux) CapturePane(ctx context.Context, target string) (string, error) {
	out, err := t.Exec(ctx, "capture-pane", "-t", target, "-p", "-J")
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane -t %s: %w", target, err)
	}
	return out, nil
}

// DisplayMessage shows message in the status line of the current client.
func (t *Tmux) DisplayMessage(ctx context.Context, message string) error {
	if _, err := t.Exec(ctx, "display-message", message); err != nil {
		return fmt.Errorf("tmux display-message: %w", err)
	}
	return nil
}

// runTmux executes a tmux command and returns its stdout.
func runTmux(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return string(out), nil
}

// parseWindow parses one windowFormat line.
func parseWindow(line string) (model.Window, error) {
	parts := strings.SplitN(line, "\t", 4)
	if len(parts) != 4 {
		return model.Window{}, fmt.Errorf("invalid window line %q", line)
	}
	if !strings.HasPrefix(parts[0], "@") {
		return model.Window{}, fmt.Errorf("invalid window id in %q", line)
	}

	target := parts[1]
	colonIdx := strings.LastIndex(target, ":")
	if colonIdx < 0 {
		return model.Window{}, fmt.Errorf("invalid target %q: missing ':'", target)
	}
	if _, err := strconv.Atoi(target[colonIdx+1:]); err != nil {
		return model.Window{}, fmt.Errorf("invalid window index in %q: %w", target, err)
	}

	pid, _ := strconv.Atoi(parts[2])
	return model.Window{
		ID:      parts[0],
		Target:  target,
		Session: target[:colonIdx],
		Name:    parts[3],
		PID:     pid,
	}, nil
}

// decodeTag reverses the quoting applied by NewWindow. Unquoted values are
// returned as they are.
func decodeTag(v string) string {
	if !strings.HasPrefix(v, `"`) {
		return v
	}
	if s, err := strconv.Unquote(v); err == nil {
		return s
	}
	return v
}
