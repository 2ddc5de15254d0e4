package interp

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrInterpreterNotFound is returned when no executable can be resolved.
var ErrInterpreterNotFound = errors.New("interpreter not found")

// Resolver picks the profile for a file and resolves its interpreter.
type Resolver struct {
	Profiles []Profile
	// Override replaces the matched profile's interpreter when set.
	Override string
	// LookPath resolves bare executable names. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)
	// Stat checks explicit paths. Defaults to os.Stat.
	Stat func(name string) (os.FileInfo, error)
}

// Resolved is a profile bound to a concrete interpreter executable.
type Resolved struct {
	Profile     Profile
	Interpreter string
}

// Profile returns the first profile matching file, or the first profile.
func (r *Resolver) Profile(file string) (Profile, bool) {
	if len(r.Profiles) == 0 {
		return Profile{}, false
	}
	for _, p := range r.Profiles {
		if p.Matches(file) {
			return p, true
		}
	}
	return r.Profiles[0], true
}

// Resolve returns the interpreter for file.
func (r *Resolver) Resolve(file string) (*Resolved, error) {
	p, ok := r.Profile(file)
	if !ok {
		return nil, fmt.Errorf("no interpreter profile configured: %w", ErrInterpreterNotFound)
	}

	name := p.Interpreter
	if r.Override != "" {
		name = r.Override
	}
	if name == "" {
		return nil, fmt.Errorf("profile %q has no interpreter: %w", p.Name, ErrInterpreterNotFound)
	}

	path, err := r.locate(name)
	if err != nil {
		return nil, err
	}
	return &Resolved{Profile: p, Interpreter: path}, nil
}

func (r *Resolver) locate(name string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) {
		stat := r.Stat
		if stat == nil {
			stat = os.Stat
		}
		info, err := stat(name)
		if err != nil || info.IsDir() {
			return "", fmt.Errorf("%s: %w", name, ErrInterpreterNotFound)
		}
		return name, nil
	}

	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(name)
	if err != nil || path == "" {
		return "", fmt.Errorf("%s not in PATH: %w", name, ErrInterpreterNotFound)
	}
	return path, nil
}

// RunCommand renders the command that runs file in an output terminal.
func (r *Resolved) RunCommand(file string) (string, error) {
	return render("run", orDefault(r.Profile.Run, DefaultRunTemplate), r.data(file))
}

// REPLCommand renders the command that starts the REPL for file.
func (r *Resolved) REPLCommand(file string) (string, error) {
	return render("repl", orDefault(r.Profile.REPL, DefaultREPLTemplate), r.data(file))
}

// LoadCommand renders the expression that loads file into a running REPL.
func (r *Resolved) LoadCommand(file string) (string, error) {
	return render("load", orDefault(r.Profile.Load, DefaultLoadTemplate), r.data(file))
}

func (r *Resolved) data(file string) commandData {
	return commandData{
		Interpreter: r.Interpreter,
		File:        file,
		Dir:         filepath.Dir(file),
		Base:        filepath.Base(file),
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
