// Package interp maps source files to interpreter profiles and renders the
// commands typed into terminals and REPLs.
package interp

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/bmatcuk/doublestar/v4"
)

// Default command templates, used when a profile leaves one empty.
const (
	DefaultRunTemplate  = "{{shquote .Interpreter}} {{shquote .File}}"
	DefaultREPLTemplate = "{{shquote .Interpreter}} -i"
	DefaultLoadTemplate = "(enter! (file {{quote .File}}))"
)

// Profile describes how to run one language's files.
type Profile struct {
	// Name identifies the profile in logs and config errors.
	Name string `yaml:"name"`
	// Match holds doublestar globs; the first profile with a matching glob wins.
	// A glob without '/' is matched against the file's base name.
	Match []string `yaml:"match"`
	// Interpreter is an executable name looked up in $PATH, or a path.
	Interpreter string `yaml:"interpreter"`
	// Run is typed into an output terminal to run the file.
	Run string `yaml:"run"`
	// REPL starts the interactive session.
	REPL string `yaml:"repl"`
	// Load is typed into the REPL to load the file.
	Load string `yaml:"load"`
}

// DefaultProfiles returns the built-in profiles.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:        "racket",
			Match:       []string{"**/*.rkt", "**/*.rktl", "**/*.rktd", "**/*.scrbl"},
			Interpreter: "racket",
			Run:         DefaultRunTemplate,
			REPL:        DefaultREPLTemplate,
			Load:        DefaultLoadTemplate,
		},
	}
}

// Validate checks the profile's globs and templates.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(p.Interpreter) == "" {
		return fmt.Errorf("profile %q: interpreter is required", p.Name)
	}
	for _, pattern := range p.Match {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("profile %q: invalid match pattern %q", p.Name, pattern)
		}
	}
	for field, text := range map[string]string{"run": p.Run, "repl": p.REPL, "load": p.Load} {
		if text == "" {
			continue
		}
		if _, err := parseTemplate(field, text); err != nil {
			return fmt.Errorf("profile %q: %s template: %w", p.Name, field, err)
		}
	}
	return nil
}

// Matches reports whether file matches any of the profile's globs.
func (p Profile) Matches(file string) bool {
	slashed := strings.TrimPrefix(filepath.ToSlash(file), "/")
	base := filepath.Base(file)
	for _, pattern := range p.Match {
		subject := slashed
		if !strings.Contains(pattern, "/") {
			subject = base
		}
		if ok, err := doublestar.Match(strings.TrimPrefix(pattern, "/"), subject); err == nil && ok {
			return true
		}
	}
	return false
}

// commandData is the template context for every command.
type commandData struct {
	Interpreter string
	File        string
	Dir         string
	Base        string
}

var funcs = template.FuncMap{
	"quote":   strconv.Quote,
	"shquote": ShellQuote,
}

func parseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
}

func render(name, text string, data commandData) (string, error) {
	tmpl, err := parseTemplate(name, text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// ShellQuote quotes s for POSIX shells.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
