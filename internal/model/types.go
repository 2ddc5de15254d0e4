package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Action names a dispatch operation an editor can request.
type Action string

const (
	ActionRunInTerminal    Action = "run-in-terminal"
	ActionLoadInREPL       Action = "load-in-repl"
	ActionExecuteSelection Action = "execute-selection"
	ActionOpenREPL         Action = "open-repl"
	ActionShowOutput       Action = "show-output"
)

// Actions lists every supported action in CLI order.
var Actions = []Action{
	ActionRunInTerminal,
	ActionLoadInREPL,
	ActionExecuteSelection,
	ActionOpenREPL,
	ActionShowOutput,
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// Kind distinguishes output terminals from interactive REPL sessions.
type Kind string

const (
	KindOutput Kind = "output"
	KindREPL   Kind = "repl"
)

// Editor is the editor state captured when the request was made.
type Editor struct {
	// Document is the path of the document open in the active editor.
	// Empty when the editor has no saved-to-disk document.
	Document string `json:"document,omitempty"`
	// Selection is the selected text. Empty when nothing is selected.
	Selection string `json:"selection,omitempty"`
	// Line is the text of the line under the cursor.
	Line string `json:"line,omitempty"`
}

// Code returns the unit of code to evaluate: the selection, or the
// current line when the selection is empty.
func (e *Editor) Code() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Selection) != "" {
		return e.Selection
	}
	return e.Line
}

// Request is a single dispatch request, as sent from an editor to the daemon.
type Request struct {
	ID     string    `json:"id"`
	Action Action    `json:"action"`
	File   string    `json:"file,omitempty"`
	Editor *Editor   `json:"editor,omitempty"`
	TS     time.Time `json:"ts"`
}

// Validate checks the envelope. Missing file or editor context is not an
// error here: dispatchers report it to the user instead.
func (r Request) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if !r.Action.Valid() {
		return fmt.Errorf("invalid action %q", r.Action)
	}
	if r.File != "" && !filepath.IsAbs(r.File) {
		return fmt.Errorf("file must be absolute, got %q", r.File)
	}
	if r.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// ActiveFile returns the file the request refers to: the explicit file, or
// the editor's document.
func (r Request) ActiveFile() string {
	if r.File != "" {
		return r.File
	}
	if r.Editor != nil {
		return r.Editor.Document
	}
	return ""
}

// Window represents a terminal multiplexer window owned by replmux.
type Window struct {
	// ID is the multiplexer's stable window identifier (e.g., "@12").
	ID string `json:"id"`
	// Target is the human-readable target (e.g., "replmux:3").
	Target string `json:"target"`
	// Session is the session name.
	Session string `json:"session"`
	// Name is the window name (e.g., "REPL (main.rkt)").
	Name string `json:"name"`
	// PID is the PID of the window's first pane process.
	PID int `json:"pid"`
	// Key is the registry key the window was created for. Empty for
	// windows not created by replmux.
	Key string `json:"key,omitempty"`
	// Kind is the registry the window belongs to.
	Kind Kind `json:"kind,omitempty"`
}

// Tagged reports whether the window was created by replmux.
func (w Window) Tagged() bool {
	return w.Key != "" && (w.Kind == KindOutput || w.Kind == KindREPL)
}
