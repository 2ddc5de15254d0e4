package picker

import "github.com/charmbracelet/lipgloss"

// Theme defines all colors used by the session picker.
type Theme struct {
	Primary   lipgloss.Color // title, cursor
	Secondary lipgloss.Color // selected row text
	Output    lipgloss.Color // output terminal group
	REPL      lipgloss.Color // REPL group
	Error     lipgloss.Color
	Text      lipgloss.Color
	TextMuted lipgloss.Color // keys, ids, hints
	Selection lipgloss.Color // selected row background
	Border    lipgloss.Color
}

// DarkTheme is the default.
func DarkTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#fab283"),
		Secondary: lipgloss.Color("#5c9cf5"),
		Output:    lipgloss.Color("#56b6c2"),
		REPL:      lipgloss.Color("#9d7cd8"),
		Error:     lipgloss.Color("#e06c75"),
		Text:      lipgloss.Color("#eeeeee"),
		TextMuted: lipgloss.Color("#808080"),
		Selection: lipgloss.Color("#1e1e1e"),
		Border:    lipgloss.Color("#484848"),
	}
}

// LightTheme is for bright terminal backgrounds.
func LightTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#b35c00"),
		Secondary: lipgloss.Color("#0550ae"),
		Output:    lipgloss.Color("#0969da"),
		REPL:      lipgloss.Color("#6639ba"),
		Error:     lipgloss.Color("#cf222e"),
		Text:      lipgloss.Color("#1f2328"),
		TextMuted: lipgloss.Color("#656d76"),
		Selection: lipgloss.Color("#f6f8fa"),
		Border:    lipgloss.Color("#d0d7de"),
	}
}

// ThemeByName returns a theme by name. Defaults to dark.
func ThemeByName(name string) Theme {
	switch name {
	case "light":
		return LightTheme()
	default:
		return DarkTheme()
	}
}

type styles struct {
	title    lipgloss.Style
	group    map[string]lipgloss.Style
	selected lipgloss.Style
	err      lipgloss.Style
	dim      lipgloss.Style
	text     lipgloss.Style
	border   lipgloss.Style
}

func newStyles(t Theme) styles {
	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		group: map[string]lipgloss.Style{
			"output": lipgloss.NewStyle().Bold(true).Foreground(t.Output),
			"repl":   lipgloss.NewStyle().Bold(true).Foreground(t.REPL),
		},
		selected: lipgloss.NewStyle().Bold(true).Foreground(t.Secondary).Background(t.Selection),
		err:      lipgloss.NewStyle().Foreground(t.Error),
		dim:      lipgloss.NewStyle().Foreground(t.TextMuted),
		text:     lipgloss.NewStyle().Foreground(t.Text),
		border:   lipgloss.NewStyle().Foreground(t.Border),
	}
}
