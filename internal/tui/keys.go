package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the dashboard key bindings.
type KeyMap struct {
	StartStop key.Binding
	Batch     key.Binding
	DryRun    key.Binding
	RunOnce   key.Binding
	Filter    key.Binding
	Up        key.Binding
	Down      key.Binding
	Confirm   key.Binding
	Deny      key.Binding
	Escape    key.Binding
	Quit      key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		StartStop: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "start/stop"),
		),
		Batch: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "batch mode"),
		),
		DryRun: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "dry run"),
		),
		RunOnce: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "run once"),
		),
		Filter: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "filter reports"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "scroll down"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("y", "Y"),
			key.WithHelp("y", "confirm"),
		),
		Deny: key.NewBinding(
			key.WithKeys("n", "N"),
			key.WithHelp("n", "cancel"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}
