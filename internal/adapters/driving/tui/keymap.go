package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines the keybindings of the TUI.
type KeyMap struct {
	Quit      key.Binding
	ForceQuit key.Binding
	Search    key.Binding
	Up        key.Binding
	Down      key.Binding
	Results   key.Binding
	NewSearch key.Binding
}

// DefaultKeyMap returns the default keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		ForceQuit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
		Search: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "search"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Results: key.NewBinding(
			key.WithKeys("tab", "esc"),
			key.WithHelp("tab", "results"),
		),
		NewSearch: key.NewBinding(
			key.WithKeys("/", "tab", "esc"),
			key.WithHelp("/", "new search"),
		),
	}
}

// InputHelp returns the bindings shown while typing a query.
func (k *KeyMap) InputHelp() []key.Binding {
	return []key.Binding{k.Search, k.Results, k.ForceQuit}
}

// ResultsHelp returns the bindings shown while browsing hits.
func (k *KeyMap) ResultsHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.NewSearch, k.Quit}
}
