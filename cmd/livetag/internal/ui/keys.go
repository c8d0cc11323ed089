package ui

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines all keyboard shortcuts of the listen view
type KeyMap struct {
	Next   key.Binding
	Prev   key.Binding
	Accept key.Binding
	Stop   key.Binding
	Refuse key.Binding
	Clear  key.Binding
	Quit   key.Binding
}

var DefaultKeyMap = KeyMap{
	Next: key.NewBinding(
		key.WithKeys("tab", "right", "l"),
		key.WithHelp("tab", "next device"),
	),
	Prev: key.NewBinding(
		key.WithKeys("shift+tab", "left", "h"),
		key.WithHelp("shift+tab", "previous device"),
	),
	Accept: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "accept"),
	),
	Stop: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "stop"),
	),
	Refuse: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refuse"),
	),
	Clear: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "q", "esc"),
		key.WithHelp("q", "quit"),
	),
}

// ShortHelp implements help.KeyMap
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Accept, k.Stop, k.Refuse, k.Next, k.Clear, k.Quit}
}

// FullHelp implements help.KeyMap
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Accept, k.Stop, k.Refuse},
		{k.Next, k.Prev},
		{k.Clear, k.Quit},
	}
}

// pairingEnabled turns the pairing bindings on once a device is selectable
func (k *KeyMap) pairingEnabled(on bool) {
	k.Accept.SetEnabled(on)
	k.Stop.SetEnabled(on)
	k.Refuse.SetEnabled(on)
	k.Next.SetEnabled(on)
	k.Prev.SetEnabled(on)
}
