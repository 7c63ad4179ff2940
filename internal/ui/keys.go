package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds the dashboard bindings. It implements help.KeyMap.
type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Top      key.Binding
	Bottom   key.Binding
	NextPane key.Binding
	PrevPane key.Binding
	Open     key.Binding
	Filter   key.Binding
	Clear    key.Binding
	Count    key.Binding
	Window   key.Binding
	Sort     key.Binding
	Anon     key.Binding
	TopKind  key.Binding
	Refresh  key.Binding
	Debug    key.Binding
	Help     key.Binding
	Back     key.Binding
	Quit     key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:       key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
		Down:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
		Top:      key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g", "first")),
		Bottom:   key.NewBinding(key.WithKeys("G", "end"), key.WithHelp("G", "last")),
		NextPane: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next panel")),
		PrevPane: key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("S-tab", "prev panel")),
		Open:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "diff")),
		Filter:   key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "filter")),
		Clear:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "clear filter")),
		Count:    key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "count")),
		Window:   key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "window")),
		Sort:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sort")),
		Anon:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "anonymous")),
		TopKind:  key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "pages/editors")),
		Refresh:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Debug:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "debug")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Back:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Down, k.NextPane, k.Open, k.Filter, k.Window, k.Sort, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Top, k.Bottom, k.NextPane, k.PrevPane},
		{k.Open, k.Filter, k.Clear, k.Count, k.Window},
		{k.Sort, k.Anon, k.TopKind, k.Refresh},
		{k.Debug, k.Help, k.Back, k.Quit},
	}
}
