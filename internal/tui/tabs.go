// Package tui provides the terminal client for carspot.
package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"pkt.systems/carspot/schema"
)

// TabBar switches between the navigator's tabs.
type TabBar struct {
	tabs   []schema.TabID
	active int
	marks  map[schema.TabID]string

	activeStyle   lipgloss.Style
	inactiveStyle lipgloss.Style
	barStyle      lipgloss.Style
}

// NewTabBar creates a TabBar over tabs.
func NewTabBar(tabs []schema.TabID) TabBar {
	return TabBar{
		tabs:  append([]schema.TabID(nil), tabs...),
		marks: make(map[schema.TabID]string),

		activeStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Background(lipgloss.Color("236")).
			Padding(0, 2),

		inactiveStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Padding(0, 2),

		barStyle: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")),
	}
}

// Update handles keyboard input for tab switching.
func (t TabBar) Update(msg tea.Msg) (TabBar, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok || len(t.tabs) == 0 {
		return t, nil
	}
	switch s := key.String(); s {
	case "tab":
		t.active = (t.active + 1) % len(t.tabs)
	case "shift+tab":
		t.active = (t.active - 1 + len(t.tabs)) % len(t.tabs)
	default:
		if len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
			t.SetActive(int(s[0] - '1'))
		}
	}
	return t, nil
}

// View renders the tab bar.
func (t TabBar) View() string {
	rendered := make([]string, 0, len(t.tabs))
	for i, tab := range t.tabs {
		label := strings.ToUpper(string(tab[:1])) + string(tab[1:])
		if mark := t.marks[tab]; mark != "" {
			label += " " + mark
		}
		if i == t.active {
			rendered = append(rendered, t.activeStyle.Render(label))
		} else {
			rendered = append(rendered, t.inactiveStyle.Render(label))
		}
	}
	return t.barStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top, rendered...))
}

// SetActive sets the active tab by index, clamped to the valid range.
func (t *TabBar) SetActive(index int) {
	switch {
	case len(t.tabs) == 0:
		t.active = 0
	case index < 0:
		t.active = 0
	case index >= len(t.tabs):
		t.active = len(t.tabs) - 1
	default:
		t.active = index
	}
}

// SetMark annotates a tab label, e.g. with its preserved marker.
func (t *TabBar) SetMark(tab schema.TabID, mark string) {
	if mark == "" {
		delete(t.marks, tab)
		return
	}
	t.marks[tab] = mark
}

// Active returns the selected tab.
func (t TabBar) Active() schema.TabID {
	if len(t.tabs) == 0 {
		return ""
	}
	return t.tabs[t.active]
}

// Tabs returns the tabs in display order.
func (t TabBar) Tabs() []schema.TabID {
	return t.tabs
}
