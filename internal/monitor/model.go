// Package monitor renders a live terminal view of recent registrations.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pyconau/precord/internal/store"
)

const (
	pendingRows = 10
	activeRows  = 5
)

// registrationLister is the slice of the store the monitor needs.
type registrationLister interface {
	ListRecentPending(ctx context.Context, limit int) ([]store.Pending, error)
	ListRecentActive(ctx context.Context, limit int) ([]store.Active, error)
}

type tickMsg time.Time

type refreshMsg struct {
	pending []store.Pending
	active  []store.Active
	at      time.Time
	err     error
}

type model struct {
	theme Theme
	store registrationLister

	width   int
	pending []store.Pending
	active  []store.Active
	at      time.Time
	err     error
}

// Run starts the monitor TUI and blocks until the user quits.
func Run(st registrationLister) error {
	m := newModel(st)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func newModel(st registrationLister) model {
	return model{
		theme: DefaultTheme(),
		store: st,
		width: 80,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(cmdRefresh(m.store), tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func cmdRefresh(st registrationLister) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 900*time.Millisecond)
		defer cancel()

		pending, err := st.ListRecentPending(ctx, pendingRows)
		if err != nil {
			return refreshMsg{at: time.Now(), err: err}
		}
		active, err := st.ListRecentActive(ctx, activeRows)
		if err != nil {
			return refreshMsg{at: time.Now(), err: err}
		}
		return refreshMsg{pending: pending, active: active, at: time.Now()}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tickMsg:
		return m, tea.Batch(cmdRefresh(m.store), tick())

	case refreshMsg:
		m.at = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.pending = msg.pending
			m.active = msg.active
		}
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	clock := ""
	if !m.at.IsZero() {
		clock = m.at.Format("15:04:05")
	}
	title := m.theme.Title.Render("precord monitor")
	gap := m.width - lipgloss.Width(title) - lipgloss.Width(clock)
	if gap < 1 {
		gap = 1
	}
	b.WriteString(title + strings.Repeat(" ", gap) + m.theme.Clock.Render(clock) + "\n\n")

	if m.err != nil {
		b.WriteString(m.theme.Error.Render("refresh failed: "+m.err.Error()) + "\n\n")
	}

	b.WriteString(m.theme.Heading.Render(fmt.Sprintf("Pending (%d)", len(m.pending))) + "\n")
	b.WriteString(m.theme.Card.Render(m.pendingTable()) + "\n\n")

	b.WriteString(m.theme.Heading.Render(fmt.Sprintf("Active (%d)", len(m.active))) + "\n")
	b.WriteString(m.theme.Card.Render(m.activeTable()) + "\n\n")

	b.WriteString(m.theme.Help.Render("q quit") + "\n")
	return b.String()
}

func (m model) pendingTable() string {
	if len(m.pending) == 0 {
		return m.theme.Help.Render("no pending registrations")
	}

	var b strings.Builder
	b.WriteString(m.theme.Header.Render(fmt.Sprintf("%-8s %4s  %-20s %6s  %s", "ORDER", "POS", "NICKNAME", "ROLES", "CREATED")))
	for _, p := range m.pending {
		nick := ""
		if p.Nickname != nil {
			nick = *p.Nickname
		}
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%-8s %4d  %-20s %6d  %s",
			p.OrderCode, p.Position, truncate(nick, 20), len(p.Roles), p.Created.Local().Format("15:04:05")))
	}
	return b.String()
}

func (m model) activeTable() string {
	if len(m.active) == 0 {
		return m.theme.Help.Render("no active registrations")
	}

	var b strings.Builder
	b.WriteString(m.theme.Header.Render(fmt.Sprintf("%-8s %4s  %-20s %-20s %s", "ORDER", "POS", "NICKNAME", "USER", "CREATED")))
	for _, a := range m.active {
		nick := ""
		if a.Nickname != nil {
			nick = *a.Nickname
		}
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%-8s %4d  %-20s %-20s %s",
			a.OrderCode, a.Position, truncate(nick, 20), a.UserID, a.Created.Local().Format("15:04:05")))
	}
	return b.String()
}

// truncate shortens s to at most n runes. Nicknames can be multibyte, so
// slicing bytes would cut mid-rune.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
