// ABOUTME: Ingest server dashboard showing connected clients and sessions
// ABOUTME: Real-time server status display using bubbletea
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/ingest"
)

// SnapshotFunc returns the current ingest server state.
type SnapshotFunc func() ingest.Snapshot

var (
	headerStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	clientHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
)

// dashboardModel is the bubbletea model for the ingest dashboard
type dashboardModel struct {
	source    SnapshotFunc
	status    ingest.Snapshot
	startTime time.Time
	now       time.Time
	quitting  bool
	quitChan  chan struct{}
}

type dashboardTickMsg time.Time

func newDashboardModel(source SnapshotFunc, quit chan struct{}) dashboardModel {
	now := time.Now()
	return dashboardModel{source: source, status: source(), startTime: now, now: now, quitChan: quit}
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return dashboardTickMsg(t)
	})
}

func (m dashboardModel) Init() tea.Cmd {
	return tickEvery()
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case dashboardTickMsg:
		m.now = time.Time(msg)
		m.status = m.source()
		return m, tickEvery()
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.quitting {
		return "Shutting down server...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Transcoder Ingest"))
	b.WriteString("\n\n")

	field := func(name, value string) {
		b.WriteString(headerStyle.Render(name + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	field("Server", m.status.Name)
	field("Port", fmt.Sprintf("%d", m.status.Port))
	if m.status.RTPPort > 0 {
		field("RTP", fmt.Sprintf("%d (%d sessions)", m.status.RTPPort, m.status.RTPSessions))
	}
	field("Uptime", m.now.Sub(m.startTime).Round(time.Second).String())
	b.WriteString("\n")

	b.WriteString(clientHeaderStyle.Render(fmt.Sprintf("Connected Clients (%d)", len(m.status.Clients))))
	b.WriteString("\n\n")

	if len(m.status.Clients) == 0 {
		b.WriteString(valueStyle.Render("  No clients connected"))
		b.WriteString("\n")
	} else {
		for _, c := range m.status.Clients {
			state := "idle"
			if c.Streaming {
				state = fmt.Sprintf("streaming %s, %d packets", shortID(c.Session), c.Packets)
			}
			b.WriteString(fmt.Sprintf("  • %s", c.Name))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s)", state)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
