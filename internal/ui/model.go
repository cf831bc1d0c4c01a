// ABOUTME: Bubbletea model for the task progress view
// ABOUTME: Polls task handles on a tick and renders one progress bar per task
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/transcode"
)

const (
	refreshInterval = 100 * time.Millisecond
	barWidth        = 30
	labelWidth      = 28
)

// Tracked is the part of a task handle the view reads.
type Tracked interface {
	ID() uuid.UUID
	Kind() transcode.Kind
	State() transcode.State
	Progress() transcode.Progress
	Result() (transcode.Result, bool)
	Cancel()
}

// Item is one task shown in the view.
type Item struct {
	Label string
	Task  Tracked
	// SampleRate converts frames to time for tasks without a known total.
	SampleRate int
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	pendingStyle = lipgloss.NewStyle().Faint(true)
	helpStyle    = lipgloss.NewStyle().Faint(true)
)

// Model represents the progress view state
type Model struct {
	title     string
	items     []Item
	started   time.Time
	now       time.Time
	quitting  bool
	cancelled bool

	width int
}

// NewModel creates a progress model for items.
func NewModel(title string, items []Item) Model {
	now := time.Now()
	return Model{title: title, items: items, started: now, now: now}
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the refresh tick
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			for _, it := range m.items {
				it.Task.Cancel()
			}
			m.cancelled = true
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		m.now = time.Time(msg)
		if m.allDone() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, tick()
	}
	return m, nil
}

// Cancelled reports whether the user aborted the tasks.
func (m Model) Cancelled() bool {
	return m.cancelled
}

func (m Model) allDone() bool {
	for _, it := range m.items {
		if !it.Task.State().Terminal() {
			return false
		}
	}
	return true
}

// View renders the progress view
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")

	for _, it := range m.items {
		b.WriteString(m.renderItem(it))
		b.WriteString("\n")
	}

	elapsed := m.now.Sub(m.started).Round(time.Second)
	b.WriteString("\n")
	if m.quitting {
		b.WriteString(helpStyle.Render(fmt.Sprintf("Finished in %s", elapsed)))
	} else {
		b.WriteString(helpStyle.Render(fmt.Sprintf("Elapsed %s  ·  q: cancel", elapsed)))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderItem(it Item) string {
	label := labelStyle.Render(fmt.Sprintf("%-*s", labelWidth, truncate(it.Label, labelWidth)))
	state := it.Task.State()
	p := it.Task.Progress()

	var status string
	switch state {
	case transcode.Pending:
		status = pendingStyle.Render("queued")
	case transcode.Succeeded:
		status = doneStyle.Render("done")
		if res, ok := it.Task.Result(); ok && res.Partial {
			status = doneStyle.Render("done (partial)")
		}
	case transcode.Failed, transcode.Cancelled:
		status = failStyle.Render(state.String())
		if res, ok := it.Task.Result(); ok && res.Err != nil {
			status = failStyle.Render(fmt.Sprintf("%s: %s", state, audio.KindOf(res.Err)))
		}
	default:
		status = m.renderRunning(it, p)
	}

	bar := renderBar(p.Fraction(), barWidth)
	if state == transcode.Succeeded {
		bar = renderBar(1, barWidth)
	}
	return fmt.Sprintf("%s %-9s [%s] %s", label, it.Task.Kind(), bar, status)
}

func (m Model) renderRunning(it Item, p transcode.Progress) string {
	if f := p.Fraction(); f >= 0 {
		return fmt.Sprintf("%3.0f%%", f*100)
	}
	if it.SampleRate > 0 {
		return audio.FormatDuration(p.FramesProcessed / int64(it.SampleRate))
	}
	return fmt.Sprintf("%d frames", p.FramesProcessed)
}

// renderBar draws fraction of width; a negative fraction means unknown.
func renderBar(fraction float64, width int) string {
	if fraction < 0 {
		return strings.Repeat("·", width)
	}
	filled := int(fraction * float64(width))
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	return string(r[:length-3]) + "..."
}
