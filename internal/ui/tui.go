// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea programs for task progress and the ingest dashboard
package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// RunProgress shows items until every task finishes or the user cancels.
// It reports whether the user cancelled.
func RunProgress(title string, items []Item, opts ...tea.ProgramOption) (bool, error) {
	p := tea.NewProgram(NewModel(title, items), opts...)
	final, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("progress view failed: %w", err)
	}
	m, ok := final.(Model)
	return ok && m.Cancelled(), nil
}

// DashboardTUI runs the ingest dashboard
type DashboardTUI struct {
	program  *tea.Program
	quitChan chan struct{}
}

// NewDashboardTUI creates a dashboard polling source.
func NewDashboardTUI(source SnapshotFunc, opts ...tea.ProgramOption) *DashboardTUI {
	t := &DashboardTUI{quitChan: make(chan struct{}, 1)}
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	t.program = tea.NewProgram(newDashboardModel(source, t.quitChan), opts...)
	return t
}

// Run blocks until the dashboard exits.
func (t *DashboardTUI) Run() error {
	_, err := t.program.Run()
	return err
}

// Stop stops the TUI
func (t *DashboardTUI) Stop() {
	t.program.Quit()
}

// QuitChan returns the channel that signals when user wants to quit
func (t *DashboardTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
