// Package progresstui renders a task's event stream as a terminal
// progress display, generalized from the teacher's single-file
// download TUI to the engine's task/event model.
package progresstui

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/m3u8dl/engine/internal/engine"
)

var (
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	doneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// eventMsg wraps an engine.Event so it can travel through bubbletea's
// message loop.
type eventMsg engine.Event

// waitForEvent returns a tea.Cmd that blocks on the next event from
// ch, translating channel close into a terminal message.
func waitForEvent(ch <-chan engine.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return eventMsg{Kind: engine.EventMergeVideo, IsMerged: true}
		}
		return eventMsg(e)
	}
}

// Model is the bubbletea model driving one task's progress display.
type Model struct {
	progress progress.Model
	spinner  spinner.Model

	name   string
	events <-chan engine.Event

	done       bool
	merged     bool
	outputFile string
	err        error
	startedAt  time.Time

	doneCount, totalCount int
	speed                 string
}

// New builds a Model that renders events published on task's bus.
func New(name string, task *engine.Task) Model {
	p := progress.New(progress.WithDefaultGradient(), progress.WithWidth(50))
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		progress:  p,
		spinner:   s,
		name:      name,
		events:    task.Bus.Subscribe(),
		startedAt: time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		p, cmd := m.progress.Update(msg)
		m.progress = p.(progress.Model)
		return m, cmd

	case eventMsg:
		switch engine.EventKind(msg.Kind) {
		case engine.EventDownloadProgress:
			m.doneCount = msg.DoneCount
			m.totalCount = msg.TotalCount
			m.speed = msg.Speed
			if msg.Status == engine.StatusCancelled || msg.Status == engine.StatusMuxFailed {
				m.done = true
				m.err = msg.Err
				return m, tea.Quit
			}
			if m.totalCount > 0 {
				cmd := m.progress.SetPercent(float64(m.doneCount) / float64(m.totalCount))
				return m, tea.Batch(cmd, waitForEvent(m.events))
			}
			return m, waitForEvent(m.events)

		case engine.EventMergeVideo:
			m.done = true
			m.merged = msg.IsMerged
			m.outputFile = msg.File
			m.err = msg.Err
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)
	}

	return m, nil
}

func (m Model) View() string {
	if m.done {
		if m.err != nil {
			return fmt.Sprintf("\n  %s failed: %v\n\n", errStyle.Render("✗"), m.err)
		}
		if m.merged {
			path := m.outputFile
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
			elapsed := time.Since(m.startedAt).Round(time.Second)
			return fmt.Sprintf("\n  %s muxed\n  file: %s\n  elapsed: %s\n\n", doneStyle.Render("✓"), path, elapsed)
		}
		return fmt.Sprintf("\n  %s cancelled\n\n", errStyle.Render("✗"))
	}

	var s string
	s += "\n"
	s += fmt.Sprintf("  %s downloading: %s\n\n", m.spinner.View(), infoStyle.Render(m.name))
	s += fmt.Sprintf("  %s\n\n", m.progress.View())
	if m.totalCount > 0 {
		s += fmt.Sprintf("  %d/%d segments  |  %s\n", m.doneCount, m.totalCount, m.speed)
	}
	s += "\n"
	s += helpStyle.Render("  Press q to cancel")
	s += "\n"
	return s
}

// Run drives the progress TUI for task to completion (or cancel).
func Run(name string, task *engine.Task) error {
	_, err := tea.NewProgram(New(name, task)).Run()
	return err
}
