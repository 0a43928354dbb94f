// Package tui renders a live terminal view of a running simulation: an
// energy trace plus step/force/temperature readouts.
package tui

import (
	"fmt"
	"strings"

	"github.com/atomflow/atomflow/internal/stream"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

const historyLen = 120

// Model is the bubbletea model for the watch view. Frames arrive on a
// channel fed by a stream sink; onQuit cancels the run when the user bails
// out early.
type Model struct {
	frames <-chan *stream.Frame
	onQuit func()

	title   string
	step    int
	energy  float64
	atoms   int
	reason  string
	done    bool
	history []float64
	width   int
}

// NewModel builds a watch view reading from frames.
func NewModel(title string, frames <-chan *stream.Frame, onQuit func()) Model {
	return Model{
		title:   title,
		frames:  frames,
		onQuit:  onQuit,
		history: make([]float64, 0, historyLen),
		width:   72,
	}
}

type frameMsg *stream.Frame

type streamDoneMsg struct{}

func (m Model) waitFrame() tea.Cmd {
	return func() tea.Msg {
		f, ok := <-m.frames
		if !ok {
			return streamDoneMsg{}
		}
		return frameMsg(f)
	}
}

func (m Model) Init() tea.Cmd { return m.waitFrame() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.done && m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		if msg.Width > 20 {
			m.width = msg.Width
		}
	case frameMsg:
		m.step = msg.Step
		m.energy = msg.Energy
		m.atoms = len(msg.Symbols)
		m.history = append(m.history, msg.Energy)
		if len(m.history) > historyLen {
			m.history = m.history[1:]
		}
		if msg.Final {
			m.reason = msg.Reason
			m.done = true
		}
		return m, m.waitFrame()
	case streamDoneMsg:
		m.done = true
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("atomflow · "+m.title) + "\n\n")

	if len(m.history) > 1 {
		b.WriteString(asciigraph.Plot(m.history,
			asciigraph.Height(10),
			asciigraph.Width(min(m.width-12, 90)),
			asciigraph.Caption("potential energy (eV)"),
		))
		b.WriteString("\n\n")
	}

	row := func(label string, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-8s", label)))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	row("step", fmt.Sprintf("%d", m.step))
	row("energy", fmt.Sprintf("%.6f eV", m.energy))
	row("atoms", fmt.Sprintf("%d", m.atoms))

	if m.done {
		style := doneStyle
		if strings.HasPrefix(m.reason, "failed") {
			style = failedStyle
		}
		reason := m.reason
		if reason == "" {
			reason = "stream closed"
		}
		b.WriteString("\n" + style.Render("● "+reason) + "\n")
		b.WriteString(helpStyle.Render("press q to exit"))
	} else {
		b.WriteString("\n" + helpStyle.Render("q: cancel run and quit"))
	}
	return b.String()
}

// Run blocks until the view exits.
func Run(title string, frames <-chan *stream.Frame, onQuit func()) error {
	_, err := tea.NewProgram(NewModel(title, frames, onQuit)).Run()
	return err
}
