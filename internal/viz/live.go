// Package viz renders sampled trajectories in the terminal, either as a
// static plot or as an interactive playback TUI.
package viz

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/mkrein/genflow/internal/store"
)

const (
	chartWidth  = 60
	chartHeight = 10
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color("240")).Padding(1, 2)
)

type TickMsg time.Time

// Model plays a precomputed trajectory back one time point per frame.
type Model struct {
	run      *store.Run
	title    string
	norms    []float64
	playHead int
	running  bool
	speed    int
	selected int
	showHelp bool
}

func NewModel(title string, run *store.Run) Model {
	norms := make([]float64, len(run.Rows))
	for i, row := range run.Rows {
		var sq float64
		for _, v := range row {
			sq += v * v
		}
		norms[i] = math.Sqrt(sq)
	}
	return Model{
		run:     run,
		title:   title,
		norms:   norms,
		running: true,
		speed:   1,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Tick(time.Second/30, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.running = !m.running
		case "r":
			m.playHead = 0
			m.running = true
		case "[":
			m.scrub(-1)
		case "]":
			m.scrub(1)
		case "tab":
			if len(m.run.Columns) > 0 {
				m.selected = (m.selected + 1) % len(m.run.Columns)
			}
		case "+", "=":
			if m.speed < 16 {
				m.speed *= 2
			}
		case "-", "_":
			if m.speed > 1 {
				m.speed /= 2
			}
		case "?":
			m.showHelp = !m.showHelp
		}
	case TickMsg:
		if m.running {
			m.playHead += m.speed
			if m.playHead >= len(m.run.Rows) {
				m.playHead = len(m.run.Rows) - 1
				m.running = false
			}
		}
		return m, tea.Tick(time.Second/30, func(t time.Time) tea.Msg { return TickMsg(t) })
	}
	return m, nil
}

func (m *Model) scrub(dir int) {
	m.running = false
	m.playHead += dir
	if m.playHead < 0 {
		m.playHead = 0
	}
	if m.playHead >= len(m.run.Rows) {
		m.playHead = len(m.run.Rows) - 1
	}
}

func (m Model) View() string {
	if len(m.run.Rows) == 0 {
		return headerStyle.Render(m.title) + "\n(empty trajectory)\n"
	}

	var s strings.Builder
	s.WriteString(headerStyle.Render(strings.ToUpper(m.title)) + "\n")

	status := "PLAYING"
	if !m.running {
		status = "PAUSED"
	}
	s.WriteString(fmt.Sprintf("%s  step %d/%d  speed x%d\n", status, m.playHead+1, len(m.run.Rows), m.speed))
	s.WriteString(ProgressBar(float64(m.playHead+1)/float64(len(m.run.Rows)), chartWidth) + "\n")

	if m.playHead >= 1 && m.selected < len(m.run.Columns) {
		series := make([]float64, m.playHead+1)
		for i := range series {
			series[i] = m.run.Rows[i][m.selected]
		}
		chart := asciigraph.Plot(series,
			asciigraph.Height(chartHeight),
			asciigraph.Width(chartWidth),
			asciigraph.Caption(m.run.Columns[m.selected]))
		s.WriteString(graphStyle.Render(chart) + "\n\n")
	}

	s.WriteString(labelStyle.Render("Time") + valueStyle.Render(fmt.Sprintf("%.4f", m.run.Times[m.playHead])) + "\n")
	s.WriteString(labelStyle.Render("Norm") + valueStyle.Render(fmt.Sprintf("%.4f", m.norms[m.playHead])) + "\n")
	s.WriteString(labelStyle.Render("Norm history") + SparklineChart(m.norms[:m.playHead+1], chartWidth-14) + "\n")

	s.WriteString("\nCOMPONENTS\n")
	row := m.run.Rows[m.playHead]
	for i, name := range m.run.Columns {
		line := fmt.Sprintf("%-14s %+.4f", name, row[i])
		if i == m.selected {
			s.WriteString(activeStyle.Render("> "+line) + "\n")
		} else {
			s.WriteString("  " + valueStyle.Render(line) + "\n")
		}
	}

	s.WriteString(helpStyle.Render("SP:Pause R:Restart Q:Quit Tab:Component [ ]:Scrub +/-:Speed ?:Help"))

	view := panelStyle.Render(s.String())
	if m.showHelp {
		return helpText + "\n" + view
	}
	return view
}

const helpText = `
╔══════════════════════════════════════╗
║          KEYBOARD SHORTCUTS          ║
╠══════════════════════════════════════╣
║  Space    - Pause/Resume playback    ║
║  R        - Restart from the top     ║
║  Q        - Quit                     ║
║  Tab      - Cycle plotted component  ║
║  [        - Step backward            ║
║  ]        - Step forward             ║
║  + / -    - Playback speed           ║
║  ?        - Toggle this help         ║
╚══════════════════════════════════════╝`

// Run starts the playback TUI and blocks until the user quits.
func Run(title string, run *store.Run) error {
	p := tea.NewProgram(NewModel(title, run))
	_, err := p.Run()
	return err
}
