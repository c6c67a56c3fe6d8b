package progress

import (
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Styles, adapted from the teacher's internal/cli/ui/ui.go palette
// (headerStyle/progressStyle/errorStyle/infoStyle) down to the handful a
// flashing progress bar needs.
var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#60A5FA")).
			Bold(true)

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#34D399")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

type tuiMsg struct {
	kind  int // 0=log, 1=barStart, 2=barUpdate, 3=barDone
	text  string
	min   int
	max   int
	value int
}

const (
	msgLog = iota
	msgBarStart
	msgBarUpdate
	msgBarDone
)

type tuiModel struct {
	bar      progress.Model
	label    string
	min, max int
	active   bool
	lines    []string
}

func newTUIModel() tuiModel {
	return tuiModel{bar: progress.New(progress.WithDefaultGradient())}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case tuiMsg:
		switch v.kind {
		case msgLog:
			m.lines = append(m.lines, v.text)
			if len(m.lines) > 200 {
				m.lines = m.lines[len(m.lines)-200:]
			}
		case msgBarStart:
			m.label, m.min, m.max, m.active = v.text, v.min, v.max, true
		case msgBarUpdate:
			if m.active && m.max != m.min {
				frac := float64(v.value-m.min) / float64(m.max-m.min)
				if frac < 0 {
					frac = 0
				}
				if frac > 1 {
					frac = 1
				}
				cmd := m.bar.SetPercent(frac)
				return m, cmd
			}
		case msgBarDone:
			m.active = false
		}
	case progress.FrameMsg:
		newModel, cmd := m.bar.Update(v)
		m.bar = newModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m tuiModel) View() string {
	s := ""
	for _, l := range m.lines {
		s += l + "\n"
	}
	if m.active {
		s += labelStyle.Render(m.label) + " " + m.bar.View() + "\n"
	}
	return s
}

// TUI is a Sink that drives a Bubble Tea program showing live log lines and
// a progress bar, grounded on the teacher's internal/cli/ui/ui.go Bubble Tea
// Model/Update/View loop (adapted from a chat view to a flashing bargraph).
type TUI struct {
	mu      sync.Mutex
	program *tea.Program
}

// NewTUI starts the Bubble Tea program in the background. Callers must call
// Close when done to let the terminal program exit cleanly.
func NewTUI() *TUI {
	p := tea.NewProgram(newTUIModel())
	t := &TUI{program: p}
	go func() { _, _ = p.Run() }()
	return t
}

func (t *TUI) Close() {
	t.program.Quit()
}

func (t *TUI) send(m tuiMsg) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.program.Send(m)
}

func (t *TUI) Info(msg string)    { t.send(tuiMsg{kind: msgLog, text: msg}) }
func (t *TUI) Warning(msg string) { t.send(tuiMsg{kind: msgLog, text: warnStyle.Render("warning: " + msg)}) }
func (t *TUI) Error(msg string)   { t.send(tuiMsg{kind: msgLog, text: errStyle.Render("error: " + msg)}) }

func (t *TUI) BargraphStart(label string, min, max int) {
	t.send(tuiMsg{kind: msgBarStart, text: label, min: min, max: max})
}

func (t *TUI) BargraphUpdate(value int) {
	t.send(tuiMsg{kind: msgBarUpdate, value: value})
}

func (t *TUI) BargraphDone() {
	t.send(tuiMsg{kind: msgBarDone})
	t.send(tuiMsg{kind: msgLog, text: doneStyle.Render("done")})
}
