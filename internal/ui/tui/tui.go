package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUI forwards status and log lines into a running program. It satisfies ui.UI.
type TUI struct {
	program *tea.Program
}

func NewTUI(p *tea.Program) *TUI {
	return &TUI{program: p}
}

func (t *TUI) UpdateStatus(status string) {
	t.program.Send(StatusMsg(status))
}

func (t *TUI) Log(msg string) {
	t.program.Send(LogMsg(msg))
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000"))

	userStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	novaStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
	noteStyle = lipgloss.NewStyle().Faint(true)
)

// Replier answers one message. It runs off the UI goroutine.
type Replier func(ctx context.Context, text string) (string, error)

type Model struct {
	Title      string
	Status     string
	Transcript []string
	Input      textinput.Model
	Viewport   viewport.Model
	Spinner    spinner.Model
	Waiting    bool
	Quitting   bool
	Ready      bool
	Width      int
	Height     int

	reply Replier
}

type LogMsg string
type StatusMsg string

// ReplyMsg carries the outcome of a Replier call back into the model.
type ReplyMsg struct {
	Text string
	Err  error
}

func NewModel(title string, reply Replier) Model {
	in := textinput.New()
	in.Placeholder = "Say something..."
	in.CharLimit = 4000
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		Title:   title,
		Status:  "idle",
		Input:   in,
		Spinner: sp,
		reply:   reply,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) send(text string) tea.Cmd {
	return func() tea.Msg {
		out, err := m.reply(context.Background(), text)
		return ReplyMsg{Text: out, Err: err}
	}
}

func (m *Model) appendLine(line string) {
	m.Transcript = append(m.Transcript, line)
	if m.Ready {
		m.Viewport.SetContent(strings.Join(m.Transcript, "\n"))
		m.Viewport.GotoBottom()
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.Quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.Input.Value())
			if text == "" || m.Waiting {
				return m, nil
			}
			m.Input.Reset()
			m.Waiting = true
			m.appendLine(userStyle.Render("You: ") + text)
			return m, tea.Batch(m.send(text), m.Spinner.Tick)
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		if !m.Ready {
			m.Viewport = viewport.New(msg.Width, msg.Height-4)
			m.Ready = true
			m.Viewport.SetContent(strings.Join(m.Transcript, "\n"))
		} else {
			m.Viewport.Width = msg.Width
			m.Viewport.Height = msg.Height - 4
		}
		m.Input.Width = msg.Width - 4

	case ReplyMsg:
		m.Waiting = false
		if msg.Err != nil {
			m.appendLine(errorStyle.Render("Error: " + msg.Err.Error()))
		} else {
			m.appendLine(novaStyle.Render("Nova: ") + msg.Text)
		}
		return m, nil

	case LogMsg:
		m.appendLine(noteStyle.Render(string(msg)))
		return m, nil

	case StatusMsg:
		m.Status = string(msg)
		return m, nil

	case spinner.TickMsg:
		if !m.Waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	cmds = append(cmds, cmd)
	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if !m.Ready {
		return "\n  Initializing..."
	}

	header := titleStyle.Render(" " + m.Title + " ")
	status := infoStyle.Render(fmt.Sprintf(" Status: %s ", m.Status))
	if m.Waiting {
		status = m.Spinner.View() + status
	}

	view := fmt.Sprintf("%s%s\n%s\n%s", header, status, m.Viewport.View(), m.Input.View())
	if m.Quitting {
		return view + "\n  Bye.\n"
	}
	return view
}
