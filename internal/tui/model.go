package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"policyrag/internal/domain"
)

// QueryPort is the TUI-facing subset of the service.
type QueryPort interface {
	Query(ctx context.Context, query string, history []domain.Message) (domain.QueryResult, error)
}

// answerMsg carries the result of one agent query back into the update loop.
type answerMsg struct {
	query  string
	result domain.QueryResult
	err    error
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	service  QueryPort
	input    textinput.Model
	viewport viewport.Model
	history  []domain.Message
	lines    []string
	status   string
	waiting  bool
	ready    bool
}

// New creates a new chat model instance.
func New(service QueryPort) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the policy documents and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{service: service, input: ti, viewport: vp, status: "Ready. Type a question."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, ch := chatBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header + status + input frame + spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-ch)
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		return m, nil

	case answerMsg:
		m.waiting = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.appendLine(errorStyle.Render("error: " + msg.err.Error()))
			return m, nil
		}
		m.history = append(m.history,
			domain.Message{Role: "user", Content: msg.query},
			domain.Message{Role: "assistant", Content: msg.result.Response},
		)
		m.appendLine(assistantStyle.Render("assistant: ") + msg.result.Response)
		if len(msg.result.Sources) > 0 {
			m.appendLine(sourceStyle.Render("sources: " + strings.Join(msg.result.Sources, ", ")))
		}
		m.appendLine("")
		m.status = "Ready."
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.String() == "enter" && !m.waiting {
			q := strings.TrimSpace(m.input.Value())
			if q != "" {
				m.input.SetValue("")
				m.waiting = true
				m.status = "Thinking..."
				m.appendLine(userStyle.Render("you: ") + q)
				history := m.history
				return m, func() tea.Msg {
					result, err := m.service.Query(context.Background(), q, history)
					return answerMsg{query: q, result: result, err: err}
				}
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the chat transcript, input box and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Policy Document Assistant")
	chat := chatBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + chat + "\n" + input + "\n" + status
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

var (
	chatBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
