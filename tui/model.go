// Package tui is a terminal front end for DocumentGPT.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fabfab/fullstack-gpt/chat"
)

// Stream yields answer tokens until io.EOF.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// ChatPort is the TUI-facing subset of the DocumentGPT service.
type ChatPort interface {
	Ask(ctx context.Context, question string) (Stream, error)
	History() []chat.DisplayMessage
}

// SessionPort binds a chat.Service to one session.
type SessionPort struct {
	Service *chat.Service
	Session *chat.Session
}

func (p SessionPort) Ask(ctx context.Context, question string) (Stream, error) {
	stream, err := p.Service.Ask(ctx, p.Session, question)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (p SessionPort) History() []chat.DisplayMessage {
	return p.Session.Messages()
}

type tokenMsg struct {
	stream Stream
	token  string
}

type doneMsg struct {
	stream Stream
}

type errMsg struct {
	stream Stream
	err    error
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	port     ChatPort
	title    string
	input    textinput.Model
	viewport viewport.Model
	status   string
	ready    bool

	stream  Stream
	cancel  context.CancelFunc
	pending string
}

// New creates a chat model. greeting is shown above the history and never stored.
func New(port ChatPort, title, greeting string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask anything about your file..."
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{port: port, title: title, input: ti, viewport: vp, status: greeting}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := historyBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 2 + 1 + ih + 1
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.refresh()
		return m, nil
	case tokenMsg:
		if msg.stream != m.stream {
			return m, nil
		}
		m.pending += msg.token
		m.refresh()
		return m, waitForToken(m.stream)
	case doneMsg:
		if msg.stream != m.stream {
			return m, nil
		}
		m.finish()
		m.status = "Ask another question."
		m.refresh()
		return m, nil
	case errMsg:
		if msg.stream != m.stream {
			return m, nil
		}
		m.finish()
		m.status = "Error: " + msg.err.Error()
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.drop()
			return m, tea.Quit
		case tea.KeyEsc:
			if m.stream != nil {
				m.drop()
				m.status = "Answer cancelled."
				m.refresh()
			}
			return m, nil
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.stream != nil {
				return m, nil
			}
			ctx, cancel := context.WithCancel(context.Background())
			stream, err := m.port.Ask(ctx, q)
			if err != nil {
				cancel()
				m.status = "Error: " + err.Error()
				return m, nil
			}
			m.stream = stream
			m.cancel = cancel
			m.pending = ""
			m.input.SetValue("")
			m.status = "Thinking..."
			m.refresh()
			return m, waitForToken(stream)
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render(m.title)
	hint := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("Enter to send, Esc to stop the answer, Ctrl+C to quit")
	history := historyBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + hint + "\n" + history + "\n" + input + "\n" + status
}

func waitForToken(stream Stream) tea.Cmd {
	return func() tea.Msg {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return doneMsg{stream: stream}
		}
		if err != nil {
			return errMsg{stream: stream, err: err}
		}
		return tokenMsg{stream: stream, token: token}
	}
}

// drop closes the stream without keeping the partial answer.
func (m *Model) drop() {
	if m.stream != nil {
		m.stream.Close()
	}
	m.finish()
}

func (m *Model) finish() {
	if m.cancel != nil {
		m.cancel()
	}
	m.stream = nil
	m.cancel = nil
	m.pending = ""
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.render())
	m.viewport.GotoBottom()
}

func (m Model) render() string {
	var sb strings.Builder
	for _, msg := range m.port.History() {
		sb.WriteString(renderMessage(msg.Role, msg.Message))
		sb.WriteString("\n\n")
	}
	if m.stream != nil {
		sb.WriteString(renderMessage(chat.RoleAI, m.pending+"▌"))
	}
	return sb.String()
}

func renderMessage(role, text string) string {
	label := humanStyle.Render("you")
	if role == chat.RoleAI {
		label = aiStyle.Render("ai")
	}
	return fmt.Sprintf("%s  %s", label, text)
}

var (
	historyBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	humanStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	aiStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)
