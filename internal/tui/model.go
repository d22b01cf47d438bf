package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rag-chatbot/internal/models"
)

// Asker is the TUI-facing subset of rag.Chat.
type Asker interface {
	Ask(ctx context.Context, sessionID, question string) (models.PromptResponse, error)
}

type entry struct {
	question string
	resp     models.PromptResponse
	err      error
}

type answerMsg struct {
	entry
}

// Model is the Bubble Tea model of the chat screen.
type Model struct {
	ctx         context.Context
	chat        Asker
	sessionID   string
	showSources bool

	input    textinput.Model
	viewport viewport.Model
	entries  []entry
	pending  string
	status   string
	ready    bool
}

func New(ctx context.Context, chat Asker, sessionID string, showSources bool) Model {
	ti := textinput.New()
	ti.Prompt = "You: "
	ti.Placeholder = "Ask a question, or type exit"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		ctx:         ctx,
		chat:        chat,
		sessionID:   sessionID,
		showSources: showSources,
		input:       ti,
		viewport:    viewport.New(0, 0),
		status:      "Session " + sessionID,
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		// header, status and the input line
		reserved := 3 + ih + bh
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.refresh()
		return m, nil
	case answerMsg:
		m.pending = ""
		m.entries = append(m.entries, msg.entry)
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("Answered from %d sources", len(msg.resp.Sources))
		}
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			q := strings.TrimSpace(m.input.Value())
			if strings.EqualFold(q, models.ExitCommand) {
				return m, tea.Quit
			}
			if q == "" || m.pending != "" {
				return m, nil
			}
			m.input.Reset()
			m.pending = q
			m.status = "Thinking..."
			m.refresh()
			return m, m.ask(q)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.chat.Ask(m.ctx, m.sessionID, question)
		return answerMsg{entry{question: question, resp: resp, err: err}}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m Model) transcript() string {
	if len(m.entries) == 0 && m.pending == "" {
		return "No questions yet."
	}
	var b strings.Builder
	for _, e := range m.entries {
		b.WriteString(userStyle.Render("You: ") + e.question + "\n")
		if e.err != nil {
			b.WriteString(errorStyle.Render("Error: "+e.err.Error()) + "\n\n")
			continue
		}
		b.WriteString(botStyle.Render("Bot: ") + e.resp.Content + "\n")
		if m.showSources {
			for _, s := range e.resp.Sources {
				b.WriteString(sourceStyle.Render(fmt.Sprintf("  [%s #%d score=%.3f]", s.Source, s.Index, s.Score)) + "\n")
			}
		}
		b.WriteString("\n")
	}
	if m.pending != "" {
		b.WriteString(userStyle.Render("You: ") + m.pending + "\n")
	}
	return b.String()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("RAG Chatbot")
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + transcriptStyle.Render(m.viewport.View()) + "\n" + inputStyle.Render(m.input.View()) + "\n" + status
}

var (
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)
