package main

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	orchestration "github.com/koscakluka/ema-desk/core"
	"github.com/koscakluka/ema-desk/core/config"
	"github.com/koscakluka/ema-desk/core/events"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).Italic(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	dictationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#FF5F87")).Padding(0, 1)
	idleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#7D56F4")).Padding(0, 1)
)

// session is the part of the orchestrator the console drives.
type session interface {
	SendPrompt(ctx context.Context, text string) orchestration.RouteOutcome
	CancelTurn()
	DictationMode() orchestration.DictationMode
	VoiceDegraded() bool
}

// TUI is the interactive console. Typed lines are routed like speech and
// every session event is rendered as it arrives.
type TUI struct {
	program atomic.Pointer[tea.Program]
	model   Model
}

func NewTUI(cfg *config.Config) *TUI {
	return &TUI{model: NewModel(cfg)}
}

// Attach connects the console to the session it drives. Call it before Run.
func (t *TUI) Attach(s session) {
	t.model.session = s
	t.model.mode = s.DictationMode()
}

// SendNotice shows a line from the application itself. Before Run it is
// queued on the model.
func (t *TUI) SendNotice(text string) {
	if program := t.program.Load(); program != nil {
		program.Send(noticeMsg{Text: text})
		return
	}
	t.model.entries = append(t.model.entries, entry{kind: entryNotice, text: text})
}

// SendEvent forwards a session event to the console. Events that arrive
// before Run are dropped.
func (t *TUI) SendEvent(event events.Event) {
	if program := t.program.Load(); program != nil {
		program.Send(eventMsg{Event: event})
	}
}

// Run shows the console and blocks until the user leaves or ctx is done.
func (t *TUI) Run(ctx context.Context) error {
	t.model.ctx = ctx
	program := tea.NewProgram(t.model, tea.WithAltScreen(), tea.WithContext(ctx))
	t.program.Store(program)

	go func() {
		<-ctx.Done()
		program.Quit()
	}()

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

type eventMsg struct{ Event events.Event }

type noticeMsg struct{ Text string }

type promptRoutedMsg struct{ Outcome orchestration.RouteOutcome }

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryTool
	entryNotice
)

type entry struct {
	kind   entryKind
	turnID string
	text   string
}

type Model struct {
	ctx     context.Context
	session session

	input    textinput.Model
	viewport viewport.Model
	entries  []entry
	mode     orchestration.DictationMode
	speaking bool
	degraded bool
	voice    bool

	width  int
	height int
	ready  bool
}

func NewModel(cfg *config.Config) Model {
	input := textinput.New()
	input.Placeholder = "Type a message, or say something..."
	input.Focus()
	input.CharLimit = 2000

	return Model{
		ctx:      context.Background(),
		input:    input,
		viewport: viewport.New(80, 20),
		voice:    cfg.SpeechInputEnabled,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m = m.updateDimensions()
		m.ready = true

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEsc:
			if m.session != nil {
				m.session.CancelTurn()
			}
			return m, nil
		case tea.KeyEnter:
			return m.handleSend()
		}

	case eventMsg:
		var quit bool
		m, quit = m.applyEvent(msg.Event)
		if quit {
			return m, tea.Quit
		}

	case noticeMsg:
		m.entries = append(m.entries, entry{kind: entryNotice, text: msg.Text})

	case promptRoutedMsg:
		if msg.Outcome == orchestration.RouteIgnored {
			m.entries = append(m.entries, entry{kind: entryNotice, text: "(ignored)"})
		}
	}

	if m.session != nil {
		m.mode = m.session.DictationMode()
		m.degraded = m.session.VoiceDegraded()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport.SetContent(m.renderChat())
	m.viewport.GotoBottom()

	return m, tea.Batch(cmds...)
}

func (m Model) handleSend() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.session == nil {
		return m, nil
	}
	m.input.Reset()

	// routing blocks for the whole turn
	s, ctx := m.session, m.ctx
	return m, func() tea.Msg {
		return promptRoutedMsg{Outcome: s.SendPrompt(ctx, text)}
	}
}

func (m Model) applyEvent(event events.Event) (Model, bool) {
	switch e := event.(type) {
	case events.TranscriptionFinal:
		text := e.Transcript
		if !e.Typed {
			text += statusStyle.Render("  (voice)")
		}
		m.entries = append(m.entries, entry{kind: entryUser, text: text})

	case events.TextDelta:
		if last := len(m.entries) - 1; last >= 0 && m.entries[last].kind == entryAssistant && m.entries[last].turnID == e.TurnID {
			m.entries[last].text += e.Text
		} else {
			m.entries = append(m.entries, entry{kind: entryAssistant, turnID: e.TurnID, text: e.Text})
		}
		m.speaking = true

	case events.ToolCallStarted:
		m.entries = append(m.entries, entry{kind: entryTool, text: "running " + e.Name})
	case events.ToolCallFailed:
		m.entries = append(m.entries, entry{kind: entryTool, text: e.Name + " failed"})

	case events.TurnStatusChanged:
		if !e.IsTerminal() {
			break
		}
		m.speaking = false
		switch e.Status {
		case "cancelled":
			m.entries = append(m.entries, entry{kind: entryNotice, text: "(interrupted)"})
		case "failed":
			if e.Message != "" {
				m.entries = append(m.entries, entry{kind: entryAssistant, turnID: e.TurnID, text: e.Message})
			}
		}

	case events.DictationModeChanged:
		if e.Mode == orchestration.DictationDictating.String() {
			m.mode = orchestration.DictationDictating
		} else {
			m.mode = orchestration.DictationIdle
		}

	case events.Acknowledgement:
		m.entries = append(m.entries, entry{kind: entryAssistant, text: e.Text})

	case events.SessionEnded:
		return m, true
	}
	return m, false
}

func (m Model) updateDimensions() Model {
	headerHeight := 2
	footerHeight := 3

	m.viewport.Width = m.width - 2
	m.viewport.Height = max(m.height-headerHeight-footerHeight, 1)
	m.input.Width = m.width - 4
	return m
}

func (m Model) renderChat() string {
	width := max(m.viewport.Width-2, 20)

	var b strings.Builder
	for _, e := range m.entries {
		switch e.kind {
		case entryUser:
			b.WriteString(userStyle.Render("You: "))
			b.WriteString(wordwrap.String(e.text, width))
		case entryAssistant:
			b.WriteString(assistantStyle.Render("Ema: "))
			b.WriteString(wordwrap.String(e.text, width))
		case entryTool:
			b.WriteString(toolStyle.Render(wordwrap.String(e.text, width)))
		case entryNotice:
			b.WriteString(wordwrap.String(e.text, width))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) View() string {
	if !m.ready {
		return "Starting..."
	}

	var status string
	if m.mode == orchestration.DictationDictating {
		status = dictationStyle.Render("VOICE TYPING")
	} else {
		status = idleStyle.Render("CONVERSATION")
	}
	switch {
	case !m.voice:
		status += statusStyle.Render("  text only")
	case m.degraded:
		status += statusStyle.Render("  microphone unavailable")
	}
	if m.speaking {
		status += statusStyle.Render("  replying, esc to interrupt")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Ema")+"  "+status,
		m.viewport.View(),
		m.input.View(),
		statusStyle.Render("enter send · esc interrupt · ctrl+c quit"),
	)
}
