// Package ui is the terminal presentation adapter: it renders a controller
// snapshot and turns key presses into Send, Retry and DismissError calls.
package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/session"
)

const placeholder = "Ask something... (Enter to send, Alt+Enter for newline, Ctrl+C to quit)"

// Controller is what the model drives. *session.Controller implements it.
type Controller interface {
	Send(ctx context.Context, text string) error
	Retry(ctx context.Context) error
	DismissError()
	Snapshot() session.State
}

// attemptDoneMsg reports that a Send or Retry call returned.
type attemptDoneMsg struct {
	err error
}

// dismissedMsg reports that DismissError returned.
type dismissedMsg struct{}

type copiedMsg struct {
	requestID string
	err       error
}

type Model struct {
	ctx        context.Context
	controller Controller

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	markdown bool
	styles   Styles
	copy     func(string) error

	state   session.State
	status  string
	width   int
	height  int
	ready   bool
	running bool
}

type Option func(*Model)

// WithMarkdown toggles glamour rendering of assistant replies.
func WithMarkdown(enabled bool) Option {
	return func(m *Model) { m.markdown = enabled }
}

func WithStyles(s Styles) Option {
	return func(m *Model) { m.styles = s }
}

// WithClipboard replaces the system clipboard writer.
func WithClipboard(f func(string) error) Option {
	return func(m *Model) { m.copy = f }
}

func NewModel(ctx context.Context, c Controller, options ...Option) Model {
	ta := textarea.New()
	ta.Placeholder = placeholder
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctx:        ctx,
		controller: c,
		textarea:   ta,
		viewport:   viewport.New(80, 20),
		spinner:    sp,
		markdown:   true,
		styles:     DefaultStyles(),
		copy:       clipboard.WriteAll,
		state:      c.Snapshot(),
	}
	for _, opt := range options {
		opt(&m)
	}
	m.spinner.Style = m.styles.Status
	m.setRenderer(80)
	m.viewport.SetContent(m.renderTranscript())
	return m
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "ctrl+r":
			return m.retry()
		case "esc":
			return m, m.dismiss()
		case "ctrl+y":
			return m, m.copyRequestID()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case EventMsg:
		m.refresh()
		if msg.Event.Type == session.EventAttemptStarted {
			return m, m.spinner.Tick
		}
		return m, nil

	case attemptDoneMsg:
		m.running = false
		if msg.err != nil {
			m.status = msg.err.Error()
		}
		m.refresh()
		return m, nil

	case dismissedMsg:
		m.refresh()
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			m.status = "copy failed: " + msg.err.Error()
		} else {
			m.status = "copied request id " + msg.requestID
		}
		return m, nil

	case spinner.TickMsg:
		if m.busy() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.busy() {
		return m, nil
	}
	text := m.textarea.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}
	m.textarea.Reset()
	m.status = ""
	m.running = true

	ctx, c := m.ctx, m.controller
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		return attemptDoneMsg{err: c.Send(ctx, text)}
	})
}

func (m Model) retry() (tea.Model, tea.Cmd) {
	if m.busy() || !m.state.CanRetry() {
		return m, nil
	}
	m.status = ""
	m.running = true

	ctx, c := m.ctx, m.controller
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		return attemptDoneMsg{err: c.Retry(ctx)}
	})
}

// dismiss runs DismissError off the event loop: the controller publishes
// error.dismissed synchronously and the forwarder hands it back to this loop.
func (m Model) dismiss() tea.Cmd {
	if m.state.Phase != session.PhaseError || m.running {
		return nil
	}
	c := m.controller
	return func() tea.Msg {
		c.DismissError()
		return dismissedMsg{}
	}
}

func (m Model) copyRequestID() tea.Cmd {
	id := m.state.RequestID
	if id == "" {
		return nil
	}
	write := m.copy
	return func() tea.Msg {
		return copiedMsg{requestID: id, err: errors.Wrap(write(id), "clipboard")}
	}
}

func (m Model) busy() bool {
	return m.running || m.state.IsBusy()
}

func (m *Model) refresh() {
	m.state = m.controller.Snapshot()
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	chatWidth := width - 2
	if chatWidth < 10 {
		chatWidth = 10
	}
	inputHeight := m.textarea.Height() + 2
	// header, error notice, status line
	chrome := 1 + 4 + 1
	vpHeight := height - inputHeight - chrome
	if vpHeight < 3 {
		vpHeight = 3
	}

	if !m.ready {
		m.viewport = viewport.New(chatWidth, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = chatWidth
		m.viewport.Height = vpHeight
	}
	m.textarea.SetWidth(chatWidth - 4)
	m.setRenderer(chatWidth - 4)
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *Model) setRenderer(wrap int) {
	if !m.markdown {
		m.renderer = nil
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		log.Warn().Err(err).Msg("markdown renderer unavailable, falling back to plain text")
		m.renderer = nil
		return
	}
	m.renderer = r
}

func (m Model) renderTranscript() string {
	if len(m.state.Messages) == 0 {
		return m.styles.Muted.Render("No messages yet.")
	}

	var b strings.Builder
	last := len(m.state.Messages) - 1
	for i, msg := range m.state.Messages {
		switch msg.Role {
		case chat.RoleUser:
			b.WriteString(m.styles.User.Render("You"))
			b.WriteString("\n")
			b.WriteString(msg.Content)
			b.WriteString("\n\n")
		case chat.RoleAssistant:
			b.WriteString(m.styles.Assistant.Render("Assistant"))
			b.WriteString("\n")
			streaming := i == last && m.state.IsBusy()
			switch {
			case msg.Content == "" && streaming:
				b.WriteString(m.styles.Muted.Render("..."))
			case streaming || m.renderer == nil:
				b.WriteString(msg.Content)
			default:
				b.WriteString(m.renderMarkdown(msg.Content))
			}
			b.WriteString("\n")
			for j, src := range msg.Sources {
				b.WriteString(m.styles.Source.Render(fmt.Sprintf("  [%d] %s", j+1, sourceLabel(src))))
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderMarkdown(s string) string {
	out, err := m.renderer.Render(s)
	if err != nil {
		return s
	}
	return strings.Trim(out, "\n")
}

func sourceLabel(c chat.Citation) string {
	for _, k := range []string{"source", "title", "url"} {
		if v, ok := c.Metadata[k]; ok {
			return fmt.Sprint(v)
		}
	}
	content := []rune(strings.Join(strings.Fields(c.Content), " "))
	if len(content) > 60 {
		return string(content[:60]) + "..."
	}
	return string(content)
}

func (m Model) View() string {
	header := m.styles.Header.Render("chatstream")
	if m.state.SessionID != "" {
		header += m.styles.Muted.Render("  session " + m.state.SessionID)
	}

	parts := []string{header, m.viewport.View()}
	if notice := m.renderErrorNotice(); notice != "" {
		parts = append(parts, notice)
	}

	status := m.status
	if m.busy() {
		status = m.spinner.View() + " waiting for reply"
	}
	parts = append(parts,
		m.styles.Status.Render(status),
		m.styles.Input.Render(m.textarea.View()),
	)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderErrorNotice() string {
	if m.state.Phase != session.PhaseError || m.state.LastError == "" {
		return ""
	}
	lines := []string{m.styles.Error.Render("Error: ") + m.state.LastError}
	if m.state.RequestID != "" {
		lines = append(lines, m.styles.Muted.Render("request id: "+m.state.RequestID))
	}
	lines = append(lines, m.styles.Muted.Render("ctrl+r retry · esc dismiss · ctrl+y copy request id"))

	box := m.styles.ErrorBox
	if m.viewport.Width > 0 {
		box = box.Width(m.viewport.Width - 2)
	}
	return box.Render(strings.Join(lines, "\n"))
}
