package ui

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/session"
	"github.com/go-go-golems/chatstream/pkg/transport"
)

type stubTransport struct {
	replies []func(cb transport.Callbacks) error
}

func (s *stubTransport) Open(_ context.Context, _ transport.Request, cb transport.Callbacks) error {
	next := s.replies[0]
	s.replies = s.replies[1:]
	return next(cb)
}

func (s *stubTransport) Complete(context.Context, transport.Request) (*transport.Reply, error) {
	return nil, errors.New("not scripted")
}

func newTestModel(t *testing.T, replies ...func(cb transport.Callbacks) error) (Model, *session.Controller) {
	t.Helper()
	c, err := session.NewController(&stubTransport{replies: replies},
		session.WithSessionIDGenerator(func() string { return "sess-ui" }))
	require.NoError(t, err)
	m := NewModel(context.Background(), c, WithMarkdown(false))
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return updated.(Model), c
}

func typeText(m Model, text string) Model {
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return updated.(Model)
}

// press sends a key and runs every command it returns until the model is
// settled, feeding the resulting messages back in.
func press(t *testing.T, m Model, key tea.KeyMsg) Model {
	t.Helper()
	updated, cmd := m.Update(key)
	return drain(t, updated.(Model), cmd)
}

func drain(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		return m
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		for _, c := range msg {
			m = drain(t, m, c)
		}
	case attemptDoneMsg, copiedMsg, dismissedMsg:
		updated, next := m.Update(msg)
		m = drain(t, updated.(Model), next)
	}
	return m
}

func TestSubmitStreamsReply(t *testing.T) {
	m, _ := newTestModel(t, func(cb transport.Callbacks) error {
		cb.OnStart("req-1")
		cb.OnFragment("Hello")
		cb.OnFragment(" world")
		return nil
	})

	m = typeText(m, "hi there")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	require.Equal(t, "", m.textarea.Value())
	require.Len(t, m.state.Messages, 2)
	require.Equal(t, "Hello world", m.state.Messages[1].Content)

	view := m.View()
	require.Contains(t, view, "hi there")
	require.Contains(t, view, "Hello world")
	require.Contains(t, view, "session sess-ui")
	require.NotContains(t, view, "Error:")
}

func TestBlankInputIsIgnored(t *testing.T) {
	m, c := newTestModel(t)

	m = typeText(m, "   ")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Nil(t, cmd)
	require.Empty(t, updated.(Model).state.Messages)
	require.Empty(t, c.Messages())
}

func TestErrorNoticeRetryAndCopy(t *testing.T) {
	m, _ := newTestModel(t,
		func(cb transport.Callbacks) error {
			return &chat.StreamError{Kind: chat.KindServer, Message: "boom", Status: 500, RequestID: "req-999"}
		},
		func(cb transport.Callbacks) error {
			cb.OnStart("req-ok")
			cb.OnFragment("Fixed")
			return nil
		},
	)
	var copied string
	m.copy = func(s string) error {
		copied = s
		return nil
	}

	m = typeText(m, "hi")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	view := m.View()
	require.Contains(t, view, "boom")
	require.Contains(t, view, "request id: req-999")
	require.Contains(t, view, session.ApologyMessage)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlY})
	require.Equal(t, "req-999", copied)
	require.Contains(t, m.status, "req-999")

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	require.Equal(t, session.PhaseIdle, m.state.Phase)
	require.Len(t, m.state.Messages, 2)
	require.Equal(t, "Fixed", m.state.Messages[1].Content)
	require.NotContains(t, m.View(), "Error:")
}

func TestEscDismissesError(t *testing.T) {
	m, _ := newTestModel(t, func(transport.Callbacks) error {
		return errors.New("connection refused")
	})

	m = typeText(m, "hi")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, session.PhaseError, m.state.Phase)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	require.Equal(t, session.PhaseIdle, m.state.Phase)
	require.NotContains(t, m.View(), "connection refused")
	require.Contains(t, m.View(), session.ApologyMessage)
}

func TestRetryIgnoredWithoutError(t *testing.T) {
	m, _ := newTestModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	require.Nil(t, cmd)
}

func TestCtrlCQuits(t *testing.T) {
	m, _ := newTestModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	require.True(t, ok)
}

func TestSourcesAreListed(t *testing.T) {
	m, _ := newTestModel(t)
	m.state = session.State{Messages: []chat.Message{
		{Role: chat.RoleUser, Content: "q"},
		{Role: chat.RoleAssistant, Content: "a", Sources: []chat.Citation{
			{Content: "body", Metadata: map[string]any{"source": "guide.md"}},
			{Content: strings.Repeat("x", 80)},
		}},
	}}
	out := m.renderTranscript()
	require.Contains(t, out, "[1] guide.md")
	require.Contains(t, out, "[2] "+strings.Repeat("x", 60)+"...")
}

func TestSourceLabelTruncatesOnRunes(t *testing.T) {
	label := sourceLabel(chat.Citation{Content: strings.Repeat("é", 59) + "日本語"})
	require.True(t, utf8.ValidString(label))
	require.Equal(t, strings.Repeat("é", 59)+"日...", label)

	require.Equal(t, "short ü", sourceLabel(chat.Citation{Content: "short   ü"}))
}

type recordingSender struct {
	msgs []tea.Msg
}

func (r *recordingSender) Send(msg tea.Msg) { r.msgs = append(r.msgs, msg) }

func TestForwardFuncDecodesEvents(t *testing.T) {
	r := &recordingSender{}
	f := ForwardFunc(r)

	payload := []byte(`{"type":"fragment","attempt":2,"delta":"hi"}`)
	require.NoError(t, f(message.NewMessage(watermill.NewUUID(), payload)))
	require.NoError(t, f(message.NewMessage(watermill.NewUUID(), []byte("garbage"))))

	require.Equal(t, []tea.Msg{
		EventMsg{Event: session.Event{Type: session.EventFragment, Attempt: 2, Delta: "hi"}},
	}, r.msgs)
}
