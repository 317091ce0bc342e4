// Package session owns one conversation view: the transcript, the single
// in-flight attempt and its error/retry state.
//
// The controller is driven by Send and Retry, which block until the attempt
// they start has terminated. Transport failures are never returned from
// those calls; they move the controller into the error phase, where
// LastError and RequestID describe them and Retry can resubmit.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/transport"
)

// ApologyMessage replaces an assistant reply that failed before any text
// arrived.
const ApologyMessage = "Sorry, something went wrong while generating a response. Please try again."

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrBusy           = errors.New("an attempt is already in flight")
	ErrNothingToRetry = errors.New("no failed attempt to retry")
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseSending Phase = "sending"
	PhaseError   Phase = "error"
)

// Mode selects how replies are fetched.
type Mode string

const (
	ModeStream   Mode = "stream"
	ModeComplete Mode = "complete"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeStream, "":
		return ModeStream, nil
	case ModeComplete:
		return ModeComplete, nil
	default:
		return "", errors.Errorf("unknown reply mode %q", s)
	}
}

// Transport is what the controller needs from the inference client.
type Transport interface {
	Open(ctx context.Context, req transport.Request, cb transport.Callbacks) error
	Complete(ctx context.Context, req transport.Request) (*transport.Reply, error)
}

// State is a deep copy of the observable controller state.
type State struct {
	Phase     Phase
	Messages  []chat.Message
	SessionID string
	LastError string
	RequestID string
}

func (s State) IsBusy() bool { return s.Phase == PhaseSending }

// CanRetry reports whether Retry would start an attempt.
func (s State) CanRetry() bool { return s.Phase == PhaseError }

type attempt struct {
	n         int
	text      string
	sessionID string
	slot      int
	retry     bool
}

type Controller struct {
	transport    Transport
	mode         Mode
	newSessionID func() string
	apology      string
	logger       zerolog.Logger

	mu            sync.Mutex
	phase         Phase
	messages      []chat.Message
	sessionID     string
	lastText      string
	failedSession string
	lastError     string
	requestID     string
	attempts      int

	listeners listeners
}

type Option func(*Controller) error

func WithMode(m Mode) Option {
	return func(c *Controller) error {
		if m != ModeStream && m != ModeComplete {
			return errors.Errorf("unknown reply mode %q", m)
		}
		c.mode = m
		return nil
	}
}

// WithSessionID starts the controller with a known session identity instead
// of creating one on first send.
func WithSessionID(id string) Option {
	return func(c *Controller) error {
		c.sessionID = strings.TrimSpace(id)
		return nil
	}
}

func WithSessionIDGenerator(f func() string) Option {
	return func(c *Controller) error {
		if f == nil {
			return errors.New("session id generator is nil")
		}
		c.newSessionID = f
		return nil
	}
}

func WithApology(text string) Option {
	return func(c *Controller) error {
		if strings.TrimSpace(text) == "" {
			return errors.New("apology text is empty")
		}
		c.apology = text
		return nil
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) error {
		c.logger = l
		return nil
	}
}

func NewController(t Transport, options ...Option) (*Controller, error) {
	if t == nil {
		return nil, errors.New("transport is nil")
	}
	c := &Controller{
		transport:    t,
		mode:         ModeStream,
		newSessionID: uuid.NewString,
		apology:      ApologyMessage,
		logger:       log.Logger,
		phase:        PhaseIdle,
	}
	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "failed to apply session option")
		}
	}
	c.logger = c.logger.With().Str("component", "session").Logger()
	return c, nil
}

// Subscribe registers l for every subsequent event and returns a function
// that removes it.
func (c *Controller) Subscribe(l Listener) func() {
	return c.listeners.add(l)
}

// Send appends text as a user message plus an empty assistant message and
// streams the reply into the latter. It returns ErrEmptyMessage for blank
// text and ErrBusy while another attempt is in flight; in both cases the
// transcript is untouched.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.phase == PhaseSending {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.sessionID == "" {
		c.sessionID = c.newSessionID()
	}
	c.messages = append(c.messages, chat.NewUserMessage(text), chat.NewAssistantMessage())
	c.lastText = text
	a := c.beginLocked(text, c.sessionID, false)
	c.mu.Unlock()

	c.run(ctx, a)
	return nil
}

// Retry resubmits the last user text of a failed attempt under that
// attempt's session identity, reusing the trailing assistant slot.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.phase == PhaseSending {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.phase != PhaseError || c.lastText == "" {
		c.mu.Unlock()
		return ErrNothingToRetry
	}
	if n := len(c.messages); n > 0 && c.messages[n-1].Role == chat.RoleAssistant {
		c.messages[n-1] = chat.NewAssistantMessage()
	} else {
		c.messages = append(c.messages, chat.NewAssistantMessage())
	}
	a := c.beginLocked(c.lastText, c.failedSession, true)
	c.mu.Unlock()

	c.run(ctx, a)
	return nil
}

// DismissError clears a displayed failure and returns to idle. The
// transcript keeps whatever the failed attempt produced.
func (c *Controller) DismissError() {
	c.mu.Lock()
	if c.phase != PhaseError {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseIdle
	c.lastError = ""
	c.requestID = ""
	n := c.attempts
	c.mu.Unlock()

	c.listeners.emit(Event{Type: EventErrorDismissed, Attempt: n})
}

func (c *Controller) beginLocked(text, sessionID string, retry bool) attempt {
	c.attempts++
	c.phase = PhaseSending
	c.lastError = ""
	c.requestID = ""
	return attempt{
		n:         c.attempts,
		text:      text,
		sessionID: sessionID,
		slot:      len(c.messages) - 1,
		retry:     retry,
	}
}

func (c *Controller) run(ctx context.Context, a attempt) {
	logger := c.logger.With().
		Int("attempt", a.n).
		Str("session_id", a.sessionID).
		Bool("retry", a.retry).
		Logger()
	logger.Debug().Str("mode", string(c.mode)).Msg("attempt started")
	c.listeners.emit(Event{Type: EventAttemptStarted, Attempt: a.n, Retry: a.retry, SessionID: a.sessionID})

	req := transport.Request{Message: a.text, SessionID: a.sessionID}
	var err error
	switch c.mode {
	case ModeComplete:
		err = c.runComplete(ctx, a, req)
	default:
		err = c.transport.Open(ctx, req, transport.Callbacks{
			OnStart:    func(id string) { c.onStart(a, id) },
			OnFragment: func(f string) { c.onFragment(a, f) },
		})
	}

	if err != nil {
		c.fail(a, err, logger)
		return
	}

	c.mu.Lock()
	c.phase = PhaseIdle
	requestID := c.requestID
	c.mu.Unlock()

	logger.Debug().Str("request_id", requestID).Msg("attempt finished")
	c.listeners.emit(Event{Type: EventAttemptFinished, Attempt: a.n, SessionID: a.sessionID, RequestID: requestID})
}

func (c *Controller) runComplete(ctx context.Context, a attempt, req transport.Request) error {
	reply, err := c.transport.Complete(ctx, req)
	if err != nil {
		return err
	}
	c.onStart(a, reply.RequestID)

	c.mu.Lock()
	msg := &c.messages[a.slot]
	msg.Content += reply.Response
	msg.Sources = append([]chat.Citation(nil), reply.Sources...)
	c.mu.Unlock()

	c.listeners.emit(Event{Type: EventFragment, Attempt: a.n, Delta: reply.Response})
	return nil
}

func (c *Controller) onStart(a attempt, requestID string) {
	c.mu.Lock()
	c.requestID = requestID
	c.mu.Unlock()
	c.listeners.emit(Event{Type: EventStreamStarted, Attempt: a.n, SessionID: a.sessionID, RequestID: requestID})
}

func (c *Controller) onFragment(a attempt, fragment string) {
	c.mu.Lock()
	c.messages[a.slot].Content += fragment
	c.mu.Unlock()
	c.listeners.emit(Event{Type: EventFragment, Attempt: a.n, Delta: fragment})
}

func (c *Controller) fail(a attempt, err error, logger zerolog.Logger) {
	c.mu.Lock()
	msg := &c.messages[a.slot]
	partial := msg.Content != ""
	if !partial {
		msg.Content = c.apology
	}
	if c.requestID == "" {
		c.requestID = chat.RequestIDFromError(err)
	}
	c.phase = PhaseError
	c.lastError = err.Error()
	c.failedSession = a.sessionID
	requestID := c.requestID
	c.mu.Unlock()

	logger.Warn().
		Err(err).
		Str("request_id", requestID).
		Str("kind", string(chat.KindOf(err))).
		Bool("partial", partial).
		Msg("attempt failed")
	c.listeners.emit(Event{
		Type:      EventAttemptFailed,
		Attempt:   a.n,
		SessionID: a.sessionID,
		RequestID: requestID,
		Error:     err.Error(),
		ErrorKind: chat.KindOf(err),
	})
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Phase:     c.phase,
		Messages:  chat.CloneMessages(c.messages),
		SessionID: c.sessionID,
		LastError: c.lastError,
		RequestID: c.requestID,
	}
}

func (c *Controller) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chat.CloneMessages(c.messages)
}

func (c *Controller) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == PhaseSending
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Controller) RequestID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestID
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
