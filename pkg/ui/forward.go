package ui

import (
	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/events"
	"github.com/go-go-golems/chatstream/pkg/session"
)

// EventMsg wraps a controller event delivered to the program.
type EventMsg struct {
	Event session.Event
}

// Sender is the part of *tea.Program the forwarder uses.
type Sender interface {
	Send(msg tea.Msg)
}

// ForwardFunc turns bus messages into EventMsg and injects them into p.
// The message is acked by the router once Send returned, which keeps the
// publisher blocked and the events ordered.
func ForwardFunc(p Sender) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		e, err := events.Decode(msg)
		if err != nil {
			log.Error().Err(err).Str("payload", string(msg.Payload)).Msg("failed to parse event")
			return nil
		}
		log.Trace().Str("event_type", string(e.Type)).Int("attempt", e.Attempt).Msg("dispatching event to UI")
		p.Send(EventMsg{Event: e})
		return nil
	}
}
