// Package events carries session controller events over a watermill
// in-memory pub/sub so that presentation adapters consume them on their own
// goroutine, in publish order.
package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/session"
)

const (
	DefaultTopic = "chat"

	MetadataEventType = "event_type"
)

// Bus owns the pub/sub and the router that dispatches to handlers.
type Bus struct {
	PubSub *gochannel.GoChannel
	Router *message.Router

	topic  string
	logger zerolog.Logger
}

type BusOption func(*Bus)

func WithTopic(topic string) BusOption {
	return func(b *Bus) {
		if topic != "" {
			b.topic = topic
		}
	}
}

func WithLogger(l zerolog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

func NewBus(options ...BusOption) (*Bus, error) {
	b := &Bus{
		topic:  DefaultTopic,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(b)
	}
	b.logger = b.logger.With().Str("component", "events").Logger()

	wmLogger := NewWatermillLogger(b.logger)
	// Blocking until ack keeps one publisher's messages in order at every
	// subscriber.
	b.PubSub = gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create event router")
	}
	b.Router = router
	return b, nil
}

func (b *Bus) Topic() string {
	return b.topic
}

// AddHandler subscribes f to the bus topic. Handlers must be added before
// Run, or followed by Router.RunHandlers.
func (b *Bus) AddHandler(name string, f message.NoPublishHandlerFunc) {
	b.Router.AddNoPublisherHandler(name, b.topic, b.PubSub, f)
}

// Run blocks until ctx is done or the router is closed.
func (b *Bus) Run(ctx context.Context) error {
	return b.Router.Run(ctx)
}

func (b *Bus) Running() chan struct{} {
	return b.Router.Running()
}

func (b *Bus) Close() error {
	rerr := b.Router.Close()
	perr := b.PubSub.Close()
	if rerr != nil {
		return errors.Wrap(rerr, "failed to close event router")
	}
	if perr != nil {
		return errors.Wrap(perr, "failed to close pubsub")
	}
	return nil
}

// Publish encodes e as JSON and publishes it on the bus topic.
func (b *Bus) Publish(e session.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataEventType, string(e.Type))
	if err := b.PubSub.Publish(b.topic, msg); err != nil {
		return errors.Wrapf(err, "failed to publish %s event", e.Type)
	}
	return nil
}

// Sink adapts the bus to a session.Listener. Publish failures are logged;
// they never reach the controller.
func (b *Bus) Sink() session.Listener {
	return func(e session.Event) {
		if err := b.Publish(e); err != nil {
			b.logger.Warn().Err(err).Str("event_type", string(e.Type)).Msg("dropping session event")
		}
	}
}

// Decode turns a bus message back into a session event.
func Decode(msg *message.Message) (session.Event, error) {
	var e session.Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return session.Event{}, errors.Wrap(err, "failed to decode session event")
	}
	return e, nil
}
