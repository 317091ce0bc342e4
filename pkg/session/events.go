package session

import (
	"sync"

	"github.com/go-go-golems/chatstream/pkg/chat"
)

type EventType string

const (
	EventAttemptStarted  EventType = "attempt.started"
	EventStreamStarted   EventType = "stream.started"
	EventFragment        EventType = "fragment"
	EventAttemptFinished EventType = "attempt.finished"
	EventAttemptFailed   EventType = "attempt.failed"
	EventErrorDismissed  EventType = "error.dismissed"
)

// Event is a notification about a controller state change. Listeners that
// need the full picture call Controller.Snapshot.
type Event struct {
	Type      EventType      `json:"type"`
	Attempt   int            `json:"attempt"`
	Retry     bool           `json:"retry,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Delta     string         `json:"delta,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind chat.ErrorKind `json:"error_kind,omitempty"`
}

// Listener receives events in the order the controller produced them, on the
// goroutine that drives the attempt.
type Listener func(Event)

type listeners struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]Listener
	order  []int
}

func (l *listeners) add(f Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byID == nil {
		l.byID = map[int]Listener{}
	}
	id := l.nextID
	l.nextID++
	l.byID[id] = f
	l.order = append(l.order, id)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.byID, id)
		for i, v := range l.order {
			if v == id {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
	}
}

func (l *listeners) snapshot() []Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Listener, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

func (l *listeners) emit(e Event) {
	for _, f := range l.snapshot() {
		f(e)
	}
}
