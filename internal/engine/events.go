package engine

import (
	"sync"
	"time"

	"github.com/jwulff/whisperweb/internal/session"
)

// EventKind names an event sent to subscribers.
type EventKind string

const (
	// EventEntry carries an entry appended to a session.
	EventEntry EventKind = "entry"
	// EventError carries a user-visible failure.
	EventError EventKind = "error"
	// EventNotice carries a user-visible confirmation.
	EventNotice EventKind = "notice"
	// EventStatus carries the recording status.
	EventStatus EventKind = "status"
	// EventSessions is sent when sessions are created, renamed, selected or deleted.
	EventSessions EventKind = "sessions"
	// EventDropped reports a segment discarded because the pipeline was busy.
	EventDropped EventKind = "dropped"
)

// Event is one change the UI surfaces may render.
type Event struct {
	Kind      EventKind
	Time      time.Time
	SessionID string
	Seq       int
	Entry     *session.Entry
	Message   string
	Status    *Status
}

// Notification is the {level, message} view of error and notice events.
type Notification struct {
	Level   string
	Message string
}

// Notification returns the notification carried by the event, if any.
func (e Event) Notification() (Notification, bool) {
	switch e.Kind {
	case EventError:
		return Notification{Level: "error", Message: e.Message}, true
	case EventNotice:
		return Notification{Level: "info", Message: e.Message}, true
	default:
		return Notification{}, false
	}
}

// Subscription receives events until Close.
type Subscription struct {
	C <-chan Event

	b  *broadcaster
	id int
}

// Close stops delivery and closes C.
func (s *Subscription) Close() {
	s.b.remove(s.id)
}

// broadcaster fans events out to subscribers. A subscriber that falls behind
// loses events rather than stalling the engine.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe(buffer int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return &Subscription{C: ch, b: b, id: -1}
	}
	b.next++
	b.subs[b.next] = ch
	return &Subscription{C: ch, b: b, id: b.next}
}

func (b *broadcaster) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// publish returns how many subscribers missed the event.
func (b *broadcaster) publish(ev Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	missed := 0
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			missed++
		}
	}
	return missed
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
