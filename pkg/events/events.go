// Package events fans session loop events out to live viewers.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event is one wire-format frame delivered to session viewers. The message
// field is always a plain string.
type Event struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
	Data    string          `json:"data,omitempty"`
}

// AgentMessage carries the text of a persisted assistant message. Full block
// structure is available through the history endpoint; the live stream sends
// only renderable text.
func AgentMessage(text string) Event {
	raw, _ := json.Marshal(text)
	return Event{Type: "agent_message", Message: raw}
}

// Image carries a base64 PNG screenshot.
func Image(data string) Event {
	return Event{Type: "image", Data: data}
}

// Thinking carries an incremental model delta. Thinking events are never
// persisted.
func Thinking(text string) Event {
	raw, _ := json.Marshal(text)
	return Event{Type: "thinking", Message: raw}
}

// Error reports a loop failure to viewers.
func Error(msg string) Event {
	raw, _ := json.Marshal(msg)
	return Event{Type: "error", Message: raw}
}

// Done signals that the loop finished its current run.
func Done() Event {
	return Event{Type: "done"}
}

const defaultQueueSize = 64

// Subscription is one viewer's bounded event queue. Events stops delivering
// after Detach or after the queue overflows.
type Subscription struct {
	C      <-chan Event
	c      chan Event
	once   sync.Once
	broker *Broker
	id     string
}

// Detach removes the subscription. Safe to call multiple times.
func (s *Subscription) Detach() {
	s.broker.detach(s)
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.c) })
}

// Broker is a per-session publish/subscribe hub. Publishing never blocks:
// a viewer whose queue is full is disconnected and must re-sync from
// history.
type Broker struct {
	mu        sync.Mutex
	sessions  map[string]map[*Subscription]struct{}
	queueSize int
}

// NewBroker creates a broker. queueSize <= 0 selects the default per-viewer
// queue depth.
func NewBroker(queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Broker{
		sessions:  make(map[string]map[*Subscription]struct{}),
		queueSize: queueSize,
	}
}

// Attach subscribes a viewer to a session's live events. There is no backlog:
// the subscription sees only events published after it attaches.
func (b *Broker) Attach(sessionID string) *Subscription {
	sub := &Subscription{
		c:      make(chan Event, b.queueSize),
		broker: b,
		id:     sessionID,
	}
	sub.C = sub.c

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.sessions[sessionID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.sessions[sessionID] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Publish delivers an event to all of the session's viewers without
// blocking the caller.
func (b *Broker) Publish(sessionID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.sessions[sessionID] {
		select {
		case sub.c <- ev:
		default:
			slog.Warn("Dropping slow event subscriber", "session_id", sessionID)
			delete(b.sessions[sessionID], sub)
			sub.close()
		}
	}
}

// CloseSession disconnects every viewer of a session, e.g. on delete.
func (b *Broker) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.sessions[sessionID] {
		sub.close()
	}
	delete(b.sessions, sessionID)
}

func (b *Broker) detach(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.sessions[sub.id]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.sessions, sub.id)
		}
	}
	sub.close()
}
