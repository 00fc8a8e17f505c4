package session

import "time"

// EventType names a session lifecycle event.
type EventType string

const (
	EventRotated       EventType = "session.rotated"
	EventSuperseded    EventType = "session.superseded"
	EventRevoked       EventType = "session.revoked"
	EventReuseDetected EventType = "session.reuse_detected"
)

// Terminal reports whether the event ends every live session of the principal.
func (t EventType) Terminal() bool {
	switch t {
	case EventSuperseded, EventRevoked, EventReuseDetected:
		return true
	}
	return false
}

// Event is delivered to subscribers of a principal's feed.
type Event struct {
	Type        EventType `json:"type"`
	PrincipalID string    `json:"principalId"`
	At          time.Time `json:"at"`
}

// Publisher fans events out. Publish must not block the caller.
type Publisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
