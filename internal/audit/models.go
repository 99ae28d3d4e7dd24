package audit

import "time"

// Event is an immutable, append-only record of a call lifecycle change.
//
// Invariants:
// - Events are never updated or deleted.
// - Recording is best-effort; relay flows must not block on audit failures.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the user whose action (or disconnect) caused the event.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	// PeerUserID is the other participant, when the event concerns a call.
	PeerUserID string `json:"peer_user_id,omitempty" db:"peer_user_id"`

	CallID string `json:"call_id,omitempty" db:"call_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallInitiated EventType = "call_initiated"
	EventTypeCallConnected EventType = "call_connected"
	EventTypeCallEnded     EventType = "call_ended"
	EventTypeCallMissed    EventType = "call_missed"
	// EventTypeConnectionReaped marks a call force-ended because a
	// participant's connection dropped.
	EventTypeConnectionReaped EventType = "connection_reaped"
)
