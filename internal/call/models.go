package call

import "time"

// Session is the persisted record of one call attempt between two users.
//
// Invariants:
// - CallerID and ReceiverID are immutable after creation.
// - EndedAt is set if and only if Status is terminal (ENDED or MISSED).
// - At most one CONNECTED session may involve a given user at a time.
// - Once terminal, a session is read-only (history access).
type Session struct {
	ID         string `json:"video_call_id" db:"id"`
	CallerID   string `json:"caller_id" db:"caller_id"`
	ReceiverID string `json:"receiver_id" db:"receiver_id"`

	Status Status `json:"status" db:"status"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty" db:"connected_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

type Status string

const (
	StatusRinging   Status = "RINGING"
	StatusConnected Status = "CONNECTED"
	StatusEnded     Status = "ENDED"
	StatusMissed    Status = "MISSED"
)

// ParseStatus maps a wire status string to a known Status.
func ParseStatus(v string) (Status, bool) {
	switch Status(v) {
	case StatusRinging, StatusConnected, StatusEnded, StatusMissed:
		return Status(v), true
	default:
		return "", false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusMissed
}

// IsParticipant reports whether userID is the caller or receiver.
func (s Session) IsParticipant(userID string) bool {
	return userID == s.CallerID || userID == s.ReceiverID
}

// PeerOf returns the other participant's id, or "" if userID is not a participant.
func (s Session) PeerOf(userID string) string {
	switch userID {
	case s.CallerID:
		return s.ReceiverID
	case s.ReceiverID:
		return s.CallerID
	default:
		return ""
	}
}

// Duration is the call duration for display: total lifetime once ended,
// otherwise time elapsed so far.
func (s Session) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.CreatedAt)
	}
	return now.Sub(s.CreatedAt)
}
