package call

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("call: not found")
	ErrForbidden         = errors.New("call: requester is not a participant")
	ErrBusy              = errors.New("call: participant already in a connected call")
	ErrInvalidTransition = errors.New("call: invalid status transition")
	ErrInvalidArgument   = errors.New("call: invalid argument")
)

// Store owns session records and their state machine. All mutations go
// through Create/Transition; implementations must serialize mutations per
// record so terminal transitions have at-most-once effect.
type Store interface {
	// Create starts a new RINGING session. Fails ErrBusy when either
	// participant is already in a CONNECTED session.
	Create(ctx context.Context, callerID, receiverID string) (Session, error)

	// Get returns the session, enforcing that requesterID is a participant.
	Get(ctx context.Context, id, requesterID string) (Session, error)

	// Transition moves the session to next. The requester must be a
	// participant; permission is checked before any mutation. Re-applying a
	// terminal transition to an already-terminal session is a no-op success
	// returning the unchanged record with changed=false, so callers can
	// suppress duplicate notifications.
	Transition(ctx context.Context, id, requesterID string, next Status) (s Session, changed bool, err error)

	// ListByParticipant returns the viewer's sessions, newest first.
	ListByParticipant(ctx context.Context, userID string, limit int) ([]Session, error)
}

// applyTransition applies the state machine to s in place and reports whether
// the record changed. Shared by every Store implementation so the legality
// rules cannot drift between them.
//
// Legal transitions:
//
//	RINGING   -> CONNECTED (stamps ConnectedAt)
//	RINGING   -> ENDED | MISSED (stamps EndedAt)
//	CONNECTED -> ENDED (stamps EndedAt)
//
// A terminal session accepts any terminal target as a no-op; EndedAt is never
// re-stamped. The CONNECTED-per-user uniqueness check is index-dependent and
// stays with the store, before this is called.
func applyTransition(s *Session, next Status, now time.Time) (bool, error) {
	if next == s.Status {
		return false, nil
	}
	if s.Status.Terminal() {
		if next.Terminal() {
			return false, nil
		}
		return false, ErrInvalidTransition
	}

	switch next {
	case StatusConnected:
		if s.Status != StatusRinging {
			return false, ErrInvalidTransition
		}
		s.Status = StatusConnected
		t := now
		s.ConnectedAt = &t
		return true, nil
	case StatusEnded:
		s.Status = StatusEnded
		t := now
		s.EndedAt = &t
		return true, nil
	case StatusMissed:
		if s.Status != StatusRinging {
			return false, ErrInvalidTransition
		}
		s.Status = StatusMissed
		t := now
		s.EndedAt = &t
		return true, nil
	default:
		return false, ErrInvalidTransition
	}
}
