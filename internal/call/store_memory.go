package call

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used in tests and single-node
// deployments. Mutations are serialized per call id via a keyed lock table so
// unrelated calls never contend with each other.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	clock func() time.Time
	newID func() string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*Session{},
		locks:    map[string]*sync.Mutex{},
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

// SetClock overrides the store's time source. Intended for tests that need a
// deterministic timeline.
func (m *MemoryStore) SetClock(clock func() time.Time) {
	if clock != nil {
		m.clock = clock
	}
}

func (m *MemoryStore) lockFor(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *MemoryStore) Create(ctx context.Context, callerID, receiverID string) (Session, error) {
	if callerID == "" || receiverID == "" {
		return Session{}, ErrInvalidArgument
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Busy check and insert happen under the same lock so two racing creates
	// cannot both pass the check.
	for _, s := range m.sessions {
		if s.Status != StatusConnected {
			continue
		}
		if s.IsParticipant(callerID) || s.IsParticipant(receiverID) {
			return Session{}, ErrBusy
		}
	}

	s := &Session{
		ID:         m.newID(),
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     StatusRinging,
		CreatedAt:  m.clock().UTC(),
	}
	m.sessions[s.ID] = s
	return snapshot(s), nil
}

func (m *MemoryStore) Get(ctx context.Context, id, requesterID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !s.IsParticipant(requesterID) {
		return Session{}, ErrForbidden
	}
	return snapshot(s), nil
}

func (m *MemoryStore) Transition(ctx context.Context, id, requesterID string, next Status) (Session, bool, error) {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false, ErrNotFound
	}
	if !s.IsParticipant(requesterID) {
		return Session{}, false, ErrForbidden
	}

	// Connecting must not violate the one-CONNECTED-per-user invariant.
	if next == StatusConnected && s.Status == StatusRinging {
		for _, other := range m.sessions {
			if other.ID == s.ID || other.Status != StatusConnected {
				continue
			}
			if other.IsParticipant(s.CallerID) || other.IsParticipant(s.ReceiverID) {
				return Session{}, false, ErrBusy
			}
		}
	}

	changed, err := applyTransition(s, next, m.clock().UTC())
	if err != nil {
		return Session{}, false, err
	}
	return snapshot(s), changed, nil
}

func (m *MemoryStore) ListByParticipant(ctx context.Context, userID string, limit int) ([]Session, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Session, 0)
	for _, s := range m.sessions {
		if s.IsParticipant(userID) {
			out = append(out, snapshot(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// snapshot copies the record, including timestamp pointers, so callers can
// never mutate store state through a returned Session.
func snapshot(s *Session) Session {
	out := *s
	if s.ConnectedAt != nil {
		t := *s.ConnectedAt
		out.ConnectedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return out
}
