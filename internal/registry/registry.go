package registry

import "sync"

// Registry maps a user id to the set of currently-open connections for that
// user. A user may hold several bindings at once (multiple devices or tabs);
// delivery fans out to all of them.
//
// Process-local by design: each relay instance only addresses connections it
// owns.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]map[*Binding]struct{}
}

func New() *Registry {
	return &Registry{byUser: map[string]map[*Binding]struct{}{}}
}

// Register adds a binding for the user. It never fails.
func (r *Registry) Register(userID, username string, sink Sink) *Binding {
	b := &Binding{UserID: userID, Username: username, sink: sink}

	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byUser[userID]
	if !ok {
		set = map[*Binding]struct{}{}
		r.byUser[userID] = set
	}
	set[b] = struct{}{}
	return b
}

// Unregister removes the binding. Idempotent; removing an absent binding is a
// no-op.
func (r *Registry) Unregister(b *Binding) {
	if b == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byUser[b.UserID]
	if !ok {
		return
	}
	delete(set, b)
	if len(set) == 0 {
		delete(r.byUser, b.UserID)
	}
}

// SendToUser delivers msg to every binding registered for userID and returns
// the number of connections addressed. Zero means the user is offline, which
// is not an error.
//
// The registry lock is held across the fan-out so two SendToUser calls for
// the same user cannot interleave: each connection observes messages in the
// order SendToUser was invoked. Sinks are bounded and non-blocking, so the
// critical section stays short.
func (r *Registry) SendToUser(userID string, msg []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byUser[userID]
	for b := range set {
		_ = b.Send(msg) // best-effort; a slow consumer must not fail the others
	}
	return len(set)
}

// Connections reports how many bindings the user currently holds.
func (r *Registry) Connections(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID])
}
