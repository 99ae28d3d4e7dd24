package registry

import "sync"

// Sink is the outbound half of one physical connection. Implementations must
// not block indefinitely; the websocket transport backs this with a bounded
// queue and drops on overflow.
type Sink interface {
	Send(msg []byte) error
}

// Binding is the ephemeral association between one connection and the user it
// authenticated as. It also carries the connection's current-call pointer,
// which the reconciler consults on disconnect.
type Binding struct {
	UserID   string
	Username string

	sink Sink

	mu           sync.Mutex
	activeCallID string
}

func (b *Binding) Send(msg []byte) error {
	return b.sink.Send(msg)
}

// ActiveCallID returns the call this connection currently considers active,
// or "" when idle.
func (b *Binding) ActiveCallID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeCallID
}

func (b *Binding) SetActiveCall(callID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeCallID = callID
}

func (b *Binding) ClearActiveCall() {
	b.SetActiveCall("")
}
