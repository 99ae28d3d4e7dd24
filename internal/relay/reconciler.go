package relay

import (
	"context"
	"errors"
	"net/http"

	"videocall-relay/internal/audit"
	"videocall-relay/internal/call"
	"videocall-relay/internal/registry"
)

// HandleDisconnect reconciles state when a connection goes away for any
// reason. The binding is removed from the registry first so the departing
// connection can never receive its own teardown notifications, then the
// connection's active call, if still live, is force-ended.
//
// Transports must call this exactly once per connection. The method itself is
// tolerant of being handed a binding that was already unregistered.
func (e *Engine) HandleDisconnect(ctx context.Context, b *registry.Binding) {
	if b == nil {
		return
	}
	e.reg.Unregister(b)

	callID := b.ActiveCallID()
	if callID == "" {
		return
	}
	defer b.ClearActiveCall()

	s, err := e.store.Get(ctx, callID, b.UserID)
	if err != nil {
		if !errors.Is(err, call.ErrNotFound) {
			e.log.Warn("disconnect reconcile lookup", "err", err, "call_id", callID, "user", b.UserID)
		}
		return
	}
	if s.Status.Terminal() {
		return
	}

	s, changed, err := e.store.Transition(ctx, callID, b.UserID, call.StatusEnded)
	if err != nil {
		// Lost the race against an explicit end or cancel. Nothing to announce.
		e.log.Debug("disconnect reconcile transition", "err", err, "call_id", callID, "user", b.UserID)
		return
	}
	if !changed {
		return
	}

	dropped := Envelope{
		Action:      ActionDisconnected,
		StatusCode:  http.StatusOK,
		VideoCallID: s.ID,
		Message:     "Peer disconnected",
	}
	// The departing user may still have other connections open; both
	// participants hear about the teardown.
	e.broadcast(s.CallerID, dropped)
	e.broadcast(s.ReceiverID, dropped)

	_ = e.audit.RecordCallEvent(ctx, audit.EventTypeConnectionReaped, s.ID, b.UserID, s.PeerOf(b.UserID), "connection dropped mid-call")
	e.log.Info("reaped call on disconnect", "call_id", s.ID, "user", b.UserID)
}
