package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"videocall-relay/internal/audit"
	"videocall-relay/internal/call"
	"videocall-relay/internal/identity"
	"videocall-relay/internal/registry"
)

// Engine is the per-message protocol handler. One read loop per connection
// feeds it; the Call Store and Session Registry behind it are shared by all
// connections.
//
// Validation order is fixed: required fields first (no store access on
// BadRequest), then participant permission, then the state transition. A
// Forbidden requester never mutates anything.
type Engine struct {
	store call.Store
	reg   *registry.Registry
	dir   identity.Directory
	audit *audit.Service
	log   *slog.Logger
}

func NewEngine(store call.Store, reg *registry.Registry, dir identity.Directory, auditSvc *audit.Service, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, reg: reg, dir: dir, audit: auditSvc, log: log}
}

// Registry exposes the engine's registry for transports and handlers.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// HandleMessage processes one inbound frame from b's connection. All
// recoverable errors are reported back over the same connection; the
// connection stays usable afterwards.
func (e *Engine) HandleMessage(ctx context.Context, b *registry.Binding, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		e.reply(b, errorEnvelope(http.StatusBadRequest, "Invalid message"))
		return
	}

	switch env.Action {
	case ActionInitiateCall:
		e.initiateCall(ctx, b, env)
	case ActionCancelCall:
		e.cancelCall(ctx, b, env)
	case ActionChangeStatus:
		e.changeStatus(ctx, b, env)
	case ActionStartCall:
		e.startCall(ctx, b, env)
	case ActionEndCall:
		e.endCall(ctx, b, env)
	case ActionCallerData:
		e.forwardData(ctx, b, env, true)
	case ActionReceiverData:
		e.forwardData(ctx, b, env, false)
	default:
		e.reply(b, errorEnvelope(http.StatusBadRequest, "Unknown action"))
	}
}

func (e *Engine) initiateCall(ctx context.Context, b *registry.Binding, env Envelope) {
	if env.ReceiverUsername == "" {
		e.reply(b, errorEnvelope(http.StatusBadRequest, "Receiver username required"))
		return
	}

	receiver, err := e.dir.FindByUsername(ctx, env.ReceiverUsername)
	if err != nil {
		e.replyErr(b, err)
		return
	}

	s, err := e.store.Create(ctx, b.UserID, receiver.ID)
	if err != nil {
		e.replyErr(b, err)
		return
	}
	b.SetActiveCall(s.ID)

	e.reply(b, Envelope{
		Action:      ActionCallInitiated,
		StatusCode:  http.StatusCreated,
		VideoCallID: s.ID,
		Message:     "Ringing " + receiver.Username,
	})

	if s.Status == call.StatusRinging {
		e.broadcast(s.ReceiverID, Envelope{
			Action:         ActionIncomingCall,
			VideoCallID:    s.ID,
			CallerUsername: b.Username,
		})
	}

	_ = e.audit.RecordCallEvent(ctx, audit.EventTypeCallInitiated, s.ID, b.UserID, receiver.ID, "call initiated")
	e.log.Debug("call initiated", "call_id", s.ID, "caller", b.UserID, "receiver", receiver.ID)
}

func (e *Engine) cancelCall(ctx context.Context, b *registry.Binding, env Envelope) {
	if env.VideoCallID == "" {
		e.reply(b, errorEnvelope(http.StatusBadRequest, "Video call ID required"))
		return
	}

	s, changed, err := e.store.Transition(ctx, env.VideoCallID, b.UserID, call.StatusMissed)
	if err != nil {
		e.replyErr(b, err)
		return
	}
	if b.ActiveCallID() == s.ID {
		b.ClearActiveCall()
	}

	e.reply(b, Envelope{Action: ActionCallCanceled, StatusCode: http.StatusOK})
	if changed {
		e.broadcast(s.PeerOf(b.UserID), Envelope{Action: ActionCallCanceled, StatusCode: http.StatusOK})
		_ = e.audit.RecordCallEvent(ctx, audit.EventTypeCallMissed, s.ID, b.UserID, s.PeerOf(b.UserID), "call canceled")
	}
}

func (e *Engine) changeStatus(ctx context.Context, b *registry.Binding, env Envelope) {
	if env.VideoCallID == "" || env.Status == "" {
		e.reply(b, errorEnvelope(http.StatusBadRequest, "Video call ID and status required"))
		return
	}
	next, ok := call.ParseStatus(env.Status)
	if !ok {
		e.reply(b, errorEnvelope(http.StatusBadRequest, "Invalid status"))
		return
	}

	if _, _, err := e.store.Transition(ctx, env.VideoCallID, b.UserID, next); err != nil {
		e.replyErr(b, err)
		return
	}

	e.reply(b, Envelope{
		Action:     ActionStatusChanged,
		StatusCode: http.StatusOK,
		NewStatus:  string(next),
	})
}

func (e *Engine) startCall(ctx context.Context, b *registry.Binding, env Envelope) {
	if env.VideoCallID == "" {
		e.reply(b, errorEnvelope(http.StatusBadRequest, "Video call ID required"))
		return
	}

	s, changed, err := e.store.Transition(ctx, env.VideoCallID, b.UserID, call.StatusConnected)
	if err != nil {
		e.replyErr(b, err)
		return
	}
	b.SetActiveCall(s.ID)

	started := Envelope{
		Action:      ActionCallStarted,
		StatusCode:  http.StatusOK,
		VideoCallID: s.ID,
		Message:     "Call started",
	}
	if !changed {
		// Idempotent re-apply: ack the requester, no duplicate fan-out.
		e.reply(b, started)
		return
	}
	e.broadcast(s.CallerID, started)
	e.broadcast(s.ReceiverID, started)

	_ = e.audit.RecordCallEvent(ctx, audit.EventTypeCallConnected, s.ID, b.UserID, s.PeerOf(b.UserID), "call connected")
}

func (e *Engine) endCall(ctx context.Context, b *registry.Binding, env Envelope) {
	if env.VideoCallID == "" {
		e.reply(b, errorEnvelope(http.StatusBadRequest, "Video call ID required"))
		return
	}

	s, changed, err := e.store.Transition(ctx, env.VideoCallID, b.UserID, call.StatusEnded)
	if err != nil {
		e.replyErr(b, err)
		return
	}
	if b.ActiveCallID() == s.ID {
		b.ClearActiveCall()
	}

	ended := Envelope{
		Action:      ActionCallEnded,
		StatusCode:  http.StatusOK,
		VideoCallID: s.ID,
		Message:     "Call ended",
	}
	if !changed {
		e.reply(b, ended)
		return
	}
	e.broadcast(s.CallerID, ended)
	e.broadcast(s.ReceiverID, ended)

	_ = e.audit.RecordCallEvent(ctx, audit.EventTypeCallEnded, s.ID, b.UserID, s.PeerOf(b.UserID), "call ended")
}

// forwardData relays a negotiation payload to the counterparty. Direction is
// strict: caller_data must come from the recorded caller and goes only to the
// recorded receiver, and vice versa. The client's claimed role is never
// trusted; both sides are re-checked against the stored session.
func (e *Engine) forwardData(ctx context.Context, b *registry.Binding, env Envelope, fromCaller bool) {
	if env.VideoCallID == "" {
		e.reply(b, errorEnvelope(http.StatusBadRequest, "Video call ID required"))
		return
	}
	if len(env.SDP) == 0 && len(env.Candidate) == 0 {
		e.reply(b, errorEnvelope(http.StatusBadRequest, "Negotiation payload required"))
		return
	}

	s, err := e.store.Get(ctx, env.VideoCallID, b.UserID)
	if err != nil {
		e.replyErr(b, err)
		return
	}
	if s.Status.Terminal() {
		// Surface dead sessions so clients stop renegotiating against them.
		e.reply(b, errorEnvelope(http.StatusNotFound, "Call already ended"))
		return
	}

	var requiredSender, target string
	var outAction, note string
	if fromCaller {
		requiredSender, target = s.CallerID, s.ReceiverID
		outAction, note = ActionReceiverData, "Caller data received"
	} else {
		requiredSender, target = s.ReceiverID, s.CallerID
		outAction, note = ActionCallerData, "Receiver data received"
	}
	if b.UserID != requiredSender {
		e.reply(b, errorEnvelope(http.StatusForbidden, "Permission denied"))
		return
	}

	e.broadcast(target, Envelope{
		Action:      outAction,
		StatusCode:  http.StatusOK,
		VideoCallID: s.ID,
		SDP:         env.SDP,
		Candidate:   env.Candidate,
		Message:     note,
	})
}

func (e *Engine) reply(b *registry.Binding, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		e.log.Error("marshal reply", "err", err, "action", env.Action)
		return
	}
	if err := b.Send(payload); err != nil {
		e.log.Debug("reply dropped", "err", err, "action", env.Action, "user", b.UserID)
	}
}

func (e *Engine) broadcast(userID string, env Envelope) {
	if userID == "" {
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		e.log.Error("marshal broadcast", "err", err, "action", env.Action)
		return
	}
	// Zero recipients means the peer is offline; that is not an error.
	n := e.reg.SendToUser(userID, payload)
	e.log.Debug("broadcast", "action", env.Action, "user", userID, "recipients", n)
}

func (e *Engine) replyErr(b *registry.Binding, err error) {
	code, msg := classify(err)
	e.reply(b, errorEnvelope(code, msg))
}

// classify maps domain errors to wire status codes.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, call.ErrNotFound):
		return http.StatusNotFound, "Video call not found"
	case errors.Is(err, call.ErrForbidden):
		return http.StatusForbidden, "Permission denied"
	case errors.Is(err, call.ErrBusy):
		return http.StatusConflict, "User already in another call"
	case errors.Is(err, call.ErrInvalidTransition):
		return http.StatusConflict, "Illegal status transition"
	case errors.Is(err, call.ErrInvalidArgument):
		return http.StatusBadRequest, "Invalid request"
	default:
		return http.StatusInternalServerError, "Unknown error"
	}
}
