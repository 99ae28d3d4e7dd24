package relay

import "encoding/json"

// Inbound actions a client may send over the relay connection.
const (
	ActionInitiateCall = "initiate_call"
	ActionCancelCall   = "cancel_call"
	ActionChangeStatus = "change_status"
	ActionStartCall    = "start_call"
	ActionEndCall      = "end_call"
	ActionCallerData   = "caller_data"
	ActionReceiverData = "receiver_data"
)

// Outbound actions pushed by the relay.
const (
	ActionError         = "error"
	ActionCallInitiated = "call_initiated"
	ActionIncomingCall  = "incoming_call"
	ActionCallCanceled  = "call_canceled"
	ActionStatusChanged = "status_changed"
	ActionCallStarted   = "call_started"
	ActionCallEnded     = "call_ended"
	ActionDisconnected  = "disconnected"
)

// Envelope is the wire format for every relay message, inbound and outbound.
// Only Action is always present; the remaining fields are action-specific.
//
// SDP and Candidate are the WebRTC negotiation payloads. They are opaque to
// the relay: parsed as raw JSON and forwarded byte-for-byte, never inspected.
type Envelope struct {
	Action     string `json:"action"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message,omitempty"`

	VideoCallID      string `json:"video_call_id,omitempty"`
	ReceiverUsername string `json:"receiver_username,omitempty"`
	CallerUsername   string `json:"caller_username,omitempty"`

	// Status is the target status on change_status requests.
	Status string `json:"status,omitempty"`
	// NewStatus echoes the applied status on status_changed replies.
	NewStatus string `json:"new_status,omitempty"`

	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func errorEnvelope(code int, message string) Envelope {
	return Envelope{Action: ActionError, StatusCode: code, Message: message}
}
