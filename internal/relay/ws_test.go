package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"videocall-relay/internal/auth"
	"videocall-relay/internal/call"
	"videocall-relay/internal/config"
	"videocall-relay/internal/identity"
	"videocall-relay/internal/registry"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newWSServer(t *testing.T) (*httptest.Server, *auth.Manager, *identity.MemoryDirectory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mgr, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	dir := identity.NewMemoryDirectory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(call.NewMemoryStore(), registry.New(), dir, nil, log)

	r := gin.New()
	r.GET("/ws/video-call", auth.RequireAccessToken(mgr), Handler(engine, nil, Options{
		SendQueueSize: 16,
		WriteTimeout:  time.Second,
		PongTimeout:   5 * time.Second,
	}))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, mgr, dir
}

func dialWS(t *testing.T, srv *httptest.Server, mgr *auth.Manager, u identity.User) *websocket.Conn {
	t.Helper()
	pair, err := mgr.IssuePair(time.Now(), u.ID, u.Username)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/video-call?token=" + pair.AccessToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", u.Username, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return e
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, e Envelope) {
	t.Helper()
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebsocket_RequiresToken(t *testing.T) {
	srv, _, _ := newWSServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/video-call"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake rejection without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWebsocket_CallFlowEndToEnd(t *testing.T) {
	srv, mgr, dir := newWSServer(t)
	alice := dir.Add(identity.User{Username: "alice"})
	bob := dir.Add(identity.User{Username: "bob"})

	aliceConn := dialWS(t, srv, mgr, alice)
	bobConn := dialWS(t, srv, mgr, bob)

	writeEnvelope(t, aliceConn, Envelope{Action: ActionInitiateCall, ReceiverUsername: "bob"})

	ack := readEnvelope(t, aliceConn)
	if ack.Action != ActionCallInitiated || ack.StatusCode != http.StatusCreated {
		t.Fatalf("expected call_initiated 201, got %+v", ack)
	}
	ring := readEnvelope(t, bobConn)
	if ring.Action != ActionIncomingCall || ring.VideoCallID != ack.VideoCallID {
		t.Fatalf("expected incoming_call %s, got %+v", ack.VideoCallID, ring)
	}

	writeEnvelope(t, bobConn, Envelope{Action: ActionStartCall, VideoCallID: ack.VideoCallID})
	for name, conn := range map[string]*websocket.Conn{"alice": aliceConn, "bob": bobConn} {
		if e := readEnvelope(t, conn); e.Action != ActionCallStarted {
			t.Fatalf("expected call_started at %s, got %+v", name, e)
		}
	}

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	writeEnvelope(t, aliceConn, Envelope{Action: ActionCallerData, VideoCallID: ack.VideoCallID, SDP: offer})
	fwd := readEnvelope(t, bobConn)
	if fwd.Action != ActionReceiverData || string(fwd.SDP) != string(offer) {
		t.Fatalf("expected forwarded offer, got %+v", fwd)
	}

	// Dropping the caller's socket reaps the call and tells the survivor.
	_ = aliceConn.Close()
	gone := readEnvelope(t, bobConn)
	if gone.Action != ActionDisconnected || gone.VideoCallID != ack.VideoCallID {
		t.Fatalf("expected disconnected notice, got %+v", gone)
	}
}
