package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"videocall-relay/internal/auth"
	"videocall-relay/internal/presence"
	"videocall-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// maxFrameSize bounds inbound frames. SDP offers are a few KB; this leaves
// generous headroom without letting a client buffer-bomb the relay.
const maxFrameSize = 256 * 1024

// Options tunes the websocket transport. Zero values fall back to the
// defaults applied by config validation.
type Options struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	PongTimeout   time.Duration
}

func (o *Options) withDefaults() {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Tokens gate the upgrade; browser origin is not part of the trust model.
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errQueueFull = errors.New("send queue full")
var errSinkClosed = errors.New("sink closed")

// wsSink adapts one websocket connection to the registry's Sink contract.
// Sends go through a bounded queue drained by a single writer goroutine, so
// registry fan-out never blocks on a slow client. On overflow the message is
// dropped; signaling clients re-sync from the next state broadcast.
type wsSink struct {
	conn         *websocket.Conn
	out          chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	log          *slog.Logger
}

func newWSSink(conn *websocket.Conn, queueSize int, writeTimeout time.Duration, log *slog.Logger) *wsSink {
	return &wsSink{
		conn:         conn,
		out:          make(chan []byte, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		log:          log,
	}
}

func (s *wsSink) Send(msg []byte) error {
	select {
	case <-s.done:
		return errSinkClosed
	default:
	}
	select {
	case s.out <- msg:
		return nil
	default:
		s.log.Warn("outbound queue full, dropping message")
		return errQueueFull
	}
}

func (s *wsSink) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// writePump is the sole writer on the connection. Gorilla permits one
// concurrent writer, so pings share this goroutine with data frames.
func (s *wsSink) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Handler upgrades an authenticated request to the relay websocket and runs
// the connection until the client goes away. Identity must already be in the
// request context; the route is expected to sit behind RequireAccessToken.
func Handler(e *Engine, tracker *presence.Tracker, opts Options) gin.HandlerFunc {
	opts.withDefaults()
	pingInterval := opts.PongTimeout * 9 / 10

	return func(c *gin.Context) {
		log := logger.FromGin(c)

		userID, err := auth.UserID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		username, err := auth.Username(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		// Enforce the connection cap before committing to the upgrade, so
		// rejected clients get a plain HTTP status they can interpret.
		granted, err := tracker.Acquire(c.Request.Context(), userID)
		if err != nil {
			// Presence backend trouble should not take calling down.
			log.Warn("conn slot acquire failed, admitting", "err", err, "user_id", userID)
			granted = true
		}
		if !granted {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many connections"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade failure already wrote an HTTP error response.
			log.Warn("websocket upgrade failed", "err", err, "user_id", userID)
			releaseSlot(tracker, userID, log)
			return
		}

		sink := newWSSink(conn, opts.SendQueueSize, opts.WriteTimeout, log)
		binding := e.Registry().Register(userID, username, sink)
		log.Info("relay connected", "user_id", userID, "username", username)

		go sink.writePump(pingInterval)

		conn.SetReadLimit(maxFrameSize)
		_ = conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))
			if err := tracker.Touch(context.Background(), userID); err != nil {
				log.Debug("conn slot touch failed", "err", err, "user_id", userID)
			}
			return nil
		})

		ctx := c.Request.Context()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("relay read loop ended", "err", err, "user_id", userID)
				}
				break
			}
			e.HandleMessage(ctx, binding, msg)
		}

		// Teardown runs on a fresh context; the request context is already
		// dying with the connection.
		reconcileCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		e.HandleDisconnect(reconcileCtx, binding)
		cancel()

		sink.close()
		releaseSlot(tracker, userID, log)
		log.Info("relay disconnected", "user_id", userID)
	}
}

func releaseSlot(tracker *presence.Tracker, userID string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracker.Release(ctx, userID); err != nil {
		log.Warn("conn slot release failed", "err", err, "user_id", userID)
	}
}
