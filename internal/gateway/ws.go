package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/orchestrator/internal/ratelimit"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
	wsPingInterval    = 20 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsFrame peeks at a client frame's discriminator; callers then re-decode
// Raw into the specific shape its Type implies. There is no connect
// handshake or protocol version negotiation — each endpoint accepts two
// frame shapes at most.
type wsFrame struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// wsSession owns one upgraded connection: a read loop decoding client
// frames, a write loop serializing outbound events, and a cancelable
// context threaded through to whatever long-running call is in flight so
// an {"type":"interrupt"} frame can abort it.
type wsSession struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	cancelTurn context.CancelFunc
}

func newWSSession(ctx context.Context, conn *websocket.Conn) *wsSession {
	sessionCtx, cancel := context.WithCancel(ctx)
	return &wsSession{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, 64),
		ctx:    sessionCtx,
		cancel: cancel,
	}
}

func (s *wsSession) close() {
	s.cancel()
	close(s.send)
	_ = s.conn.Close()
}

func (s *wsSession) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) emit(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	case <-s.ctx.Done():
	}
}

func (s *wsSession) sendError(message string) {
	s.emit(map[string]any{"type": "error", "error": message})
}

// setActiveCancel records the cancel func for the turn currently in
// flight, so a later interrupt frame can call it. Single-flight per
// connection: each new turn replaces the previous cancel.
func (s *wsSession) setActiveCancel(cancel context.CancelFunc) {
	s.cancelTurn = cancel
}

func (s *wsSession) interrupt() {
	if s.cancelTurn != nil {
		s.cancelTurn()
	}
}

// wsUpgradeGuard admits a new WebSocket connection against the per-IP
// connection cap before handing off to next, and releases the slot when
// the handler returns (i.e. when the connection closes).
func (s *Server) wsUpgradeGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ratelimit.ClientIP(r)
		if s.limiter != nil && !ratelimit.IsLoopback(ip) {
			if !s.limiter.AcquireWebSocket(ip) {
				writeJSONError(w, http.StatusTooManyRequests, "too many concurrent websocket connections")
				return
			}
			defer s.limiter.ReleaseWebSocket(ip)
		}
		next.ServeHTTP(w, r)
	})
}

func readFrame(raw []byte) (wsFrame, error) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return wsFrame{}, err
	}
	frame.Raw = raw
	return frame, nil
}
