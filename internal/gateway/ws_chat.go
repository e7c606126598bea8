package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/orchestrator/internal/orchestrator"
)

type wsChatMessageFrame struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// handleWSChat implements /ws/chat: the client sends
// {message, conversation_id?} frames and receives the orchestrator's own
// streamed Event set verbatim; an {"type":"interrupt"} frame cancels
// whatever turn is in flight.
func (s *Server) handleWSChat(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	session := newWSSession(r.Context(), conn)
	defer session.close()

	go session.writeLoop()
	s.chatReadLoop(session)
}

func (s *Server) chatReadLoop(session *wsSession) {
	conn := session.conn
	conn.SetReadLimit(wsMaxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		frame, err := readFrame(data)
		if err != nil {
			session.sendError("invalid frame: " + err.Error())
			continue
		}
		switch frame.Type {
		case "interrupt":
			session.interrupt()
		case "", "message":
			s.handleChatFrame(session, frame.Raw)
		default:
			session.sendError("unknown frame type: " + frame.Type)
		}
	}
}

func (s *Server) handleChatFrame(session *wsSession, raw []byte) {
	var msg wsChatMessageFrame
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Message == "" {
		session.sendError("message is required")
		return
	}
	if msg.ConversationID == "" {
		msg.ConversationID = uuid.NewString()
	}
	if s.orchestrator == nil {
		session.sendError("orchestrator not ready")
		return
	}

	turnCtx, cancel := context.WithCancel(session.ctx)
	session.setActiveCancel(cancel)
	defer cancel()

	events := s.orchestrator.ProcessRequestStream(turnCtx, msg.Message, msg.ConversationID)
	for event := range events {
		session.emit(event)
		if event.Type == orchestrator.EventFinal || event.Type == orchestrator.EventError || event.Type == orchestrator.EventCancelled {
			break
		}
	}
}
