package gateway

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type wsVoiceInputFrame struct {
	Type           string `json:"type"`
	AudioData      string `json:"audio_data"`
	Format         string `json:"format"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

var allowedWSAudioFormat = map[string]bool{"wav": true, "mp3": true, "m4a": true, "ogg": true}

// handleWSVoice implements /ws/voice: the client sends
// {type:"voice_input", audio_data: base64, format} frames and receives the
// voice pipeline's own streamed Event set, followed by one
// voice_audio_output frame carrying the synthesized reply as base64.
// {"type":"interrupt"} cancels whatever turn is in flight, aborting both
// the orchestrator call and any outstanding TTS.
func (s *Server) handleWSVoice(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	session := newWSSession(r.Context(), conn)
	defer session.close()

	go session.writeLoop()
	s.voiceReadLoop(session)
}

func (s *Server) voiceReadLoop(session *wsSession) {
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
		case "voice_input":
			s.handleVoiceInputFrame(session, frame.Raw)
		default:
			session.sendError("unknown frame type: " + frame.Type)
		}
	}
}

func (s *Server) handleVoiceInputFrame(session *wsSession, raw []byte) {
	var in wsVoiceInputFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		session.sendError("invalid voice_input frame")
		return
	}
	if in.Format == "" {
		in.Format = "wav"
	}
	if !allowedWSAudioFormat[in.Format] {
		session.sendError("unsupported audio format")
		return
	}
	audioBytes, err := base64.StdEncoding.DecodeString(in.AudioData)
	if err != nil || len(audioBytes) == 0 {
		session.sendError("audio_data must be non-empty base64")
		return
	}
	if s.voice == nil {
		session.sendError("voice pipeline not ready")
		return
	}

	requestID := uuid.NewString()
	inPath := filepath.Join(s.audioDir, requestID+"-in."+in.Format)
	outPath := filepath.Join(s.audioDir, requestID+"-out.wav")
	if err := os.MkdirAll(s.audioDir, 0o755); err != nil {
		session.sendError("could not prepare audio storage")
		return
	}
	if err := os.WriteFile(inPath, audioBytes, 0o644); err != nil {
		session.sendError("could not store audio")
		return
	}
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	conversationID := in.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	events, cancel := s.voice.ProcessVoiceRequestStream(session.ctx, inPath, outPath, in.UserID, conversationID)
	session.setActiveCancel(cancel)
	defer cancel()

	for event := range events {
		session.emit(event)
	}

	if audioOut, err := os.ReadFile(outPath); err == nil && len(audioOut) > 0 {
		session.emit(map[string]any{
			"type":       "voice_audio_output",
			"request_id": requestID,
			"audio_data": base64.StdEncoding.EncodeToString(audioOut),
			"format":     "wav",
		})
	}
}
