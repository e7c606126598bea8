package gateway

import (
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/example/orchestrator/internal/orchestrator"
)

const maxChatMessageChars = 8000

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatResponse struct {
	Response       string `json:"response"`
	Intent         string `json:"intent,omitempty"`
	ProcessingTime string `json:"processing_time"`
	PathTaken      string `json:"path_taken"`
}

// handleChat implements POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" || utf8.RuneCountInString(req.Message) > maxChatMessageChars {
		writeJSONError(w, http.StatusBadRequest, "message is required and must be <= 8000 chars")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if s.orchestrator == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "orchestrator not ready")
		return
	}

	start := time.Now()
	state, err := s.orchestrator.ProcessRequest(r.Context(), req.Message, req.ConversationID)
	elapsed := time.Since(start)
	if err != nil && state.Phase != orchestrator.PhaseComplete {
		writeJSONError(w, http.StatusInternalServerError, "request failed")
		return
	}

	writeJSON(w, chatResponse{
		Response:       state.FinalResponse,
		Intent:         string(state.RoutingIntent),
		ProcessingTime: elapsed.String(),
		PathTaken:      orchestrator.PathTaken(state.RoutingIntent),
	})
}
