package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/orchestrator/internal/voicepipeline"
)

const maxVoiceUploadBytes = 20 << 20 // 20 MiB

var allowedAudioExt = map[string]bool{".wav": true, ".mp3": true, ".m4a": true, ".ogg": true}

type voiceChatResponse struct {
	Success        bool           `json:"success"`
	RequestID      string         `json:"request_id"`
	Transcription  string         `json:"transcription,omitempty"`
	ResponseText   string         `json:"response_text,omitempty"`
	AudioURL       string         `json:"audio_url,omitempty"`
	ProcessingTime string         `json:"processing_time"`
	Error          string         `json:"error,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// handleVoiceChat implements POST /api/voice/chat: multipart audio in,
// transcription/response/audio-url out.
func (s *Server) handleVoiceChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if s.voice == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "voice pipeline not ready")
		return
	}

	if err := r.ParseMultipartForm(maxVoiceUploadBytes); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedAudioExt[ext] {
		writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported audio format")
		return
	}

	requestID := uuid.NewString()
	conversationID := r.FormValue("conversation_id")
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	userID := r.FormValue("user_id")

	inPath := filepath.Join(s.audioDir, requestID+"-in"+ext)
	if err := os.MkdirAll(s.audioDir, 0o755); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not prepare audio storage")
		return
	}
	in, err := os.Create(inPath)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not store uploaded audio")
		return
	}
	if _, err := io.Copy(in, file); err != nil {
		in.Close()
		writeJSONError(w, http.StatusInternalServerError, "could not store uploaded audio")
		return
	}
	in.Close()
	defer os.Remove(inPath)

	outFilename := requestID + "-out.wav"
	outPath := filepath.Join(s.audioDir, outFilename)

	start := time.Now()
	result, err := s.voice.ProcessVoiceRequest(r.Context(), inPath, outPath, userID, conversationID)
	elapsed := time.Since(start)

	resp := voiceChatResponse{
		RequestID:      requestID,
		ProcessingTime: elapsed.String(),
	}
	if err != nil {
		var pipeErr *voicepipeline.PipelineError
		resp.Success = false
		resp.Error = err.Error()
		if errors.As(err, &pipeErr) {
			resp.Error = string(pipeErr.Kind)
		}
		writeJSON(w, resp)
		return
	}

	resp.Success = true
	resp.Transcription = result.Transcription
	resp.ResponseText = result.ResponseText
	resp.AudioURL = "/api/voice/audio/" + outFilename
	resp.Metadata = map[string]any{"path_taken": result.PathTaken}
	writeJSON(w, resp)
}

// handleVoiceAudio implements GET /api/voice/audio/{filename}, serving a
// previously generated response file.
func (s *Server) handleVoiceAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	filename := filepath.Base(strings.TrimPrefix(r.URL.Path, "/api/voice/audio/"))
	if filename == "" || filename == "." || strings.Contains(filename, "..") {
		writeJSONError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	path := filepath.Join(s.audioDir, filename)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeJSONError(w, http.StatusNotFound, "audio file not found")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, path)
}

// handleVoiceVoices implements GET /api/voice/voices, a thin passthrough
// to the external voice microservice's voice listing.
func (s *Server) handleVoiceVoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	if s.voiceClient == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "voice service not configured")
		return
	}
	voices, err := s.voiceClient.ListVoices(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list voices: %v", err))
		return
	}
	writeJSON(w, map[string]any{"voices": voices})
}
