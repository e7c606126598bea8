package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/orchestrator/internal/config"
	"github.com/example/orchestrator/internal/kip"
	"github.com/example/orchestrator/internal/orchestrator"
	"github.com/example/orchestrator/internal/ratelimit"
	"github.com/example/orchestrator/internal/voicepipeline"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: config.EnvDevelopment,
		Server: config.ServerConfig{
			Host:                  "127.0.0.1",
			Port:                  0,
			MaxConcurrentRequests: 2,
		},
		RateLimit: config.RateLimitConfig{Enabled: false},
	}
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, deps Dependencies) *Server {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = noopLogger()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(config.RateLimitConfig{Enabled: false}, nil, nil)
	}
	return New(testConfig(), deps)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response body: %v (body=%s)", err, rr.Body.String())
	}
}

func TestHandleChat_RequiresMessage(t *testing.T) {
	s := newTestServer(t, Dependencies{})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	s.handleChat(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleChat_OrchestratorNotReady(t *testing.T) {
	s := newTestServer(t, Dependencies{})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	rr := httptest.NewRecorder()
	s.handleChat(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandleChat_WrongMethod(t *testing.T) {
	s := newTestServer(t, Dependencies{})
	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	rr := httptest.NewRecorder()
	s.handleChat(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHandleVoiceChat_NotReadyWithoutPipeline(t *testing.T) {
	s := newTestServer(t, Dependencies{Voice: nil})
	// voice pipeline not ready short-circuits before multipart parsing.
	req := httptest.NewRequest(http.MethodPost, "/api/voice/chat", nil)
	rr := httptest.NewRecorder()
	s.handleVoiceChat(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when voice pipeline unset, got %d", rr.Code)
	}
}

func TestHandleVoiceChat_RejectsUnsupportedFormat(t *testing.T) {
	s := newTestServer(t, Dependencies{Voice: fakeVoicePipelineForTest()})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "clip.flac")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("not-real-audio"))
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/voice/chat", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	s.handleVoiceChat(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rr.Code)
	}
}

func TestHandleVoiceVoices_NotConfigured(t *testing.T) {
	s := newTestServer(t, Dependencies{})
	req := httptest.NewRequest(http.MethodGet, "/api/voice/voices", nil)
	rr := httptest.NewRecorder()
	s.handleVoiceVoices(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandleAgents_ReadOnlySurfaceRejectsPost(t *testing.T) {
	s := newTestServer(t, Dependencies{Agents: kip.NewAgentStore(nil, nil)})
	req := httptest.NewRequest(http.MethodPost, "/api/agents", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	s.handleAgents(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHandleAgents_NotReadyWithoutStore(t *testing.T) {
	s := newTestServer(t, Dependencies{})
	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	rr := httptest.NewRecorder()
	s.handleAgents(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandleEconomicAnalytics_NotReadyWithoutTreasury(t *testing.T) {
	s := newTestServer(t, Dependencies{})
	req := httptest.NewRequest(http.MethodGet, "/api/analytics/economic", nil)
	rr := httptest.NewRecorder()
	s.handleEconomicAnalytics(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandleHealth_UnhealthyWithoutOrchestrator(t *testing.T) {
	s := newTestServer(t, Dependencies{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.handleHealth(rr, req)

	var resp healthResponse
	decodeBody(t, rr, &resp)
	if resp.Status != "unhealthy" {
		t.Fatalf("expected unhealthy, got %q", resp.Status)
	}
	if resp.Services["orchestrator"].Status != "unhealthy" {
		t.Fatalf("expected orchestrator service unhealthy, got %+v", resp.Services["orchestrator"])
	}
}

func TestWithBackpressure_RejectsWhenSaturated(t *testing.T) {
	s := newTestServer(t, Dependencies{})
	s.inFlight = make(chan struct{}, 1)
	s.inFlight <- struct{}{} // saturate the single slot

	handler := s.withBackpressure(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when saturated, got %d", rr.Code)
	}
}

func TestMux_RoutesMetricsAndHealth(t *testing.T) {
	s := newTestServer(t, Dependencies{})
	mux := s.Mux()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rr.Code)
	}
}

// fakeVoicePipelineForTest builds a minimally-wired *voicepipeline.Pipeline
// so handleVoiceChat can get past its nil check in tests that only probe
// request-shape validation, not the pipeline's own behavior (covered in
// internal/voicepipeline's own tests).
func fakeVoicePipelineForTest() *voicepipeline.Pipeline {
	return voicepipeline.New(&config.Config{}, fakeSTTTTSClient{}, fakeOrchestratorRunner{}, nil, noopLogger())
}

type fakeSTTTTSClient struct{}

func (fakeSTTTTSClient) SpeechToText(ctx context.Context, audioPath string) (string, float64, error) {
	return "hello", 0.9, nil
}

func (fakeSTTTTSClient) TextToSpeech(ctx context.Context, text, voiceID, language, outPath string) error {
	return nil
}

type fakeOrchestratorRunner struct{}

func (fakeOrchestratorRunner) ProcessRequest(ctx context.Context, userInput, conversationID string) (orchestrator.RequestState, error) {
	return orchestrator.RequestState{FinalResponse: "ok", Phase: orchestrator.PhaseComplete}, nil
}

func (fakeOrchestratorRunner) ProcessRequestStream(ctx context.Context, userInput, conversationID string) <-chan orchestrator.Event {
	ch := make(chan orchestrator.Event, 1)
	ch <- orchestrator.Event{Type: orchestrator.EventFinal, Content: "ok"}
	close(ch)
	return ch
}
