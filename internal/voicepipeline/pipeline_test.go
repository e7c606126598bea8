package voicepipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/example/orchestrator/internal/orchestrator"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSTTTTSClient struct {
	sttText string
	sttErr  error
	ttsErr  error
}

func (f *fakeSTTTTSClient) SpeechToText(ctx context.Context, audioPath string) (string, float64, error) {
	if f.sttErr != nil {
		return "", 0, f.sttErr
	}
	return f.sttText, 0.95, nil
}

func (f *fakeSTTTTSClient) TextToSpeech(ctx context.Context, text, voiceID, language, outPath string) error {
	if f.ttsErr != nil {
		return f.ttsErr
	}
	return os.WriteFile(outPath, []byte("fake-audio"), 0o600)
}

type fakeOrchestratorRunner struct {
	state orchestrator.RequestState
	err   error
}

func (f *fakeOrchestratorRunner) ProcessRequest(ctx context.Context, userInput, conversationID string) (orchestrator.RequestState, error) {
	return f.state, f.err
}

func (f *fakeOrchestratorRunner) ProcessRequestStream(ctx context.Context, userInput, conversationID string) <-chan orchestrator.Event {
	events := make(chan orchestrator.Event, 4)
	go func() {
		defer close(events)
		if f.err != nil {
			events <- orchestrator.Event{Type: orchestrator.EventError, Message: f.err.Error()}
			return
		}
		events <- orchestrator.Event{Type: orchestrator.EventPhaseComplete, Phase: orchestrator.PhaseSmartRouted, Metadata: map[string]any{"intent": string(f.state.RoutingIntent)}}
		events <- orchestrator.Event{Type: orchestrator.EventFinal, Content: f.state.FinalResponse, Metadata: map[string]any{}}
	}()
	return events
}

func newTestPipeline(client STTTTSClient, runner OrchestratorRunner) *Pipeline {
	return &Pipeline{
		client:          client,
		orchestrator:    runner,
		defaultVoiceID:  "default",
		defaultLanguage: "en",
		logger:          noopLogger(),
	}
}

func TestProcessVoiceRequest_HappyPath(t *testing.T) {
	client := &fakeSTTTTSClient{sttText: "what is the capital of France"}
	runner := &fakeOrchestratorRunner{state: orchestrator.RequestState{FinalResponse: "Paris", RoutingIntent: orchestrator.IntentSimpleQuery}}
	p := newTestPipeline(client, runner)

	audioOut := t.TempDir() + "/out.wav"
	result, err := p.ProcessVoiceRequest(context.Background(), "in.wav", audioOut, "user-1", "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Transcription != "what is the capital of France" {
		t.Fatalf("unexpected transcription: %q", result.Transcription)
	}
	if result.ResponseText != "Paris" {
		t.Fatalf("unexpected response text: %q", result.ResponseText)
	}
	if result.PathTaken != "fast_response" {
		t.Fatalf("unexpected path_taken: %q", result.PathTaken)
	}
	if len(result.StageLatencies) != 3 {
		t.Fatalf("expected 3 stage latencies, got %d", len(result.StageLatencies))
	}
	if _, err := os.Stat(audioOut); err != nil {
		t.Fatalf("expected audio output file to be written: %v", err)
	}
}

func TestProcessVoiceRequest_EmptySTTFailsWithSTTFailed(t *testing.T) {
	client := &fakeSTTTTSClient{sttText: ""}
	runner := &fakeOrchestratorRunner{}
	p := newTestPipeline(client, runner)

	_, err := p.ProcessVoiceRequest(context.Background(), "in.wav", t.TempDir()+"/out.wav", "", "conv-2")
	var pipeErr *PipelineError
	if !errors.As(err, &pipeErr) || pipeErr.Kind != ErrKindSTTFailed {
		t.Fatalf("expected stt_failed PipelineError, got %v", err)
	}
}

func TestProcessVoiceRequest_TTSFailureReportsTTSFailed(t *testing.T) {
	client := &fakeSTTTTSClient{sttText: "hello", ttsErr: errors.New("tts unavailable")}
	runner := &fakeOrchestratorRunner{state: orchestrator.RequestState{FinalResponse: "hi there"}}
	p := newTestPipeline(client, runner)

	_, err := p.ProcessVoiceRequest(context.Background(), "in.wav", t.TempDir()+"/out.wav", "", "conv-3")
	var pipeErr *PipelineError
	if !errors.As(err, &pipeErr) || pipeErr.Kind != ErrKindTTSFailed {
		t.Fatalf("expected tts_failed PipelineError, got %v", err)
	}
}

func TestProcessVoiceRequestStream_EmitsEventsInStageOrder(t *testing.T) {
	client := &fakeSTTTTSClient{sttText: "hello"}
	runner := &fakeOrchestratorRunner{state: orchestrator.RequestState{FinalResponse: "hi"}}
	p := newTestPipeline(client, runner)

	events, cancel := p.ProcessVoiceRequestStream(context.Background(), "in.wav", t.TempDir()+"/out.wav", "", "conv-4")
	defer cancel()

	var seen []EventType
	for e := range events {
		seen = append(seen, e.Type)
	}
	if len(seen) == 0 || seen[0] != EventVoiceRequestStart {
		t.Fatalf("expected first event to be voice_request_start, got %v", seen)
	}
	if seen[len(seen)-1] != EventVoiceRequestComplete {
		t.Fatalf("expected last event to be voice_request_complete, got %v", seen)
	}
}
