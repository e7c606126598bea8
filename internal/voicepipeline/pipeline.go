package voicepipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/orchestrator/internal/config"
	"github.com/example/orchestrator/internal/metrics"
	"github.com/example/orchestrator/internal/orchestrator"
)

// OrchestratorRunner is the subset of *orchestrator.Orchestrator the voice
// pipeline drives. Extracted the same way orchestrator.Generator and
// orchestrator.ToolExecutor were extracted from their concrete
// collaborators, so the pipeline can be unit-tested against a fake
// orchestrator instead of a live model/council stack.
type OrchestratorRunner interface {
	ProcessRequest(ctx context.Context, userInput, conversationID string) (orchestrator.RequestState, error)
	ProcessRequestStream(ctx context.Context, userInput, conversationID string) <-chan orchestrator.Event
}

// STTTTSClient is the subset of *Client the pipeline drives, extracted for
// the same reason as OrchestratorRunner: unit tests drive the pipeline
// against an in-memory fake instead of the live microservice.
type STTTTSClient interface {
	SpeechToText(ctx context.Context, audioPath string) (text string, confidence float64, err error)
	TextToSpeech(ctx context.Context, text, voiceID, language, outPath string) error
}

var _ STTTTSClient = (*Client)(nil)

// Pipeline implements ProcessVoiceRequest: STT, then one orchestrator
// turn, then TTS, with per-stage latency and the streaming event set both
// entry points share.
type Pipeline struct {
	client          STTTTSClient
	orchestrator    OrchestratorRunner
	metrics         *metrics.Metrics
	logger          *slog.Logger
	defaultVoiceID  string
	defaultLanguage string
}

// New builds a Pipeline from the Voice section of Config plus the
// orchestrator it drives.
func New(cfg *config.Config, client STTTTSClient, runner OrchestratorRunner, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	voiceID := cfg.Voice.DefaultVoiceID
	language := cfg.Voice.DefaultLanguage
	if language == "" {
		language = "en"
	}
	return &Pipeline{
		client:          client,
		orchestrator:    runner,
		metrics:         m,
		logger:          logger,
		defaultVoiceID:  voiceID,
		defaultLanguage: language,
	}
}

// ProcessVoiceRequest runs the three-stage pipeline to completion and
// returns its Result. Equivalent to ProcessVoiceRequestStream with every
// event discarded.
func (p *Pipeline) ProcessVoiceRequest(ctx context.Context, audioIn, audioOut, userID, conversationID string) (Result, error) {
	result, _, err := p.run(ctx, audioIn, audioOut, conversationID, func(Event) {})
	return result, err
}

// ProcessVoiceRequestStream runs the pipeline, emitting typed events as
// each stage and each orchestrator phase completes. The channel closes
// when the pipeline reaches voice_request_complete or error, or interrupt
// cancels it. Call the returned cancel function on receiving a client
// {type:"interrupt"} frame; it aborts both the in-flight orchestrator call
// and any outstanding TTS request.
func (p *Pipeline) ProcessVoiceRequestStream(ctx context.Context, audioIn, audioOut, userID, conversationID string) (<-chan Event, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan Event, 32)
	go func() {
		defer close(events)
		sink := func(e Event) {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		}
		_, _, _ = p.run(ctx, audioIn, audioOut, conversationID, sink)
	}()
	return events, cancel
}

func (p *Pipeline) run(ctx context.Context, audioIn, audioOut, conversationID string, emit EventSink) (Result, orchestrator.RequestState, error) {
	requestID := uuid.NewString()
	result := Result{RequestID: requestID}
	overallStart := time.Now()

	logger := p.logger.With("request_id", requestID)
	logger.Info("voice request start", "audio_in", audioIn)
	emit(Event{Type: EventVoiceRequestStart, RequestID: requestID, Timestamp: time.Now()})

	text, sttLatency, err := p.runSTT(ctx, requestID, audioIn, emit, logger)
	if err != nil {
		result.ProcessingTime = time.Since(overallStart)
		p.emitError(requestID, StageSTT, err, emit)
		return result, orchestrator.RequestState{}, err
	}
	result.Transcription = text
	result.StageLatencies = append(result.StageLatencies, StageLatency{Stage: StageSTT, Duration: sttLatency})

	state, err := p.runOrchestrator(ctx, requestID, text, conversationID, emit, logger)
	if err != nil {
		result.ProcessingTime = time.Since(overallStart)
		p.emitError(requestID, StageOrchestrator, err, emit)
		return result, state, &PipelineError{Kind: ErrKindOrchestratorFailed, Stage: StageOrchestrator, Cause: err}
	}
	result.ResponseText = state.FinalResponse
	result.PathTaken = pathTaken(state)
	if orchestratorLatency, ok := state.Metadata["processing_time"].(time.Duration); ok {
		result.StageLatencies = append(result.StageLatencies, StageLatency{Stage: StageOrchestrator, Duration: orchestratorLatency})
	}

	ttsLatency, err := p.runTTS(ctx, requestID, state.FinalResponse, audioOut, emit, logger)
	if err != nil {
		result.ProcessingTime = time.Since(overallStart)
		p.emitError(requestID, StageTTS, err, emit)
		return result, state, err
	}
	result.AudioOutPath = audioOut
	result.StageLatencies = append(result.StageLatencies, StageLatency{Stage: StageTTS, Duration: ttsLatency})

	result.ProcessingTime = time.Since(overallStart)
	logger.Info("voice request complete", "processing_time", result.ProcessingTime)
	emit(Event{Type: EventVoiceRequestComplete, RequestID: requestID, Timestamp: time.Now()})
	return result, state, nil
}

func (p *Pipeline) runSTT(ctx context.Context, requestID, audioIn string, emit EventSink, logger *slog.Logger) (string, time.Duration, error) {
	emit(Event{Type: EventSTTStart, RequestID: requestID, Stage: StageSTT, Timestamp: time.Now()})
	start := time.Now()
	text, confidence, err := p.client.SpeechToText(ctx, audioIn)
	latency := time.Since(start)
	p.observeStage(StageSTT, latency, err)
	if err != nil {
		logger.Warn("stt failed", "error", err)
		return "", latency, &PipelineError{Kind: ErrKindSTTFailed, Stage: StageSTT, Cause: err}
	}
	if text == "" {
		logger.Warn("stt returned empty transcript")
		return "", latency, &PipelineError{Kind: ErrKindSTTFailed, Stage: StageSTT, Cause: errors.New("empty transcript")}
	}
	logger.Info("stt complete", "confidence", confidence, "latency", latency)
	emit(Event{Type: EventSTTComplete, RequestID: requestID, Stage: StageSTT, Message: text, Timestamp: time.Now()})
	return text, latency, nil
}

func (p *Pipeline) runOrchestrator(ctx context.Context, requestID, text, conversationID string, emit EventSink, logger *slog.Logger) (orchestrator.RequestState, error) {
	if p.orchestrator == nil {
		return orchestrator.RequestState{}, errors.New("voicepipeline: no orchestrator configured")
	}
	start := time.Now()
	events := p.orchestrator.ProcessRequestStream(ctx, text, conversationID)
	var state orchestrator.RequestState
	var failed error
	for e := range events {
		emit(Event{Type: EventOrchestratorEvent, RequestID: requestID, Orchestrator: e, Timestamp: time.Now()})
		switch e.Type {
		case orchestrator.EventPhaseComplete:
			if intent, ok := e.Metadata["intent"].(string); ok && e.Phase == orchestrator.PhaseSmartRouted {
				state.RoutingIntent = orchestrator.Intent(intent)
			}
		case orchestrator.EventFinal:
			state.FinalResponse = e.Content
			state.Phase = orchestrator.PhaseComplete
			state.Metadata = e.Metadata
		case orchestrator.EventError:
			failed = fmt.Errorf("%s", e.Message)
		case orchestrator.EventCancelled:
			failed = ctx.Err()
		}
	}
	latency := time.Since(start)
	if state.Metadata == nil {
		state.Metadata = map[string]any{}
	}
	state.Metadata["processing_time"] = latency
	p.observeStage(StageOrchestrator, latency, failed)
	if failed != nil {
		logger.Warn("orchestrator turn failed", "error", failed)
		return state, failed
	}
	logger.Info("orchestrator turn complete", "latency", latency)
	return state, nil
}

func (p *Pipeline) runTTS(ctx context.Context, requestID, responseText, audioOut string, emit EventSink, logger *slog.Logger) (time.Duration, error) {
	emit(Event{Type: EventTTSStart, RequestID: requestID, Stage: StageTTS, Timestamp: time.Now()})
	start := time.Now()
	err := p.client.TextToSpeech(ctx, responseText, p.defaultVoiceID, p.defaultLanguage, audioOut)
	latency := time.Since(start)
	p.observeStage(StageTTS, latency, err)
	if err != nil {
		logger.Warn("tts failed", "error", err)
		return latency, &PipelineError{Kind: ErrKindTTSFailed, Stage: StageTTS, Cause: err}
	}
	logger.Info("tts complete", "latency", latency)
	emit(Event{Type: EventTTSComplete, RequestID: requestID, Stage: StageTTS, Timestamp: time.Now()})
	return latency, nil
}

func (p *Pipeline) emitError(requestID string, stage Stage, err error, emit EventSink) {
	emit(Event{Type: EventError, RequestID: requestID, Stage: stage, Error: err.Error(), Timestamp: time.Now()})
}

func (p *Pipeline) observeStage(stage Stage, latency time.Duration, err error) {
	if p.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	p.metrics.VoiceStageDuration.WithLabelValues(string(stage), outcome).Observe(latency.Seconds())
}

func pathTaken(state orchestrator.RequestState) string {
	return orchestrator.PathTaken(state.RoutingIntent)
}
