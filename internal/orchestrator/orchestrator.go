package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/orchestrator/internal/config"
	"github.com/example/orchestrator/internal/metrics"
	"github.com/example/orchestrator/internal/router/providers"
	"github.com/example/orchestrator/internal/tracing"
)

const defaultOverallTimeout = 120 * time.Second

// Orchestrator drives the phase graph. It is safe for concurrent use
// across requests; each call to ProcessRequest/ProcessRequestStream owns
// its own RequestState.
type Orchestrator struct {
	generator    Generator
	toolExecutor ToolExecutor
	pheromind    *PheromindStore
	metrics      *metrics.Metrics
	logger       *slog.Logger
	tracer       *tracing.Tracer

	councilAliases      []string
	synthesisAlias      string
	smartRouterAlias    string
	councilCallDeadline time.Duration
	synthesisDeadline   time.Duration
	overallTimeout      time.Duration
	pheromindScanLimit  int
	actionAgentID       string

	defaultGenerateOptions providers.GenerateOptions

	clock func() time.Time
}

// New builds an Orchestrator from the LLM section of Config plus the
// collaborators it drives: a Generator (normally *router.Router), a
// PheromindStore, and a ToolExecutor (normally *kip.Executor, nil to skip
// KIPExecution entirely). End users have no KIP agent identity of their
// own, so tool calls dispatched on a user's behalf all run under one
// system agent id.
func New(cfg *config.Config, generator Generator, pheromindStore *PheromindStore, toolExecutor ToolExecutor, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	overall := cfg.Server.RequestTimeout
	if overall <= 0 {
		overall = defaultOverallTimeout
	}
	councilDeadline := cfg.LLM.CouncilCallDeadline
	if councilDeadline <= 0 {
		councilDeadline = 45 * time.Second
	}
	synthesisDeadline := cfg.LLM.SynthesisDeadline
	if synthesisDeadline <= 0 {
		synthesisDeadline = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		generator:              generator,
		toolExecutor:           toolExecutor,
		pheromind:               pheromindStore,
		metrics:                 m,
		logger:                  logger,
		councilAliases:          cfg.LLM.CouncilAliases,
		synthesisAlias:          cfg.LLM.SynthesisAlias,
		smartRouterAlias:        cfg.LLM.SmartRouterAlias,
		councilCallDeadline:     councilDeadline,
		synthesisDeadline:       synthesisDeadline,
		overallTimeout:          overall,
		pheromindScanLimit:      20,
		actionAgentID:           "orchestrator",
		defaultGenerateOptions:  providers.DefaultGenerateOptions(),
		clock:                   time.Now,
	}
}

// SetTracer attaches a tracer so each phase opens a child span of the
// request's inbound span. Call before serving; a nil tracer (the default)
// records nothing.
func (o *Orchestrator) SetTracer(t *tracing.Tracer) {
	o.tracer = t
}

// ProcessRequest runs a request to completion and returns its final state.
// Equivalent to ProcessRequestStream with every event discarded.
func (o *Orchestrator) ProcessRequest(ctx context.Context, userInput, conversationID string) (RequestState, error) {
	return o.run(ctx, userInput, conversationID, func(Event) {})
}

// ProcessRequestStream runs a request to completion, emitting typed phase
// events on the returned channel as they occur. The channel is closed when
// the request reaches Complete, Failed, or is cancelled.
func (o *Orchestrator) ProcessRequestStream(ctx context.Context, userInput, conversationID string) <-chan Event {
	events := make(chan Event, 32)
	go func() {
		defer close(events)
		// Terminal events (cancelled, error) are emitted after ctx is
		// already done, so the buffered send must be tried before the
		// ctx case or they would race and sometimes be dropped.
		sink := func(e Event) {
			select {
			case events <- e:
			default:
				select {
				case events <- e:
				case <-ctx.Done():
				}
			}
		}
		_, _ = o.run(ctx, userInput, conversationID, sink)
	}()
	return events
}

func (o *Orchestrator) now() time.Time {
	if o.clock != nil {
		return o.clock()
	}
	return time.Now()
}

// run is the single state-machine driver both entry points share. It walks
// the fast or deep phase DAG, emitting events and recording phase metrics
// at every transition, and terminates at Complete, Failed, or a
// cancellation/timeout-derived terminal event.
func (o *Orchestrator) run(ctx context.Context, userInput, conversationID string, emit EventSink) (RequestState, error) {
	requestID := uuid.NewString()
	state := RequestState{
		RequestID:      requestID,
		ConversationID: conversationID,
		UserInput:      userInput,
		ArrivedAt:      o.now(),
		Phase:          PhaseReceived,
		Metadata:       map[string]any{},
	}

	ctx, cancel := context.WithTimeout(ctx, o.overallTimeout)
	defer cancel()

	if o.metrics != nil {
		o.metrics.ActiveRequests.Inc()
		defer o.metrics.ActiveRequests.Dec()
	}

	emit(Event{Type: EventStatus, Phase: PhaseReceived, Message: "request received", Timestamp: o.now()})

	// SmartRouter
	if terminal := o.checkCancellation(ctx, &state, emit); terminal {
		return state, ctx.Err()
	}
	intent, confidence := o.timedClassify(ctx, &state, userInput)
	state.Phase = PhaseSmartRouted
	state.RoutingIntent = intent
	state.Metadata["smart_router_confidence"] = confidence
	emit(Event{Type: EventPhaseComplete, Phase: PhaseSmartRouted, Metadata: map[string]any{"intent": string(intent), "confidence": confidence}, Timestamp: o.now()})

	switch intent {
	case IntentSimpleQuery:
		state.Metadata["fast_path_used"] = true
	case IntentExploratory:
		if terminal := o.checkCancellation(ctx, &state, emit); terminal {
			return state, ctx.Err()
		}
		o.timedPheromindScan(ctx, &state, emit)
		if terminal := o.runCouncil(ctx, &state, emit); terminal {
			return state, o.failureErr(&state)
		}
	case IntentComplexReasoning:
		if terminal := o.runCouncil(ctx, &state, emit); terminal {
			return state, o.failureErr(&state)
		}
	case IntentAction:
		if terminal := o.runCouncil(ctx, &state, emit); terminal {
			return state, o.failureErr(&state)
		}
	}

	if terminal := o.checkCancellation(ctx, &state, emit); terminal {
		return state, ctx.Err()
	}

	synthesized, err := o.timedSynthesize(ctx, &state, emit)
	if err != nil {
		// A synthesis failure caused by cancellation or the overall
		// deadline terminates as cancelled/timeout, not as a phase error.
		if terminal := o.checkCancellation(ctx, &state, emit); terminal {
			return state, ctx.Err()
		}
		return o.fail(&state, PhaseSynthesis, err, emit), err
	}
	state.FinalResponse = synthesized
	state.Phase = PhaseSynthesis
	emit(Event{Type: EventPhaseComplete, Phase: PhaseSynthesis, Timestamp: o.now()})

	if o.pheromind != nil && len(state.CouncilPositions) > 0 {
		_ = o.pheromind.Record(ctx, conversationID, string(state.RoutingIntent), o.councilAgreementStrength(state.CouncilPositions))
	}

	if intent == IntentAction {
		if terminal := o.checkCancellation(ctx, &state, emit); terminal {
			return state, ctx.Err()
		}
		state.Phase = PhaseKIPExecution
		kipCtx, kipSpan := o.tracer.StartPhase(ctx, string(PhaseKIPExecution), state.RequestID)
		finalResponse, actionResult := o.runKIPExecution(kipCtx, synthesized)
		kipSpan.End()
		state.FinalResponse = finalResponse
		if actionResult != nil {
			state.Metadata["kip_action"] = actionResult
		}
		emit(Event{Type: EventPhaseComplete, Phase: PhaseKIPExecution, Timestamp: o.now()})
	}

	state.Phase = PhaseComplete
	if o.metrics != nil {
		o.metrics.PhaseOutcome.WithLabelValues(string(PhaseComplete), "complete").Inc()
	}
	emit(Event{Type: EventFinal, Phase: PhaseComplete, Content: state.FinalResponse, Metadata: state.Metadata, Timestamp: o.now()})
	return state, nil
}

// checkCancellation inspects ctx and, if it's already done, emits the
// matching terminal event (cancelled for an explicit cancel, error for the
// overall-deadline timeout) and marks the state Failed. Already-debited
// KIP transactions are never refunded on cancellation.
func (o *Orchestrator) checkCancellation(ctx context.Context, state *RequestState, emit EventSink) bool {
	if ctx.Err() == nil {
		return false
	}
	state.Phase = PhaseFailed
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		emit(Event{Type: EventError, Phase: state.Phase, Message: "request_timeout", Timestamp: o.now()})
	} else {
		emit(Event{Type: EventCancelled, Phase: state.Phase, Timestamp: o.now()})
	}
	if o.metrics != nil {
		o.metrics.PhaseOutcome.WithLabelValues(string(state.Phase), "cancelled").Inc()
	}
	return true
}

func (o *Orchestrator) failureErr(state *RequestState) error {
	return errors.New(string(state.Phase) + ": failed")
}

func (o *Orchestrator) fail(state *RequestState, phase Phase, err error, emit EventSink) RequestState {
	state.Phase = PhaseFailed
	if o.metrics != nil {
		o.metrics.PhaseOutcome.WithLabelValues(string(phase), "failed").Inc()
	}
	emit(Event{Type: EventError, Phase: phase, Message: err.Error(), Timestamp: o.now()})
	return *state
}

func (o *Orchestrator) timedClassify(ctx context.Context, state *RequestState, userInput string) (Intent, float64) {
	ctx, span := o.tracer.StartPhase(ctx, string(PhaseSmartRouted), state.RequestID)
	defer span.End()
	start := o.now()
	intent, confidence := o.classify(ctx, userInput)
	o.observePhase(PhaseSmartRouted, intent, start)
	return intent, confidence
}

func (o *Orchestrator) timedPheromindScan(ctx context.Context, state *RequestState, emit EventSink) {
	ctx, span := o.tracer.StartPhase(ctx, string(PhasePheromindScan), state.RequestID)
	defer span.End()
	start := o.now()
	emit(Event{Type: EventStatus, Phase: PhasePheromindScan, Message: "scanning ambient signals", Timestamp: o.now()})
	state.PheromindSignals = o.pheromind.Scan(ctx, state.ConversationID, o.pheromindScanLimit)
	state.Phase = PhasePheromindScan
	o.observePhase(PhasePheromindScan, state.RoutingIntent, start)
	emit(Event{Type: EventPhaseComplete, Phase: PhasePheromindScan, Metadata: map[string]any{"signal_count": len(state.PheromindSignals)}, Timestamp: o.now()})
}

// runCouncil runs CouncilDeliberation and reports whether the request
// terminated (true) because every council member failed.
func (o *Orchestrator) runCouncil(ctx context.Context, state *RequestState, emit EventSink) bool {
	ctx, span := o.tracer.StartPhase(ctx, string(PhaseCouncilDeliberation), state.RequestID)
	defer span.End()
	start := o.now()
	emit(Event{Type: EventStatus, Phase: PhaseCouncilDeliberation, Message: "consulting council", Timestamp: o.now()})
	positions, err := o.councilDeliberation(ctx, state.UserInput)
	o.observePhase(PhaseCouncilDeliberation, state.RoutingIntent, start)
	if err != nil {
		tracing.RecordError(span, err)
		if terminal := o.checkCancellation(ctx, state, emit); terminal {
			return true
		}
		state.Phase = PhaseFailed
		if o.metrics != nil {
			o.metrics.PhaseOutcome.WithLabelValues(string(PhaseCouncilDeliberation), "failed").Inc()
		}
		message := err.Error()
		if errors.Is(err, ErrCouncilUnavailable) {
			message = "council_unavailable"
		}
		emit(Event{Type: EventError, Phase: PhaseCouncilDeliberation, Message: message, Timestamp: o.now()})
		return true
	}
	state.CouncilPositions = positions
	state.Phase = PhaseCouncilDeliberation
	emit(Event{Type: EventPhaseComplete, Phase: PhaseCouncilDeliberation, Metadata: map[string]any{"positions": len(positions)}, Timestamp: o.now()})
	return false
}

func (o *Orchestrator) timedSynthesize(ctx context.Context, state *RequestState, emit EventSink) (string, error) {
	ctx, span := o.tracer.StartPhase(ctx, string(PhaseSynthesis), state.RequestID)
	defer span.End()
	start := o.now()
	emit(Event{Type: EventStatus, Phase: PhaseSynthesis, Message: "synthesizing response", Timestamp: o.now()})
	text, err := o.synthesize(ctx, state)
	o.observePhase(PhaseSynthesis, state.RoutingIntent, start)
	tracing.RecordError(span, err)
	return text, err
}

func (o *Orchestrator) observePhase(phase Phase, intent Intent, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.PhaseDuration.WithLabelValues(string(phase), string(intent)).Observe(o.now().Sub(start).Seconds())
}

// councilAgreementStrength is the fraction of configured council members
// that produced a position — the signal strength Record deposits so a
// later exploratory-intent scan on the same conversation can gauge how
// settled this topic already is.
func (o *Orchestrator) councilAgreementStrength(positions []CouncilPosition) float64 {
	if len(o.councilAliases) == 0 {
		return 0
	}
	strength := float64(len(positions)) / float64(len(o.councilAliases))
	if strength > 1 {
		strength = 1
	}
	return strength
}
