package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/orchestrator/internal/router/providers"
)

// ErrCouncilUnavailable is returned when every council member fails or
// times out. A partial failure is tolerated; a unanimous one fails the
// request.
var ErrCouncilUnavailable = errors.New("council_unavailable")

// Generator is the subset of *router.Router the orchestrator needs —
// extracted as an interface (the same dependency-inversion the KIP
// executor uses for AgentResolver) so council/synthesis/smart-router calls
// can be driven by an in-memory fake in tests without a configured model
// table or live backend clients.
type Generator interface {
	Generate(ctx context.Context, alias, prompt string, opts providers.GenerateOptions) (providers.GenerateResult, error)
}

func councilQuorum(n int) int {
	quorum := (n+1)/2 + 1
	if quorum > n {
		quorum = n
	}
	return quorum
}

type councilOutcome struct {
	position CouncilPosition
	err      error
}

// councilDeliberation invokes every configured council alias in parallel
// and returns as soon as the partial-quorum rule is satisfied, all calls
// have completed, or the per-call deadline elapses, whichever comes first.
// Results that arrive after this function returns are discarded by the
// caller; the buffered channel lets those goroutines exit without
// blocking.
func (o *Orchestrator) councilDeliberation(ctx context.Context, userInput string) ([]CouncilPosition, error) {
	aliases := o.councilAliases
	n := len(aliases)
	if n == 0 {
		return nil, ErrCouncilUnavailable
	}
	quorum := councilQuorum(n)
	deadline := o.councilCallDeadline

	results := make(chan councilOutcome, n)
	for _, alias := range aliases {
		alias := alias
		go func() {
			callCtx, cancel := context.WithTimeout(ctx, deadline)
			defer cancel()
			start := time.Now()
			result, err := o.generator.Generate(callCtx, alias, councilPrompt(userInput), o.defaultGenerateOptions)
			if err != nil {
				results <- councilOutcome{err: err}
				return
			}
			results <- councilOutcome{position: CouncilPosition{
				ModelAlias: alias,
				Answer:     result.Text,
				Latency:    time.Since(start),
			}}
		}()
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	positions := make([]CouncilPosition, 0, n)
	completed := 0
	for completed < n {
		select {
		case outcome := <-results:
			completed++
			if outcome.err == nil {
				positions = append(positions, outcome.position)
			}
			if len(positions) >= quorum {
				return positions, nil
			}
		case <-timer.C:
			if len(positions) == 0 {
				return nil, ErrCouncilUnavailable
			}
			return positions, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if len(positions) == 0 {
		return nil, ErrCouncilUnavailable
	}
	return positions, nil
}

func councilPrompt(userInput string) string {
	return "Answer the following request thoroughly and back your reasoning:\n\n" + userInput
}

// synthesize runs the Synthesis phase: a single model receives the user
// input plus whatever ambient signals and council positions are available
// and returns the final answer. On the fast path the user input goes to
// the synthesizer directly.
func (o *Orchestrator) synthesize(ctx context.Context, state *RequestState) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.synthesisDeadline)
	defer cancel()

	var prompt string
	if state.RoutingIntent == IntentSimpleQuery {
		prompt = state.UserInput
	} else {
		prompt = synthesisPrompt(state)
	}

	result, err := o.generator.Generate(ctx, o.synthesisAlias, prompt, o.defaultGenerateOptions)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func synthesisPrompt(state *RequestState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request (intent=%s):\n%s\n\n", state.RoutingIntent, state.UserInput)
	if len(state.PheromindSignals) > 0 {
		b.WriteString("Ambient signals from this conversation:\n")
		for _, s := range state.PheromindSignals {
			fmt.Fprintf(&b, "- %s (strength %.2f)\n", s.PatternID, s.Strength)
		}
		b.WriteString("\n")
	}
	if len(state.CouncilPositions) > 0 {
		positions := append([]CouncilPosition(nil), state.CouncilPositions...)
		sort.Slice(positions, func(i, j int) bool { return positions[i].ModelAlias < positions[j].ModelAlias })
		b.WriteString("Council positions:\n")
		for _, p := range positions {
			fmt.Fprintf(&b, "- %s: %s\n", p.ModelAlias, p.Answer)
		}
		b.WriteString("\n")
	}
	b.WriteString("Synthesize a single final answer.")
	return b.String()
}
