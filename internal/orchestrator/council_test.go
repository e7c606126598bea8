package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/orchestrator/internal/router/providers"
)

type fakeGenerator struct {
	response map[string]providers.GenerateResult
	err      map[string]error
	delay    map[string]time.Duration
}

func (f *fakeGenerator) Generate(ctx context.Context, alias, prompt string, opts providers.GenerateOptions) (providers.GenerateResult, error) {
	if d, ok := f.delay[alias]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return providers.GenerateResult{}, ctx.Err()
		}
	}
	if err, ok := f.err[alias]; ok {
		return providers.GenerateResult{}, err
	}
	return f.response[alias], nil
}

func TestCouncilQuorum(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 3, 4: 3, 5: 4, 6: 4}
	for n, want := range cases {
		if got := councilQuorum(n); got != want {
			t.Fatalf("councilQuorum(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestCouncilDeliberation_ReturnsOnQuorum(t *testing.T) {
	o := &Orchestrator{
		councilAliases:      []string{"a", "b", "c"},
		councilCallDeadline: time.Second,
		generator: &fakeGenerator{
			response: map[string]providers.GenerateResult{
				"a": {Text: "answer-a"}, "b": {Text: "answer-b"}, "c": {Text: "answer-c"},
			},
		},
	}
	positions, err := o.councilDeliberation(context.Background(), "question")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 3 {
		t.Fatalf("expected all 3 positions (quorum for n=3 is 3), got %d", len(positions))
	}
}

func TestCouncilDeliberation_AllFailReturnsUnavailable(t *testing.T) {
	o := &Orchestrator{
		councilAliases:      []string{"a", "b"},
		councilCallDeadline: time.Second,
		generator: &fakeGenerator{
			err: map[string]error{"a": errors.New("boom"), "b": errors.New("boom")},
		},
	}
	_, err := o.councilDeliberation(context.Background(), "question")
	if !errors.Is(err, ErrCouncilUnavailable) {
		t.Fatalf("expected ErrCouncilUnavailable, got %v", err)
	}
}

func TestCouncilDeliberation_PartialFailureStillSucceeds(t *testing.T) {
	o := &Orchestrator{
		councilAliases:      []string{"a", "b", "c", "d"},
		councilCallDeadline: time.Second,
		generator: &fakeGenerator{
			response: map[string]providers.GenerateResult{
				"a": {Text: "answer-a"}, "b": {Text: "answer-b"}, "c": {Text: "answer-c"},
			},
			err: map[string]error{"d": errors.New("boom")},
		},
	}
	positions, err := o.councilDeliberation(context.Background(), "question")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) < councilQuorum(4) {
		t.Fatalf("expected at least quorum positions, got %d", len(positions))
	}
}

func TestSynthesize_SimpleQueryUsesUserInputDirectly(t *testing.T) {
	gen := &fakeGenerator{response: map[string]providers.GenerateResult{"synth": {Text: "final answer"}}}
	o := &Orchestrator{generator: gen, synthesisAlias: "synth", synthesisDeadline: time.Second}
	state := &RequestState{UserInput: "What time is it?", RoutingIntent: IntentSimpleQuery}
	text, err := o.synthesize(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "final answer" {
		t.Fatalf("expected %q, got %q", "final answer", text)
	}
}

func TestParseActionSpec_ValidSpec(t *testing.T) {
	spec, ok := parseActionSpec(`Here's the plan: {"tool_name": "get_bitcoin_price", "params": {}}`)
	if !ok || spec.ToolName != "get_bitcoin_price" {
		t.Fatalf("expected parsed action spec, got %+v ok=%v", spec, ok)
	}
}

func TestParseActionSpec_NoSpecIsNoOp(t *testing.T) {
	_, ok := parseActionSpec("just a plain text answer, no action needed")
	if ok {
		t.Fatalf("expected no action spec to be found")
	}
}
