package orchestrator

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// classifyLexical is the deterministic classifier fallback: lexical signal
// matching plus a length bias away from simple_query.
// It never errors — a request with no recognizable signal falls through to
// the conservative complex_reasoning default via the confidence<0.5 rule
// applied by (*Orchestrator).classify.
func classifyLexical(userInput string) (Intent, float64) {
	lower := strings.ToLower(userInput)
	tokens := strings.Fields(userInput)

	scores := map[Intent]float64{}
	for _, kw := range []string{"what", "who", "when", "where", "define", "definition of"} {
		if strings.Contains(lower, kw) {
			scores[IntentSimpleQuery]++
		}
	}
	for _, kw := range []string{"pros and cons", "compare", "comparison", "analyze", "analysis", "trade-off", "trade-offs", "tradeoffs"} {
		if strings.Contains(lower, kw) {
			scores[IntentComplexReasoning]++
		}
	}
	for _, kw := range []string{"find connections", "explore", "exploration", "patterns", "connections between", "related to"} {
		if strings.Contains(lower, kw) {
			scores[IntentExploratory]++
		}
	}
	if len(tokens) > 0 {
		first := strings.ToLower(strings.TrimRight(tokens[0], ".,!?:;"))
		for _, verb := range []string{"execute", "run", "create", "send", "delete", "update", "generate", "build", "deploy", "schedule", "cancel", "buy", "sell", "transfer", "book", "order"} {
			if first == verb {
				scores[IntentAction] += 1.5
			}
		}
	}
	if len(tokens) > 15 {
		scores[IntentSimpleQuery] -= 0.5
	}

	best := IntentComplexReasoning
	bestScore := 0.0
	for intent, score := range scores {
		if score > bestScore {
			bestScore = score
			best = intent
		}
	}
	if bestScore <= 0 {
		return IntentComplexReasoning, 0.4
	}
	confidence := bestScore / (bestScore + 1)
	return best, confidence
}

// classifierLLMPrompt asks the configured SmartRouter model for a compact
// JSON classification in a single lightweight call.
func classifierLLMPrompt(userInput string) string {
	var b strings.Builder
	b.WriteString("Classify the following user request into exactly one intent: ")
	b.WriteString("simple_query, complex_reasoning, exploratory, or action. ")
	b.WriteString(`Respond with JSON only: {"intent": "...", "confidence": 0.0-1.0}.` + "\n\nRequest: ")
	b.WriteString(userInput)
	return b.String()
}

type classifierLLMResponse struct {
	Intent     string      `json:"intent"`
	Confidence json.Number `json:"confidence"`
}

func parseClassifierResponse(raw string) (Intent, float64, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", 0, false
	}
	var resp classifierLLMResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return "", 0, false
	}
	intent := Intent(resp.Intent)
	switch intent {
	case IntentSimpleQuery, IntentComplexReasoning, IntentExploratory, IntentAction:
	default:
		return "", 0, false
	}
	confidence, err := strconv.ParseFloat(resp.Confidence.String(), 64)
	if err != nil {
		return "", 0, false
	}
	return intent, confidence, true
}

// classify runs the SmartRouter phase: an LLM-backed classification when a
// SmartRouterAlias is configured, falling back to the deterministic lexical
// classifier on any LLM failure or malformed response. The confidence<0.5
// conservative default is applied uniformly regardless of which path
// produced the classification.
func (o *Orchestrator) classify(ctx context.Context, userInput string) (Intent, float64) {
	intent, confidence := o.classifyWithoutConservativeDefault(ctx, userInput)
	if confidence < 0.5 {
		return IntentComplexReasoning, confidence
	}
	return intent, confidence
}

func (o *Orchestrator) classifyWithoutConservativeDefault(ctx context.Context, userInput string) (Intent, float64) {
	if o.smartRouterAlias == "" || o.generator == nil {
		return classifyLexical(userInput)
	}
	result, err := o.generator.Generate(ctx, o.smartRouterAlias, classifierLLMPrompt(userInput), o.defaultGenerateOptions)
	if err != nil {
		return classifyLexical(userInput)
	}
	intent, confidence, ok := parseClassifierResponse(result.Text)
	if !ok {
		return classifyLexical(userInput)
	}
	return intent, confidence
}
