package providers

import "context"

// GenerateOptions carries the sampling knobs shared by every backend.
// Unknown options from callers are simply dropped; backends that don't
// support a knob ignore it.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
	Stream      bool
}

// DefaultGenerateOptions returns the defaults applied when a caller leaves
// an option zero-valued: 1024 max tokens, temperature 0.7, top_p 0.9,
// top_k 40, no streaming.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{MaxTokens: 1024, Temperature: 0.7, TopP: 0.9, TopK: 40, Stream: false}
}

// Usage is normalized token accounting: verbatim from the backend when it
// reports one, or a whitespace-split estimate otherwise.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	Estimated        bool
}

// GenerateResult is a single non-streaming completion.
type GenerateResult struct {
	Text  string
	Usage Usage
}

// LLMProvider is the shared contract every backend client (local
// OpenAI-compatible HTTP, Anthropic, OpenAI, Google, Bedrock) implements.
// The Model Router resolves an alias to one of these and calls Generate or
// HealthCheck; nothing above this interface knows which backend it is
// talking to.
type LLMProvider interface {
	// Generate runs one completion against model on this backend.
	Generate(ctx context.Context, model, prompt string, opts GenerateOptions) (GenerateResult, error)

	// HealthCheck performs a cheap liveness probe, bounded by ctx.
	HealthCheck(ctx context.Context, model string) error
}
