package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GoogleConfig configures the Gemini backend.
type GoogleConfig struct {
	APIKey     string
	MaxRetries int
	RetryDelay time.Duration
}

// GoogleProvider implements LLMProvider against Gemini models using the
// Google Gen AI Go SDK. Single-shot Generate only: no streaming, no tool
// calls. Those belong to the orchestrator's council/synthesis layer, not
// the router.
type GoogleProvider struct {
	BaseProvider
	client *genai.Client
}

var _ LLMProvider = (*GoogleProvider)(nil)

// NewGoogleProvider constructs a GoogleProvider.
func NewGoogleProvider(ctx context.Context, cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, NewProviderError("google", "", err)
	}
	return &GoogleProvider{
		BaseProvider: NewBaseProvider("google", cfg.MaxRetries, cfg.RetryDelay),
		client:       client,
	}, nil
}

// Generate sends a single-turn generation request.
func (p *GoogleProvider) Generate(ctx context.Context, model, prompt string, opts GenerateOptions) (GenerateResult, error) {
	var result GenerateResult
	err := p.Retry(ctx, IsRetryable, func() error {
		resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
			MaxOutputTokens: int32(maxTokensOrDefault(opts.MaxTokens, 1024)),
			Temperature:     genai.Ptr(float32(opts.Temperature)),
			TopP:            genai.Ptr(float32(opts.TopP)),
		})
		if err != nil {
			return p.wrapError(err, model)
		}

		var text strings.Builder
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				text.WriteString(part.Text)
			}
		}

		usage := Usage{PromptTokens: len(strings.Fields(prompt)), Estimated: true}
		if resp.UsageMetadata != nil {
			usage = Usage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
		result = GenerateResult{Text: text.String(), Usage: usage}
		return nil
	})
	if err != nil {
		return GenerateResult{}, err
	}
	return result, nil
}

// HealthCheck issues a minimal generation call with a tight deadline.
func (p *GoogleProvider) HealthCheck(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.Generate(ctx, model, "ping", GenerateOptions{MaxTokens: 1})
	return err
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("google", model, err)
}
