package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}

// AnthropicProvider implements LLMProvider against Claude models. It is a
// single-shot Generate client: streaming events are produced one level up,
// by the orchestrator, not by the provider clients.
type AnthropicProvider struct {
	BaseProvider
	client anthropic.Client
}

var _ LLMProvider = (*AnthropicProvider)(nil)

// NewAnthropicProvider constructs an AnthropicProvider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", cfg.MaxRetries, cfg.RetryDelay),
		client:       anthropic.NewClient(opts...),
	}, nil
}

// Generate sends a single-turn message and returns the concatenated text
// blocks of the response.
func (p *AnthropicProvider) Generate(ctx context.Context, model, prompt string, opts GenerateOptions) (GenerateResult, error) {
	var result GenerateResult
	err := p.Retry(ctx, IsRetryable, func() error {
		msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: int64(maxTokensOrDefault(opts.MaxTokens, 1024)),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return p.wrapError(err, model)
		}
		var text strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		result = GenerateResult{
			Text: text.String(),
			Usage: Usage{
				PromptTokens:     int(msg.Usage.InputTokens),
				CompletionTokens: int(msg.Usage.OutputTokens),
			},
		}
		return nil
	})
	if err != nil {
		return GenerateResult{}, err
	}
	return result, nil
}

// HealthCheck issues a minimal completion with a tight deadline.
func (p *AnthropicProvider) HealthCheck(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.Generate(ctx, model, "ping", GenerateOptions{MaxTokens: 1})
	return err
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewProviderError("anthropic", model, err).WithStatus(apiErr.StatusCode).WithRequestID(apiErr.RequestID)
	}
	return NewProviderError("anthropic", model, err)
}

func maxTokensOrDefault(requested, def int) int {
	if requested <= 0 {
		return def
	}
	return requested
}
