package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements LLMProvider against OpenAI's chat-completions
// API.
type OpenAIProvider struct {
	BaseProvider
	client *openai.Client
}

var _ LLMProvider = (*OpenAIProvider)(nil)

// NewOpenAIProvider constructs an OpenAIProvider.
func NewOpenAIProvider(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	return &OpenAIProvider{
		BaseProvider: NewBaseProvider("openai", 3, time.Second),
		client:       openai.NewClient(apiKey),
	}, nil
}

// Generate sends a single chat completion request.
func (p *OpenAIProvider) Generate(ctx context.Context, model, prompt string, opts GenerateOptions) (GenerateResult, error) {
	var result GenerateResult
	err := p.Retry(ctx, IsRetryable, func() error {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxTokens:   maxTokensOrDefault(opts.MaxTokens, 1024),
			Temperature: float32(opts.Temperature),
			TopP:        float32(opts.TopP),
		})
		if err != nil {
			return p.wrapError(err, model)
		}
		if len(resp.Choices) == 0 {
			return NewProviderError("openai", model, errors.New("no choices in response"))
		}
		result = GenerateResult{
			Text: resp.Choices[0].Message.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
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
func (p *OpenAIProvider) HealthCheck(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.Generate(ctx, model, "ping", GenerateOptions{MaxTokens: 1})
	return err
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr := NewProviderError("openai", model, err).WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Code != nil {
			perr = perr.WithCode(fmt.Sprint(apiErr.Code))
		}
		return perr
	}
	return NewProviderError("openai", model, err)
}
