package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LocalConfig configures the local OpenAI-compatible HTTP backend (e.g. an
// in-cluster vLLM or llama.cpp server reachable at host:port).
type LocalConfig struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// LocalProvider talks to any backend that speaks the OpenAI chat-completions
// wire format over plain HTTP: llama.cpp's server, Ollama's OpenAI-compat
// endpoint, or anything else listening on /v1/chat/completions.
type LocalProvider struct {
	BaseProvider
	client  *http.Client
	baseURL string
}

var _ LLMProvider = (*LocalProvider)(nil)

// NewLocalProvider builds a LocalProvider for a given host:port.
func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &LocalProvider{
		BaseProvider: NewBaseProvider("local", 3, time.Second),
		client:       &http.Client{Timeout: timeout},
		baseURL:      fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
	}
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// sentinelMessageMarker ends the "<|channel|>...<|message|>" framing some
// local chat templates leak into raw completions; Generate strips
// everything up to and including the final marker before returning text.
const sentinelMessageMarker = "<|message|>"

func stripChannelSentinel(text string) string {
	if idx := strings.LastIndex(text, sentinelMessageMarker); idx >= 0 {
		return strings.TrimSpace(text[idx+len(sentinelMessageMarker):])
	}
	return text
}

// Generate sends a single non-streaming chat completion request.
func (p *LocalProvider) Generate(ctx context.Context, model, prompt string, opts GenerateOptions) (GenerateResult, error) {
	payload := chatCompletionRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stream:      false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return GenerateResult{}, NewProviderError("local", model, fmt.Errorf("marshal request: %w", err))
	}

	var result GenerateResult
	err = p.Retry(ctx, IsRetryable, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return NewProviderError("local", model, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return NewProviderError("local", model, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
			return NewProviderError("local", model, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
		}

		var decoded chatCompletionResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return NewProviderError("local", model, fmt.Errorf("decode response: %w", err))
		}
		if len(decoded.Choices) == 0 {
			return NewProviderError("local", model, fmt.Errorf("no choices in response"))
		}

		text := stripChannelSentinel(decoded.Choices[0].Message.Content)
		usage := Usage{PromptTokens: decoded.Usage.PromptTokens, CompletionTokens: decoded.Usage.CompletionTokens}
		if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
			usage = Usage{PromptTokens: len(strings.Fields(prompt)), CompletionTokens: len(strings.Fields(text)), Estimated: true}
		}
		result = GenerateResult{Text: text, Usage: usage}
		return nil
	})
	if err != nil {
		return GenerateResult{}, err
	}
	return result, nil
}

// HealthCheck performs a minimal completion call with a tight deadline.
func (p *LocalProvider) HealthCheck(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.Generate(ctx, model, "ping", GenerateOptions{MaxTokens: 1})
	return err
}
