package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockConfig configures the AWS Bedrock backend.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// BedrockProvider implements LLMProvider against Anthropic Claude models
// hosted on AWS Bedrock. The InvokeModel request/response bodies mirror
// Anthropic's native Messages API shape, which is what Bedrock's Claude
// models expect on the wire.
type BedrockProvider struct {
	BaseProvider
	client *bedrockruntime.Client
}

var _ LLMProvider = (*BedrockProvider)(nil)

// NewBedrockProvider constructs a BedrockProvider.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &BedrockProvider{
		BaseProvider: NewBaseProvider("bedrock", cfg.MaxRetries, cfg.RetryDelay),
		client:       bedrockruntime.NewFromConfig(awsCfg),
	}, nil
}

type bedrockInvokeRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Messages         []bedrockMessage   `json:"messages"`
	Temperature      float64            `json:"temperature,omitempty"`
	TopP             float64            `json:"top_p,omitempty"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockInvokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate invokes a Bedrock-hosted model via InvokeModel using the
// Anthropic Messages wire format.
func (p *BedrockProvider) Generate(ctx context.Context, model, prompt string, opts GenerateOptions) (GenerateResult, error) {
	payload := bedrockInvokeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokensOrDefault(opts.MaxTokens, 1024),
		Messages:         []bedrockMessage{{Role: "user", Content: prompt}},
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return GenerateResult{}, NewProviderError("bedrock", model, fmt.Errorf("marshal request: %w", err))
	}

	var result GenerateResult
	err = p.Retry(ctx, IsRetryable, func() error {
		out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(model),
			ContentType: aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return NewProviderError("bedrock", model, err)
		}
		var decoded bedrockInvokeResponse
		if err := json.Unmarshal(out.Body, &decoded); err != nil {
			return NewProviderError("bedrock", model, fmt.Errorf("decode response: %w", err))
		}
		var text string
		for _, block := range decoded.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		if text == "" {
			return NewProviderError("bedrock", model, errors.New("empty response content"))
		}
		result = GenerateResult{
			Text: text,
			Usage: Usage{
				PromptTokens:     decoded.Usage.InputTokens,
				CompletionTokens: decoded.Usage.OutputTokens,
			},
		}
		return nil
	})
	if err != nil {
		return GenerateResult{}, err
	}
	return result, nil
}

// HealthCheck issues a minimal invocation with a tight deadline.
func (p *BedrockProvider) HealthCheck(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.Generate(ctx, model, "ping", GenerateOptions{MaxTokens: 1})
	return err
}
