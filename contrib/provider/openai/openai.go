// Package openai implements llm.Completer on the OpenAI SDK. Any
// OpenAI-compatible endpoint works; the default base URL is OpenRouter.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const DefaultBaseURL = "https://openrouter.ai/api/v1/"

// Config holds OpenAI-compatible provider configuration
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns a configuration targeting OpenRouter.
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:    apiKey,
		Model:     "deepseek/deepseek-chat-v3-0324:free",
		BaseURL:   DefaultBaseURL,
		MaxTokens: 1024,
	}
}

// Provider completes prompts against a chat-completions endpoint.
type Provider struct {
	config *Config
	client openai.Client
}

// New creates an OpenAI-compatible provider.
func New(config *Config) *Provider {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	client := openai.NewClient(
		option.WithAPIKey(config.APIKey),
		option.WithBaseURL(config.BaseURL),
		option.WithHeader("X-Title", "Shard"),
		option.WithMaxRetries(1),
	)
	return &Provider{config: config, client: client}
}

// Complete implements llm.Completer.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.config.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if p.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(p.config.MaxTokens)
	}
	if p.config.Temperature > 0 {
		params.Temperature = openai.Float(p.config.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
