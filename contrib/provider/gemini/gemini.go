// Package gemini implements llm.Completer on the Google Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Config holds Gemini provider configuration
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// JSON asks the model for an application/json response.
	JSON bool
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey: apiKey,
		Model:  "gemini-2.0-flash",
		JSON:   true,
	}
}

// Provider completes prompts with a Gemini model.
type Provider struct {
	config *Config
	client *genai.Client
}

// New creates a Gemini provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		return nil, fmt.Errorf("gemini: config is required")
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{config: config, client: client}, nil
}

// Complete implements llm.Completer.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	var cfg *genai.GenerateContentConfig
	if p.config.JSON {
		cfg = &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini: empty response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

const recognizePrompt = "Transcribe all text visible in this image. Respond with the text only."

// Recognize extracts the text shown in an image.
func (p *Provider) Recognize(ctx context.Context, image []byte, mimeType string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(recognizePrompt),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini: recognize: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// Model returns the configured model id.
func (p *Provider) Model() string {
	return p.config.Model
}
