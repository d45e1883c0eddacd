package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sweetpotato0/shard/message"
	"github.com/sweetpotato0/shard/pkg/logging"
	"github.com/tidwall/gjson"
)

const DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini streams generateContent responses over SSE. Thought parts are
// surfaced on the reasoning channel.
type Gemini struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// GeminiOption configures a Gemini backend.
type GeminiOption func(*Gemini)

func WithGeminiBaseURL(u string) GeminiOption {
	return func(g *Gemini) {
		if u != "" {
			g.baseURL = u
		}
	}
}

func WithGeminiHTTPClient(c *http.Client) GeminiOption {
	return func(g *Gemini) {
		if c != nil {
			g.client = c
		}
	}
}

func WithGeminiLogger(l *slog.Logger) GeminiOption {
	return func(g *Gemini) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGemini creates a Gemini backend.
func NewGemini(apiKey string, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		apiKey:  apiKey,
		baseURL: DefaultGeminiURL,
		client:  defaultHTTPClient(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logging.WithComponent("gateway.gemini")
	}
	return g
}

func (g *Gemini) Name() string { return BackendGemini }

func (g *Gemini) Supports(model string) bool { return isGeminiModel(model) }

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts,omitempty"`
	ThinkingBudget  *int `json:"thinkingBudget,omitempty"`
}

type geminiGenerationConfig struct {
	ThinkingConfig *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

// buildRequest returns the wire body and the base model id to call.
func (g *Gemini) buildRequest(req *Request) (geminiRequest, string) {
	base, thinking := splitThinking(req.Model)
	out := geminiRequest{}
	if req.System != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	switch {
	case thinking:
		out.GenerationConfig = &geminiGenerationConfig{ThinkingConfig: &geminiThinkingConfig{IncludeThoughts: true}}
	case supportsThinkingBudget(base):
		zero := 0
		out.GenerationConfig = &geminiGenerationConfig{ThinkingConfig: &geminiThinkingConfig{ThinkingBudget: &zero}}
	}

	last := lastUserIndex(req.Messages)
	for i, msg := range req.Messages {
		role := "user"
		if msg.Role == message.RoleAssistant {
			role = "model"
		}
		parts := []geminiPart{{Text: msg.Content}}
		img := msg.Image
		if i == last && req.Image != nil {
			img = req.Image
		}
		if img != nil {
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{
				MIMEType: img.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(img.Data),
			}})
		}
		out.Contents = append(out.Contents, geminiContent{Role: role, Parts: parts})
	}
	return out, base
}

func (g *Gemini) Stream(ctx context.Context, req *Request) iter.Seq2[*Delta, error] {
	return func(yield func(*Delta, error) bool) {
		wire, base := g.buildRequest(req)
		body, err := json.Marshal(wire)
		if err != nil {
			yield(nil, &UpstreamError{Backend: g.Name(), Err: fmt.Errorf("encode request: %w", err)})
			return
		}
		endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
			strings.TrimRight(g.baseURL, "/"), url.PathEscape(base), url.QueryEscape(g.apiKey))
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			yield(nil, &UpstreamError{Backend: g.Name(), Err: err})
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := send(g.client, g.Name(), httpReq)
		if err != nil {
			yield(nil, err)
			return
		}
		readEvents(ctx, g.Name(), resp.Body, decodeGemini, g.logger, yield)
	}
}

func decodeGemini(data []byte) (*Delta, error) {
	if !gjson.ValidBytes(data) {
		return nil, malformed("invalid JSON")
	}
	r := gjson.ParseBytes(data)
	if e := r.Get("error"); e.Exists() {
		return nil, &UpstreamError{Backend: BackendGemini, Status: int(e.Get("code").Int()), Message: e.Get("message").String()}
	}
	if reason := r.Get("promptFeedback.blockReason").String(); reason != "" {
		return nil, &UpstreamError{Backend: BackendGemini, Message: "prompt blocked: " + reason}
	}
	if !r.Get("candidates").Exists() {
		// usage-only frames are well formed but empty
		if r.Get("usageMetadata").Exists() || r.Get("promptFeedback").Exists() {
			return nil, nil
		}
		return nil, malformed("missing candidates")
	}
	d := &Delta{}
	for _, part := range r.Get("candidates.0.content.parts").Array() {
		text := part.Get("text").String()
		if part.Get("thought").Bool() {
			d.Reasoning += text
		} else {
			d.Text += text
		}
	}
	return d, nil
}
