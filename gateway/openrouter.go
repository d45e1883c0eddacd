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

	"github.com/sweetpotato0/shard/message"
	"github.com/sweetpotato0/shard/pkg/logging"
	"github.com/tidwall/gjson"
)

const (
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"
	openRouterReferer    = "http://localhost"
	openRouterTitle      = "Shard"
)

// OpenRouter streams OpenAI-compatible chat completions.
type OpenRouter struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// OpenRouterOption configures an OpenRouter backend.
type OpenRouterOption func(*OpenRouter)

func WithOpenRouterBaseURL(u string) OpenRouterOption {
	return func(o *OpenRouter) {
		if u != "" {
			o.baseURL = u
		}
	}
}

func WithOpenRouterHTTPClient(c *http.Client) OpenRouterOption {
	return func(o *OpenRouter) {
		if c != nil {
			o.client = c
		}
	}
}

func WithOpenRouterLogger(l *slog.Logger) OpenRouterOption {
	return func(o *OpenRouter) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOpenRouter creates an OpenRouter backend.
func NewOpenRouter(apiKey string, opts ...OpenRouterOption) *OpenRouter {
	o := &OpenRouter{
		apiKey:  apiKey,
		baseURL: DefaultOpenRouterURL,
		client:  defaultHTTPClient(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.WithComponent("gateway.openrouter")
	}
	return o
}

func (o *OpenRouter) Name() string { return BackendOpenRouter }

func (o *OpenRouter) Supports(model string) bool { return isOpenRouterModel(model) }

type openRouterMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openRouterPart struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterRequest struct {
	Model            string              `json:"model"`
	Messages         []openRouterMessage `json:"messages"`
	Stream           bool                `json:"stream"`
	IncludeReasoning bool                `json:"include_reasoning,omitempty"`
}

func (o *OpenRouter) buildRequest(req *Request) openRouterRequest {
	out := openRouterRequest{
		Model:            req.Model,
		Stream:           true,
		IncludeReasoning: wantsReasoning(req.Model),
	}
	if req.System != "" {
		out.Messages = append(out.Messages, openRouterMessage{Role: "system", Content: req.System})
	}
	last := lastUserIndex(req.Messages)
	for i, msg := range req.Messages {
		img := msg.Image
		if i == last && req.Image != nil {
			img = req.Image
		}
		if img == nil {
			out.Messages = append(out.Messages, openRouterMessage{Role: string(msg.Role), Content: msg.Content})
			continue
		}
		out.Messages = append(out.Messages, openRouterMessage{
			Role: string(msg.Role),
			Content: []openRouterPart{
				{Type: "text", Text: msg.Content},
				{Type: "image_url", ImageURL: &openRouterImageURL{URL: dataURL(img)}},
			},
		})
	}
	return out
}

func (o *OpenRouter) Stream(ctx context.Context, req *Request) iter.Seq2[*Delta, error] {
	return func(yield func(*Delta, error) bool) {
		body, err := json.Marshal(o.buildRequest(req))
		if err != nil {
			yield(nil, &UpstreamError{Backend: o.Name(), Err: fmt.Errorf("encode request: %w", err)})
			return
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			yield(nil, &UpstreamError{Backend: o.Name(), Err: err})
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
		httpReq.Header.Set("HTTP-Referer", openRouterReferer)
		httpReq.Header.Set("X-Title", openRouterTitle)

		resp, err := send(o.client, o.Name(), httpReq)
		if err != nil {
			yield(nil, err)
			return
		}
		readEvents(ctx, o.Name(), resp.Body, decodeOpenRouter, o.logger, yield)
	}
}

func decodeOpenRouter(data []byte) (*Delta, error) {
	if !gjson.ValidBytes(data) {
		return nil, malformed("invalid JSON")
	}
	r := gjson.ParseBytes(data)
	if e := r.Get("error"); e.Exists() {
		return nil, &UpstreamError{Backend: BackendOpenRouter, Status: int(e.Get("code").Int()), Message: e.Get("message").String()}
	}
	choices := r.Get("choices")
	if !choices.IsArray() {
		return nil, malformed("missing choices")
	}
	delta := r.Get("choices.0.delta")
	return &Delta{
		Text:      delta.Get("content").String(),
		Reasoning: delta.Get("reasoning").String(),
	}, nil
}

func lastUserIndex(msgs []*message.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleUser {
			return i
		}
	}
	return -1
}

func dataURL(img *message.Image) string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
