// Package gateway normalizes the streaming chat-completion protocols of the
// supported model backends into one Delta sequence.
package gateway

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	shardErrors "github.com/sweetpotato0/shard/errors"
	"github.com/sweetpotato0/shard/message"
	"github.com/sweetpotato0/shard/pkg/logging"
)

// Delta is the backend-agnostic unit of streamed model output. The last
// element of every successful stream has Final set and no other element does.
type Delta struct {
	Text      string `json:"text_delta,omitempty"`
	Reasoning string `json:"reasoning_delta,omitempty"`
	Final     bool   `json:"is_final"`
}

// Empty reports whether the delta carries no text or reasoning.
func (d *Delta) Empty() bool {
	return d.Text == "" && d.Reasoning == ""
}

// Request is the input of one streamed completion.
type Request struct {
	Messages []*message.Message
	Model    string
	// Image, when set, is attached to the last user message.
	Image  *message.Image
	System string
}

// Backend is one upstream streaming protocol.
type Backend interface {
	Name() string
	Supports(model string) bool
	Stream(ctx context.Context, req *Request) iter.Seq2[*Delta, error]
}

// UpstreamError reports a transport or protocol failure talking to a backend.
type UpstreamError struct {
	Backend string
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s upstream error (status %d): %s", e.Backend, e.Status, msg)
	}
	return fmt.Sprintf("%s upstream error: %s", e.Backend, msg)
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{shardErrors.ErrUpstream}
	}
	return []error{shardErrors.ErrUpstream, e.Err}
}

// Gateway routes requests to the first backend that supports the model.
type Gateway struct {
	backends []Backend
	logger   *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBackend registers a backend. Backends are consulted in registration order.
func WithBackend(b Backend) Option {
	return func(g *Gateway) {
		if b != nil {
			g.backends = append(g.backends, b)
		}
	}
}

// WithLogger overrides the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a gateway.
//
// Example:
//
//	gw := gateway.New(
//		gateway.WithBackend(gateway.NewGemini(geminiKey)),
//		gateway.WithBackend(gateway.NewOpenRouter(openRouterKey)),
//	)
func New(opts ...Option) *Gateway {
	g := &Gateway{}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logging.WithComponent("gateway")
	}
	return g
}

// Resolve returns the backend serving model.
func (g *Gateway) Resolve(model string) (Backend, error) {
	for _, b := range g.backends {
		if b.Supports(model) {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", shardErrors.ErrUnsupportedModel, model)
}

// OpenStream streams a completion for req. Failures, including an unknown
// model, surface as a single *UpstreamError element.
func (g *Gateway) OpenStream(ctx context.Context, req *Request) iter.Seq2[*Delta, error] {
	backend, err := g.Resolve(req.Model)
	if err != nil {
		return func(yield func(*Delta, error) bool) {
			yield(nil, &UpstreamError{Backend: "gateway", Err: err})
		}
	}
	g.logger.Debug("opening stream", "backend", backend.Name(), "model", req.Model, "messages", len(req.Messages))
	return backend.Stream(ctx, req)
}

// Collect drains a stream into its accumulated text and reasoning.
func Collect(seq iter.Seq2[*Delta, error]) (text, reasoning string, err error) {
	for d, err := range seq {
		if err != nil {
			return text, reasoning, err
		}
		text += d.Text
		reasoning += d.Reasoning
	}
	return text, reasoning, nil
}

func defaultHTTPClient() *http.Client {
	// Streams are bounded by the request context only.
	return &http.Client{}
}
