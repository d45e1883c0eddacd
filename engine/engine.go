// Package engine turns one submitted turn into a generation: optional
// lookups, a streamed model answer and an ordered event timeline.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sweetpotato0/shard/errors"
	"github.com/sweetpotato0/shard/event"
	"github.com/sweetpotato0/shard/gateway"
	"github.com/sweetpotato0/shard/lookup"
	"github.com/sweetpotato0/shard/message"
	"github.com/sweetpotato0/shard/pkg/logging"
	"github.com/sweetpotato0/shard/pkg/telemetry"
	"github.com/sweetpotato0/shard/planner"
	"github.com/sweetpotato0/shard/prompt"
	"github.com/sweetpotato0/shard/research"
	"github.com/sweetpotato0/shard/session"
)

// TurnRequest is one submission from the presentation layer.
type TurnRequest struct {
	Messages  []*message.Message `json:"messages"`
	Model     string             `json:"model_id"`
	WebSearch bool               `json:"web_search_enabled"`
	Image     *message.Image     `json:"image,omitempty"`
}

// Engine owns the single current generation. Event handlers run
// synchronously inside Emit and must not call back into the engine on the
// same goroutine.
type Engine struct {
	gateway    *gateway.Gateway
	emitter    event.Emitter
	planner    planner.Planner
	lookups    *lookup.Registry
	research   *research.Loop
	controller *session.Controller
	sessions   *session.Manager
	prompts    *prompt.Manager
	logger     *slog.Logger

	// gate orders emission against cancellation: emitters hold it shared,
	// Submit and Cancel hold it exclusively.
	gate sync.RWMutex
	wg   sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithPlanner sets the tool planner. Without one no lookups run.
func WithPlanner(p planner.Planner) Option {
	return func(e *Engine) {
		e.planner = p
	}
}

// WithLookups sets the single-shot adapters. An encyclopedia adapter in the
// registry also backs the default research loop.
func WithLookups(r *lookup.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.lookups = r
		}
	}
}

// WithResearch overrides the encyclopedia research loop.
func WithResearch(l *research.Loop) Option {
	return func(e *Engine) {
		e.research = l
	}
}

// WithController shares a cancellation controller with the engine.
func WithController(c *session.Controller) Option {
	return func(e *Engine) {
		if c != nil {
			e.controller = c
		}
	}
}

// WithSessions sets the generation arena, and with it the history store.
func WithSessions(m *session.Manager) Option {
	return func(e *Engine) {
		if m != nil {
			e.sessions = m
		}
	}
}

// WithPrompts sets the templates for the system prompt and research context.
func WithPrompts(m *prompt.Manager) Option {
	return func(e *Engine) {
		if m != nil {
			e.prompts = m
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine streaming through gw and publishing to emitter.
func New(gw *gateway.Gateway, emitter event.Emitter, opts ...Option) *Engine {
	e := &Engine{
		gateway: gw,
		emitter: emitter,
		lookups: lookup.NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.WithComponent("engine")
	}
	if e.controller == nil {
		e.controller = session.NewController()
	}
	if e.sessions == nil {
		e.sessions = session.NewManager(session.WithLogger(e.logger))
	}
	if e.prompts == nil {
		e.prompts = prompt.NewDefaultManager()
	}
	if e.research == nil {
		if wiki, ok := e.lookups.Get(lookup.KindEncyclopedia); ok {
			e.research = research.New(wiki, research.Heuristic{}, research.WithLogger(e.logger))
		}
	}
	return e
}

// Current returns the id of the current generation, 0 when none is.
func (e *Engine) Current() uint64 {
	return e.controller.Current()
}

// Sessions exposes the generation arena.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// SubmitTurn supersedes the current generation and starts a new one in the
// background. The outcome is delivered as events bearing the returned id.
func (e *Engine) SubmitTurn(ctx context.Context, req TurnRequest) uint64 {
	e.gate.Lock()
	id, superseded := e.controller.Begin()
	if superseded != 0 {
		e.sessions.Cancel(superseded)
	}
	gen, err := e.sessions.Create(id, req.Model)
	e.gate.Unlock()
	if err != nil {
		e.logger.Error("create generation failed", "id", id, "error", err)
		return id
	}
	if superseded != 0 {
		e.logger.Info("generation superseded", "id", superseded, "by", id)
	}

	// The caller keeps ownership of its slice once SubmitTurn returns.
	req.Messages = message.CloneMessages(req.Messages)
	if req.Image != nil {
		img := *req.Image
		img.Data = append([]byte(nil), req.Image.Data...)
		req.Image = &img
	}

	tok := session.NewToken(e.controller, gen)
	ctx = context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, gen, tok, req)
	}()
	return id
}

// CancelCurrentGeneration cancels the current generation, if any. Once it
// returns no further event for that generation is emitted.
func (e *Engine) CancelCurrentGeneration() uint64 {
	e.gate.Lock()
	defer e.gate.Unlock()
	id := e.controller.Cancel()
	if id != 0 {
		e.sessions.Cancel(id)
		e.logger.Info("generation cancelled", "id", id)
	}
	return id
}

// Wait blocks until every started generation goroutine has returned,
// including superseded ones still draining their network calls.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// emit publishes ev unless tok has tripped.
func (e *Engine) emit(tok session.Token, ev event.Event) bool {
	e.gate.RLock()
	defer e.gate.RUnlock()
	if tok.Cancelled() {
		return false
	}
	e.emitter.Emit(ev)
	return true
}

func (e *Engine) run(ctx context.Context, gen *session.Generation, tok session.Token, req TurnRequest) {
	ctx, span := telemetry.Start(ctx, "engine.generation",
		attribute.Int64("shard.generation.id", int64(gen.ID())),
		attribute.String("shard.model", req.Model),
		attribute.Bool("shard.web_search", req.WebSearch),
	)
	var runErr error
	defer func() { telemetry.End(span, runErr) }()
	defer func() { _ = e.sessions.Persist(ctx, gen) }()

	logger := e.logger.With("id", gen.ID(), "model", req.Model)
	_ = gen.Transition(session.StateStarting)

	if err := validate(req); err != nil {
		runErr = err
		e.fail(gen, tok, err)
		return
	}
	if _, err := e.gateway.Resolve(req.Model); err != nil {
		runErr = err
		e.fail(gen, tok, err)
		return
	}

	msgs := req.Messages
	var items []contextItem
	if req.WebSearch && e.planner != nil {
		plan, err := e.planner.Plan(ctx, msgs)
		if err != nil {
			logger.Warn("planning failed, answering without tools", "error", err)
		}
		if e.stopped(gen, tok) {
			return
		}
		plan = planner.Normalize(plan)
		if len(plan.Calls) > 0 {
			_ = gen.Transition(session.StateToolAugmenting)
			items = e.augment(ctx, gen, tok, plan)
		}
	}
	if e.stopped(gen, tok) {
		return
	}

	if len(items) > 0 {
		if err := e.withContext(msgs, items); err != nil {
			logger.Warn("research context not applied", "error", err)
		}
	}

	_ = gen.Transition(session.StateStreaming)
	sctx, streamSpan := telemetry.Start(ctx, "engine.stream")
	defer func() { telemetry.End(streamSpan, runErr) }()
	stream := e.gateway.OpenStream(sctx, &gateway.Request{
		Messages: msgs,
		Model:    req.Model,
		Image:    req.Image,
		System:   e.prompts.MustRender(prompt.System, nil),
	})
	for delta, err := range stream {
		if e.stopped(gen, tok) {
			return
		}
		if err != nil {
			runErr = err
			e.fail(gen, tok, err)
			return
		}
		if delta.Final {
			break
		}
		if delta.Empty() {
			continue
		}
		gen.Append(delta.Text, delta.Reasoning)
		if !e.emit(tok, event.NewChunk(gen.ID(), delta.Text, delta.Reasoning)) {
			e.stopped(gen, tok)
			return
		}
	}

	e.gate.RLock()
	defer e.gate.RUnlock()
	if e.stopped(gen, tok) {
		return
	}
	_ = gen.Transition(session.StateCompleted)
	e.emitter.Emit(event.NewEnd(gen.ID(), gen.Text(), gen.Reasoning()))
	logger.Info("generation completed", "text_len", len(gen.Text()), "tools", len(gen.Invocations()))
}

// stopped moves a tripped generation to Cancelled and reports whether it did.
func (e *Engine) stopped(gen *session.Generation, tok session.Token) bool {
	if !tok.Cancelled() {
		return false
	}
	if !gen.State().Terminal() {
		gen.Fail(errors.ErrCancelled.Error())
		_ = gen.Transition(session.StateCancelled)
	}
	return true
}

func (e *Engine) fail(gen *session.Generation, tok session.Token, err error) {
	e.gate.RLock()
	defer e.gate.RUnlock()
	if e.stopped(gen, tok) {
		return
	}
	msg := err.Error()
	gen.Fail(msg)
	_ = gen.Transition(session.StateErrored)
	e.emitter.Emit(event.NewError(gen.ID(), msg))
	e.logger.Warn("generation failed", "id", gen.ID(), "error", err)
}

func validate(req TurnRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: conversation is empty", errors.ErrInvalidInput)
	}
	for i, msg := range req.Messages {
		if msg == nil || !msg.Role.Valid() {
			return fmt.Errorf("%w: message %d has no valid role", errors.ErrInvalidInput, i)
		}
	}
	if message.LastUser(req.Messages) == nil {
		return fmt.Errorf("%w: conversation has no user turn", errors.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Model) == "" {
		return fmt.Errorf("%w: model is required", errors.ErrInvalidInput)
	}
	return nil
}
