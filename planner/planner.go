// Package planner decides which lookups a turn needs before the model answers.
package planner

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/sweetpotato0/shard/llm"
	"github.com/sweetpotato0/shard/lookup"
	"github.com/sweetpotato0/shard/message"
	"github.com/sweetpotato0/shard/pkg/logging"
	"github.com/sweetpotato0/shard/prompt"
)

const (
	defaultPriority = 3
	historyWindow   = 6
)

// Call is one planned lookup.
type Call struct {
	Kind      lookup.Kind `json:"kind"`
	Query     string      `json:"query"`
	Reasoning string      `json:"reasoning,omitempty"`
	Priority  int         `json:"priority"`
}

// Plan is an ordered set of lookups, at most one per kind.
type Plan struct {
	Calls     []Call `json:"calls"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Get returns the call planned for kind.
func (p *Plan) Get(kind lookup.Kind) (Call, bool) {
	if p == nil {
		return Call{}, false
	}
	for _, c := range p.Calls {
		if c.Kind == kind {
			return c, true
		}
	}
	return Call{}, false
}

// Planner chooses lookups for a conversation.
type Planner interface {
	Plan(ctx context.Context, msgs []*message.Message) (*Plan, error)
}

// Func adapts a function to Planner.
type Func func(ctx context.Context, msgs []*message.Message) (*Plan, error)

func (f Func) Plan(ctx context.Context, msgs []*message.Message) (*Plan, error) {
	return f(ctx, msgs)
}

// Static always returns the given calls, normalized.
func Static(calls ...Call) Planner {
	return Func(func(context.Context, []*message.Message) (*Plan, error) {
		return Normalize(&Plan{Calls: calls}), nil
	})
}

// wireCall is the JSON shape the helper model answers with.
type wireCall struct {
	ToolType  string `json:"tool_type"`
	Query     string `json:"query"`
	Reasoning string `json:"reasoning"`
	Priority  int    `json:"priority"`
}

type wirePlan struct {
	Tools     []wireCall `json:"tools"`
	Reasoning string     `json:"reasoning"`
}

var toolKinds = map[string]lookup.Kind{
	"WIKIPEDIA_LOOKUP": lookup.KindEncyclopedia,
	"WEATHER_LOOKUP":   lookup.KindWeather,
	"FINANCIAL_DATA":   lookup.KindFinancial,
	"ARXIV_LOOKUP":     lookup.KindPreprint,
}

// LLM asks a helper model for a tool plan. Any failure degrades to an empty
// plan so the turn is answered without tools.
type LLM struct {
	completer llm.Completer
	prompts   *prompt.Manager
	logger    *slog.Logger
}

// Option configures an LLM planner.
type Option func(*LLM)

func WithPrompts(m *prompt.Manager) Option {
	return func(p *LLM) {
		if m != nil {
			p.prompts = m
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *LLM) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewLLM creates a model-driven planner.
func NewLLM(c llm.Completer, opts ...Option) *LLM {
	p := &LLM{completer: c}
	for _, opt := range opts {
		opt(p)
	}
	if p.prompts == nil {
		p.prompts = prompt.NewDefaultManager()
	}
	if p.logger == nil {
		p.logger = logging.WithComponent("planner")
	}
	return p
}

func (p *LLM) Plan(ctx context.Context, msgs []*message.Message) (*Plan, error) {
	if len(msgs) > historyWindow {
		msgs = msgs[len(msgs)-historyWindow:]
	}
	text, err := p.prompts.Render(prompt.PlanTools, map[string]any{"Conversation": message.Transcript(msgs)})
	if err != nil {
		return nil, err
	}
	raw, err := p.completer.Complete(ctx, text)
	if err != nil {
		p.logger.Warn("tool planning failed, continuing without tools", "error", err)
		return &Plan{}, nil
	}
	wire, err := llm.DecodeJSON[wirePlan](raw)
	if err != nil {
		p.logger.Warn("tool plan unparseable, continuing without tools", "error", err, "raw", raw)
		return &Plan{}, nil
	}

	plan := &Plan{Reasoning: wire.Reasoning}
	for _, c := range wire.Tools {
		kind, ok := toolKinds[strings.ToUpper(strings.TrimSpace(c.ToolType))]
		if !ok {
			p.logger.Debug("dropping unknown tool type", "tool_type", c.ToolType)
			continue
		}
		plan.Calls = append(plan.Calls, Call{Kind: kind, Query: c.Query, Reasoning: c.Reasoning, Priority: c.Priority})
	}
	plan = Normalize(plan)
	p.logger.Info("tool plan ready", "calls", len(plan.Calls), "reasoning", plan.Reasoning)
	return plan, nil
}

// Normalize orders calls by priority and keeps the first call per kind.
// Calls with an empty query or unknown kind are dropped.
func Normalize(p *Plan) *Plan {
	if p == nil {
		return &Plan{}
	}
	calls := make([]Call, 0, len(p.Calls))
	for _, c := range p.Calls {
		c.Query = strings.TrimSpace(c.Query)
		if c.Query == "" || !c.Kind.Valid() {
			continue
		}
		if c.Priority < 1 || c.Priority > 5 {
			c.Priority = defaultPriority
		}
		calls = append(calls, c)
	}
	sort.SliceStable(calls, func(i, j int) bool { return calls[i].Priority < calls[j].Priority })

	seen := make(map[lookup.Kind]bool, len(calls))
	out := calls[:0]
	for _, c := range calls {
		if seen[c.Kind] {
			continue
		}
		seen[c.Kind] = true
		out = append(out, c)
	}
	return &Plan{Calls: out, Reasoning: p.Reasoning}
}
