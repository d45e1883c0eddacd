package engine

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/sweetpotato0/shard/errors"
	"github.com/sweetpotato0/shard/event"
	"github.com/sweetpotato0/shard/lookup"
	"github.com/sweetpotato0/shard/message"
	"github.com/sweetpotato0/shard/pkg/telemetry"
	"github.com/sweetpotato0/shard/planner"
	"github.com/sweetpotato0/shard/prompt"
	"github.com/sweetpotato0/shard/research"
	"github.com/sweetpotato0/shard/session"
)

// contextItem is one block of the research context handed to the model.
type contextItem struct {
	Kind    lookup.Kind
	Query   string
	Body    string
	Sources []lookup.Source
}

// augment runs the planned lookups. The research loop and the single-shot
// adapters run concurrently; items come back in plan order.
func (e *Engine) augment(ctx context.Context, gen *session.Generation, tok session.Token, plan *planner.Plan) []contextItem {
	ctx, span := telemetry.Start(ctx, "engine.augment", attribute.Int("shard.tools", len(plan.Calls)))
	defer telemetry.End(span, nil)

	results := make([][]contextItem, len(plan.Calls))
	var g errgroup.Group
	for i, call := range plan.Calls {
		if call.Kind == lookup.KindEncyclopedia && e.research != nil {
			g.Go(func() error {
				results[i] = e.runResearch(ctx, gen, tok, call)
				return nil
			})
			continue
		}
		adapter, ok := e.lookups.Get(call.Kind)
		if !ok {
			e.logger.Debug("no adapter for planned lookup", "kind", call.Kind, "query", call.Query)
			continue
		}
		g.Go(func() error {
			if item, ok := e.lookupOnce(ctx, gen, tok, adapter, call); ok {
				results[i] = []contextItem{item}
			}
			return nil
		})
	}
	_ = g.Wait()

	var items []contextItem
	for _, r := range results {
		items = append(items, r...)
	}
	return items
}

// lookupOnce performs a single-shot lookup with its started/completed pair.
func (e *Engine) lookupOnce(ctx context.Context, gen *session.Generation, tok session.Token, adapter lookup.Adapter, call planner.Call) (contextItem, bool) {
	if tok.Cancelled() {
		return contextItem{}, false
	}
	inv := gen.StartTool(call.Kind, call.Query)
	if !e.emit(tok, event.NewToolStarted(gen.ID(), string(call.Kind), call.Query)) {
		_ = gen.FinishTool(inv, nil, errors.ErrCancelled)
		return contextItem{}, false
	}

	lctx, span := telemetry.Start(ctx, "engine.lookup",
		attribute.String("shard.tool", string(call.Kind)),
		attribute.String("shard.query", call.Query),
	)
	res, err := adapter.Lookup(lctx, call.Query)
	telemetry.End(span, err)
	if tok.Cancelled() {
		_ = gen.FinishTool(inv, nil, errors.ErrCancelled)
		return contextItem{}, false
	}
	_ = gen.FinishTool(inv, res, err)
	e.emit(tok, completedEvent(gen.ID(), call.Kind, call.Query, res, err))
	if err != nil {
		e.logger.Warn("lookup failed", "id", gen.ID(), "kind", call.Kind, "query", call.Query, "error", err)
		return contextItem{}, false
	}
	return itemFrom(res, call.Query), true
}

func (e *Engine) runResearch(ctx context.Context, gen *session.Generation, tok session.Token, call planner.Call) []contextItem {
	obs := &researchObserver{engine: e, gen: gen, tok: tok, pending: make(map[string]*session.ToolInvocation)}
	out := e.research.Run(ctx, call.Query, tok, obs)
	obs.abandon()
	if out.Cancelled {
		return nil
	}

	items := make([]contextItem, 0, len(out.Findings))
	for _, f := range out.Findings {
		item := contextItem{Kind: lookup.KindEncyclopedia, Query: f.Title, Body: f.Summary}
		if f.URL != "" {
			item.Sources = []lookup.Source{{Name: f.Title, URL: f.URL}}
		}
		items = append(items, item)
	}
	return items
}

// researchObserver turns loop iterations into tool invocations and events.
type researchObserver struct {
	engine *Engine
	gen    *session.Generation
	tok    session.Token

	mu      sync.Mutex
	pending map[string]*session.ToolInvocation
}

func (o *researchObserver) StepStarted(_ int, term string) {
	inv := o.gen.StartTool(lookup.KindEncyclopedia, term)
	o.mu.Lock()
	o.pending[term] = inv
	o.mu.Unlock()
	o.engine.emit(o.tok, event.NewToolStarted(o.gen.ID(), string(lookup.KindEncyclopedia), term))
}

func (o *researchObserver) StepCompleted(step research.Step) {
	o.mu.Lock()
	inv, ok := o.pending[step.Term]
	delete(o.pending, step.Term)
	o.mu.Unlock()
	if !ok {
		return
	}
	_ = o.gen.FinishTool(inv, step.Result, step.Err)
	o.engine.emit(o.tok, completedEvent(o.gen.ID(), lookup.KindEncyclopedia, step.Term, step.Result, step.Err))
}

// abandon fails the steps the loop started but never completed.
func (o *researchObserver) abandon() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for term, inv := range o.pending {
		_ = o.gen.FinishTool(inv, nil, errors.ErrCancelled)
		delete(o.pending, term)
	}
}

func completedEvent(id uint64, kind lookup.Kind, query string, res *lookup.Result, err error) event.Event {
	if err != nil {
		return event.NewToolCompleted(id, string(kind), query, false, "", nil, err.Error())
	}
	if res == nil || res.NotFound {
		return event.NewToolCompleted(id, string(kind), query, true, "", nil, "")
	}
	return event.NewToolCompleted(id, string(kind), query, true, res.Summary, eventSources(res.Sources), "")
}

func eventSources(src []lookup.Source) []event.Source {
	if len(src) == 0 {
		return nil
	}
	out := make([]event.Source, len(src))
	for i, s := range src {
		out[i] = event.Source{Name: s.Name, URL: s.URL}
	}
	return out
}

func itemFrom(res *lookup.Result, query string) contextItem {
	item := contextItem{Kind: res.Kind, Query: query, Body: res.Summary, Sources: res.Sources}
	if res.NotFound {
		item.Body = "No results found."
		if res.Hint != "" {
			item.Body += " " + res.Hint
		}
	}
	return item
}

// withContext rewrites the last user turn to carry the research context.
func (e *Engine) withContext(msgs []*message.Message, items []contextItem) error {
	idx := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleUser {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	text, err := e.prompts.Render(prompt.ResearchContext, map[string]any{
		"Items":    items,
		"Question": msgs[idx].Content,
	})
	if err != nil {
		return err
	}
	msgs[idx].Content = text
	return nil
}
