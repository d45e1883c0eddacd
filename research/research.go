// Package research runs the bounded, sequential encyclopedia loop that
// gathers grounding before the final answer is generated.
package research

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/shard/lookup"
	"github.com/sweetpotato0/shard/pkg/logging"
)

// MaxIterations is the hard ceiling on lookups per generation.
const MaxIterations = 4

const defaultTokenBudget = 6000

// Token reports cooperative cancellation.
type Token interface {
	Cancelled() bool
}

// Observer is notified around every lookup. Calls are never made once the
// token reports cancellation.
type Observer interface {
	StepStarted(iteration int, term string)
	StepCompleted(step Step)
}

// Truncator shortens page content before it is shown to the decider.
type Truncator interface {
	Truncate(text string, maxTokens int) string
}

// Step is the outcome of one lookup iteration.
type Step struct {
	Iteration int
	Term      string
	Result    *lookup.Result
	Err       error
}

// Finding is a piece of grounding the decider accepted.
type Finding struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	URL     string   `json:"url"`
	Path    []string `json:"path_taken"`
}

// Outcome summarizes a loop run.
type Outcome struct {
	Findings []Finding
	// Pages are every successfully read article, in visit order.
	Pages        []*lookup.Result
	Path         []string
	Iterations   int
	BoundReached bool
	Cancelled    bool
}

// Loop drives the encyclopedia adapter with a Decider.
type Loop struct {
	adapter     lookup.Adapter
	decider     Decider
	max         int
	truncator   Truncator
	tokenBudget int
	logger      *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxIterations lowers the iteration bound. Values above MaxIterations
// are clamped.
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.max = min(n, MaxIterations)
		}
	}
}

func WithTruncator(t Truncator) Option {
	return func(l *Loop) {
		if t != nil {
			l.truncator = t
		}
	}
}

func WithTokenBudget(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.tokenBudget = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a loop over adapter. A nil decider selects Heuristic.
func New(adapter lookup.Adapter, decider Decider, opts ...Option) *Loop {
	if decider == nil {
		decider = Heuristic{}
	}
	l := &Loop{
		adapter:     adapter,
		decider:     decider,
		max:         MaxIterations,
		truncator:   runeTruncator{},
		tokenBudget: defaultTokenBudget,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logging.WithComponent("research")
	}
	return l
}

type pending struct {
	term string
	path []string
}

// Run researches query. It performs at most the configured number of
// lookups, strictly one after another, and stops early on FOUND_ANSWER,
// STOP, an exhausted queue or cancellation.
func (l *Loop) Run(ctx context.Context, query string, token Token, obs Observer) *Outcome {
	out := &Outcome{}
	terms, err := l.decider.Seed(ctx, query)
	if err != nil {
		l.logger.Warn("seeding research terms failed, using the query", "error", err)
	}
	terms = cleanTerms(terms)
	if len(terms) == 0 {
		terms = []string{query}
	}

	queue := make([]pending, 0, len(terms))
	for _, t := range terms {
		queue = append(queue, pending{term: t, path: []string{t}})
	}
	visited := make(map[string]bool)
	var visitedTitles []string

	for out.Iterations < l.max && len(queue) > 0 {
		if token.Cancelled() {
			out.Cancelled = true
			return out
		}
		item := queue[0]
		queue = queue[1:]
		if visited[key(item.term)] {
			continue
		}

		out.Iterations++
		out.Path = append(out.Path, item.term)
		obs.StepStarted(out.Iterations, item.term)
		res, err := l.adapter.Lookup(ctx, item.term)
		if token.Cancelled() {
			out.Cancelled = true
			return out
		}
		obs.StepCompleted(Step{Iteration: out.Iterations, Term: item.term, Result: res, Err: err})

		if err != nil {
			l.logger.Warn("research lookup failed", "iteration", out.Iterations, "term", item.term, "error", err)
			continue
		}
		visited[key(item.term)] = true
		if res.NotFound {
			continue
		}
		if visited[key(res.Title)] && key(res.Title) != key(item.term) {
			continue
		}
		visited[key(res.Title)] = true
		visitedTitles = append(visitedTitles, res.Title)
		out.Pages = append(out.Pages, res)

		page := *res
		page.Content = l.truncator.Truncate(res.Content, l.tokenBudget)
		decision, err := l.decider.Decide(ctx, query, &page, visitedTitles)
		if token.Cancelled() {
			out.Cancelled = true
			return out
		}
		if err != nil {
			l.logger.Warn("research decision failed, keeping the page", "title", res.Title, "error", err)
			out.Findings = append(out.Findings, findingFrom(res, "", item.path))
			return out
		}

		switch decision.Action {
		case ActionFound:
			out.Findings = append(out.Findings, findingFrom(res, decision.Summary, item.path))
			l.logger.Info("research found answer", "title", res.Title, "iterations", out.Iterations)
			return out
		case ActionNext:
			next := strings.TrimSpace(decision.Term)
			if next == "" || visited[key(next)] {
				continue
			}
			path := append(append([]string(nil), item.path...), next)
			queue = append([]pending{{term: next, path: path}}, queue...)
		default:
			l.logger.Info("research stopped by decider", "reason", decision.Reason, "iterations", out.Iterations)
			return out
		}
	}

	if out.Iterations >= l.max && len(queue) > 0 {
		out.BoundReached = true
		l.logger.Info("research iteration bound reached", "max", l.max, "pending", len(queue))
	}
	return out
}

func findingFrom(res *lookup.Result, summary string, path []string) Finding {
	if strings.TrimSpace(summary) == "" {
		summary = res.Summary
	}
	f := Finding{Title: res.Title, Summary: summary, Path: path}
	if len(res.Sources) > 0 {
		f.URL = res.Sources[0].URL
	}
	return f
}

func cleanTerms(terms []string) []string {
	out := terms[:0:0]
	seen := make(map[string]bool)
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" || seen[key(t)] {
			continue
		}
		seen[key(t)] = true
		out = append(out, t)
	}
	return out
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// runeTruncator approximates four runes per token.
type runeTruncator struct{}

func (runeTruncator) Truncate(text string, maxTokens int) string {
	limit := maxTokens * 4
	r := []rune(text)
	if maxTokens <= 0 || len(r) <= limit {
		return text
	}
	return string(r[:limit])
}
