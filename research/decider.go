package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/shard/llm"
	"github.com/sweetpotato0/shard/lookup"
	"github.com/sweetpotato0/shard/prompt"
)

// Action is the decider's verdict after reading a page.
type Action string

const (
	ActionFound Action = "FOUND_ANSWER"
	ActionNext  Action = "NEXT_TERM"
	ActionStop  Action = "STOP"
)

// Decision tells the loop what to do next.
type Decision struct {
	Action  Action
	Summary string
	Title   string
	Term    string
	Reason  string
}

// Decider chooses the initial search terms and, after each page, whether
// another lookup is warranted.
type Decider interface {
	Seed(ctx context.Context, query string) ([]string, error)
	Decide(ctx context.Context, query string, page *lookup.Result, visited []string) (*Decision, error)
}

// Heuristic searches the query itself and accepts the first page it reads.
type Heuristic struct{}

func (Heuristic) Seed(_ context.Context, query string) ([]string, error) {
	return []string{query}, nil
}

func (Heuristic) Decide(_ context.Context, _ string, page *lookup.Result, _ []string) (*Decision, error) {
	return &Decision{Action: ActionFound, Summary: page.Summary, Title: page.Title}, nil
}

// LLMDecider asks a helper model for search terms and per-page verdicts.
type LLMDecider struct {
	completer llm.Completer
	prompts   *prompt.Manager
	maxTerms  int
}

// NewLLMDecider creates a model-driven decider. A nil manager selects the
// built-in prompts.
func NewLLMDecider(c llm.Completer, prompts *prompt.Manager) *LLMDecider {
	if prompts == nil {
		prompts = prompt.NewDefaultManager()
	}
	return &LLMDecider{completer: c, prompts: prompts, maxTerms: 3}
}

func (d *LLMDecider) Seed(ctx context.Context, query string) ([]string, error) {
	text, err := d.prompts.Render(prompt.ExtractTerms, map[string]any{"Query": query})
	if err != nil {
		return nil, err
	}
	raw, err := d.completer.Complete(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("extract terms: %w", err)
	}
	terms, err := llm.DecodeJSON[[]string](raw)
	if err != nil {
		return nil, err
	}
	out := *terms
	if len(out) > d.maxTerms {
		out = out[:d.maxTerms]
	}
	return out, nil
}

type wireDecision struct {
	DecisionType string `json:"decision_type"`
	Summary      string `json:"summary"`
	Title        string `json:"title"`
	Term         string `json:"term"`
	Reason       string `json:"reason"`
}

func (d *LLMDecider) Decide(ctx context.Context, query string, page *lookup.Result, visited []string) (*Decision, error) {
	text, err := d.prompts.Render(prompt.AnalyzePage, map[string]any{
		"Query":   query,
		"Visited": strings.Join(visited, ", "),
		"Title":   page.Title,
		"Content": page.Content,
	})
	if err != nil {
		return nil, err
	}
	raw, err := d.completer.Complete(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("analyze page: %w", err)
	}
	w, err := llm.DecodeJSON[wireDecision](raw)
	if err != nil {
		return nil, err
	}

	dec := &Decision{Summary: w.Summary, Title: w.Title, Term: w.Term, Reason: w.Reason}
	switch Action(strings.ToUpper(strings.TrimSpace(w.DecisionType))) {
	case ActionFound:
		dec.Action = ActionFound
	case ActionNext:
		dec.Action = ActionNext
	case ActionStop:
		dec.Action = ActionStop
	default:
		return nil, fmt.Errorf("unknown decision type %q", w.DecisionType)
	}
	return dec, nil
}
