package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetpotato0/shard/llm"
	"github.com/sweetpotato0/shard/lookup"
	"github.com/sweetpotato0/shard/pkg/logging"
)

type fakeWiki struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeWiki) Kind() lookup.Kind { return lookup.KindEncyclopedia }

func (f *fakeWiki) Lookup(_ context.Context, q string) (*lookup.Result, error) {
	f.calls = append(f.calls, q)
	if f.fail[q] {
		return nil, &lookup.Failure{Kind: lookup.KindEncyclopedia, Query: q, Err: errors.New("boom")}
	}
	return &lookup.Result{
		Kind:    lookup.KindEncyclopedia,
		Query:   q,
		Title:   q,
		Summary: "about " + q,
		Content: strings.Repeat("x", 100),
		Sources: []lookup.Source{{Name: "Wikipedia: " + q, URL: "https://en.wikipedia.org/wiki/" + q}},
	}, nil
}

// greedy always asks for one more page.
type greedy struct{ n atomic.Int32 }

func (g *greedy) Seed(context.Context, string) ([]string, error) { return []string{"Start"}, nil }

func (g *greedy) Decide(context.Context, string, *lookup.Result, []string) (*Decision, error) {
	return &Decision{Action: ActionNext, Term: fmt.Sprintf("Next%d", g.n.Add(1))}, nil
}

type recordingObserver struct {
	events []string
}

func (r *recordingObserver) StepStarted(i int, term string) {
	r.events = append(r.events, fmt.Sprintf("start:%d:%s", i, term))
}

func (r *recordingObserver) StepCompleted(s Step) {
	r.events = append(r.events, fmt.Sprintf("done:%d:%s:%v", s.Iteration, s.Term, s.Err == nil))
}

type flag struct{ v atomic.Bool }

func (f *flag) Cancelled() bool { return f.v.Load() }

func TestLoopNeverExceedsBound(t *testing.T) {
	wiki := &fakeWiki{}
	obs := &recordingObserver{}
	loop := New(wiki, &greedy{}, WithLogger(logging.Discard()))

	out := loop.Run(context.Background(), "endless", &flag{}, obs)
	assert.Len(t, wiki.calls, MaxIterations)
	assert.Equal(t, MaxIterations, out.Iterations)
	assert.True(t, out.BoundReached)
	assert.Equal(t, []string{"Start", "Next1", "Next2", "Next3"}, out.Path)
	assert.Len(t, obs.events, 2*MaxIterations)
	assert.Equal(t, "start:1:Start", obs.events[0])
	assert.Equal(t, "done:1:Start:true", obs.events[1])
}

func TestWithMaxIterationsIsClamped(t *testing.T) {
	wiki := &fakeWiki{}
	loop := New(wiki, &greedy{}, WithMaxIterations(100), WithLogger(logging.Discard()))
	loop.Run(context.Background(), "q", &flag{}, &recordingObserver{})
	assert.Len(t, wiki.calls, MaxIterations)

	wiki = &fakeWiki{}
	loop = New(wiki, &greedy{}, WithMaxIterations(2), WithLogger(logging.Discard()))
	loop.Run(context.Background(), "q", &flag{}, &recordingObserver{})
	assert.Len(t, wiki.calls, 2)
}

func TestFailedIterationCountsAndLoopContinues(t *testing.T) {
	wiki := &fakeWiki{fail: map[string]bool{"bad": true}}
	dec := &scripted{seed: []string{"bad", "good"}}
	obs := &recordingObserver{}
	loop := New(wiki, dec, WithLogger(logging.Discard()))

	out := loop.Run(context.Background(), "q", &flag{}, obs)
	assert.Equal(t, 2, out.Iterations)
	require.Len(t, out.Findings, 1)
	assert.Equal(t, "good", out.Findings[0].Title)
	assert.Equal(t, []string{"start:1:bad", "done:1:bad:false", "start:2:good", "done:2:good:true"}, obs.events)
}

type scripted struct {
	seed []string
}

func (s *scripted) Seed(context.Context, string) ([]string, error) { return s.seed, nil }

func (s *scripted) Decide(_ context.Context, _ string, page *lookup.Result, _ []string) (*Decision, error) {
	return &Decision{Action: ActionFound, Summary: "answer from " + page.Title}, nil
}

func TestCancellationStopsBeforeNextStep(t *testing.T) {
	wiki := &fakeWiki{}
	tok := &flag{}
	obs := &recordingObserver{}
	dec := llmDeciderFunc(func(page *lookup.Result) *Decision {
		tok.v.Store(true)
		return &Decision{Action: ActionNext, Term: "More"}
	})
	out := New(wiki, dec, WithLogger(logging.Discard())).Run(context.Background(), "q", tok, obs)

	assert.True(t, out.Cancelled)
	assert.Len(t, wiki.calls, 1)
	assert.Len(t, obs.events, 2)
}

type llmDeciderFunc func(page *lookup.Result) *Decision

func (f llmDeciderFunc) Seed(_ context.Context, q string) ([]string, error) { return []string{q}, nil }

func (f llmDeciderFunc) Decide(_ context.Context, _ string, page *lookup.Result, _ []string) (*Decision, error) {
	return f(page), nil
}

func TestVisitedTermsAreNotRefetched(t *testing.T) {
	wiki := &fakeWiki{}
	calls := 0
	dec := llmDeciderFunc(func(page *lookup.Result) *Decision {
		calls++
		if calls == 1 {
			return &Decision{Action: ActionNext, Term: "start"}
		}
		return &Decision{Action: ActionStop}
	})
	out := New(wiki, dec, WithLogger(logging.Discard())).Run(context.Background(), "Start", &flag{}, &recordingObserver{})
	assert.Equal(t, 1, out.Iterations)
	assert.False(t, out.BoundReached)
}

func TestLLMDeciderEndToEnd(t *testing.T) {
	var prompts []string
	c := llm.CompleterFunc(func(_ context.Context, p string) (string, error) {
		prompts = append(prompts, p)
		switch {
		case strings.Contains(p, "JSON array of strings"):
			return `["Dune (novel)", "Frank Herbert"]`, nil
		case strings.Contains(p, `Article "Dune (novel)"`):
			return `{"decision_type":"NEXT_TERM","term":"Frank Herbert","reason":"author page"}`, nil
		default:
			return "```json\n{\"decision_type\":\"FOUND_ANSWER\",\"summary\":\"Frank Herbert wrote Dune.\",\"title\":\"Frank Herbert\"}\n```", nil
		}
	})
	wiki := &fakeWiki{}
	loop := New(wiki, NewLLMDecider(c, nil), WithTokenBudget(5), WithLogger(logging.Discard()))

	out := loop.Run(context.Background(), "Dune author", &flag{}, &recordingObserver{})
	require.Len(t, out.Findings, 1)
	assert.Equal(t, "Frank Herbert wrote Dune.", out.Findings[0].Summary)
	assert.Equal(t, []string{"Dune (novel)", "Frank Herbert"}, out.Findings[0].Path)
	assert.Equal(t, []string{"Dune (novel)", "Frank Herbert"}, wiki.calls)
	assert.Len(t, out.Pages, 2)
	// page content is truncated to the token budget before analysis
	assert.Contains(t, prompts[1], strings.Repeat("x", 20))
	assert.NotContains(t, prompts[1], strings.Repeat("x", 21))
}

func TestLLMDeciderSeedFailureFallsBackToQuery(t *testing.T) {
	c := llm.CompleterFunc(func(_ context.Context, p string) (string, error) {
		if strings.Contains(p, "JSON array of strings") {
			return "", errors.New("quota")
		}
		return `{"decision_type":"STOP","reason":"enough"}`, nil
	})
	wiki := &fakeWiki{}
	out := New(wiki, NewLLMDecider(c, nil), WithLogger(logging.Discard())).Run(context.Background(), "Boise", &flag{}, &recordingObserver{})
	assert.Equal(t, []string{"Boise"}, wiki.calls)
	assert.Empty(t, out.Findings)
	assert.Len(t, out.Pages, 1)
}

func TestLLMDeciderBadVerdictKeepsPage(t *testing.T) {
	c := llm.CompleterFunc(func(_ context.Context, p string) (string, error) {
		if strings.Contains(p, "JSON array of strings") {
			return `["Boise"]`, nil
		}
		return `{"decision_type":"MAYBE"}`, nil
	})
	out := New(&fakeWiki{}, NewLLMDecider(c, nil), WithLogger(logging.Discard())).Run(context.Background(), "Boise", &flag{}, &recordingObserver{})
	require.Len(t, out.Findings, 1)
	assert.Equal(t, "about Boise", out.Findings[0].Summary)
}

func TestHeuristicDecider(t *testing.T) {
	wiki := &fakeWiki{}
	out := New(wiki, nil, WithLogger(logging.Discard())).Run(context.Background(), "Dune", &flag{}, &recordingObserver{})
	require.Len(t, out.Findings, 1)
	assert.Equal(t, "about Dune", out.Findings[0].Summary)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Dune", out.Findings[0].URL)
}
