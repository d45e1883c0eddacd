// Package session owns generation identity: the per-turn Generation state
// machine, the Controller holding the single current id, and the Manager
// arena that maps ids to live generations.
package session

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sweetpotato0/shard/lookup"
)

// State represents the lifecycle stage of a generation
type State string

const (
	StateIdle           State = "idle"
	StateStarting       State = "starting"
	StateToolAugmenting State = "tool_augmenting"
	StateStreaming      State = "streaming"
	StateCompleted      State = "completed"
	StateErrored        State = "errored"
	StateCancelled      State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateErrored || s == StateCancelled
}

var transitions = map[State][]State{
	StateIdle:           {StateStarting, StateCancelled},
	StateStarting:       {StateToolAugmenting, StateStreaming, StateErrored, StateCancelled},
	StateToolAugmenting: {StateToolAugmenting, StateStreaming, StateErrored, StateCancelled},
	StateStreaming:      {StateCompleted, StateErrored, StateCancelled},
}

// InvocationStatus tracks a single lookup.
type InvocationStatus string

const (
	InvocationPending   InvocationStatus = "pending"
	InvocationCompleted InvocationStatus = "completed"
	InvocationFailed    InvocationStatus = "failed"
)

// ToolInvocation records one lookup made on behalf of a generation. It is
// created pending and resolved exactly once.
type ToolInvocation struct {
	ID         string           `json:"id"`
	Kind       lookup.Kind      `json:"kind"`
	Query      string           `json:"query"`
	Status     InvocationStatus `json:"status"`
	Result     *lookup.Result   `json:"result,omitempty"`
	Sources    []lookup.Source  `json:"sources,omitempty"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
}

// Generation is one user-turn-to-answer cycle. Only the goroutines driving
// the generation mutate it.
type Generation struct {
	mu          sync.Mutex
	id          uint64
	model       string
	state       State
	cancelled   atomic.Bool
	text        strings.Builder
	reasoning   strings.Builder
	invocations []*ToolInvocation
	errMsg      string
	createdAt   time.Time
	updatedAt   time.Time
}

// NewGeneration creates an idle generation.
func NewGeneration(id uint64, model string) *Generation {
	now := time.Now()
	return &Generation{id: id, model: model, state: StateIdle, createdAt: now, updatedAt: now}
}

func (g *Generation) ID() uint64 { return g.id }

func (g *Generation) Model() string { return g.model }

func (g *Generation) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Transition moves the generation to next, rejecting moves the lifecycle
// does not allow.
func (g *Generation) Transition(next State) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, allowed := range transitions[g.state] {
		if allowed == next {
			g.state = next
			g.updatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("generation %d: invalid transition %s -> %s", g.id, g.state, next)
}

// Cancel flags the generation. It returns false if it was already cancelled.
func (g *Generation) Cancel() bool {
	return g.cancelled.CompareAndSwap(false, true)
}

// Cancelled reports whether Cancel has been called.
func (g *Generation) Cancelled() bool {
	return g.cancelled.Load()
}

// Fail records the error message that closed the generation.
func (g *Generation) Fail(msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errMsg = msg
}

// Append folds one delta into the accumulators.
func (g *Generation) Append(text, reasoning string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.text.WriteString(text)
	g.reasoning.WriteString(reasoning)
	g.updatedAt = time.Now()
}

func (g *Generation) Text() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.text.String()
}

func (g *Generation) Reasoning() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reasoning.String()
}

// StartTool appends a pending invocation.
func (g *Generation) StartTool(kind lookup.Kind, query string) *ToolInvocation {
	inv := &ToolInvocation{
		ID:        uuid.NewString(),
		Kind:      kind,
		Query:     query,
		Status:    InvocationPending,
		StartedAt: time.Now(),
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invocations = append(g.invocations, inv)
	g.updatedAt = inv.StartedAt
	return inv
}

// FinishTool resolves inv with either res or err. An invocation can only be
// resolved once.
func (g *Generation) FinishTool(inv *ToolInvocation, res *lookup.Result, err error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if inv.Status != InvocationPending {
		return fmt.Errorf("tool invocation %s already %s", inv.ID, inv.Status)
	}
	inv.FinishedAt = time.Now()
	if err != nil {
		inv.Status = InvocationFailed
		inv.Error = err.Error()
		return nil
	}
	inv.Status = InvocationCompleted
	inv.Result = res
	if res != nil {
		inv.Sources = res.Sources
	}
	g.updatedAt = inv.FinishedAt
	return nil
}

// Invocations returns copies of the invocations in creation order.
func (g *Generation) Invocations() []ToolInvocation {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ToolInvocation, 0, len(g.invocations))
	for _, inv := range g.invocations {
		out = append(out, *inv)
	}
	return out
}

// Record snapshots the generation for persistence.
func (g *Generation) Record(runID string) *Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := &Record{
		Key:       RecordKey(runID, g.id),
		ID:        g.id,
		RunID:     runID,
		Model:     g.model,
		State:     g.state,
		Text:      g.text.String(),
		Reasoning: g.reasoning.String(),
		Error:     g.errMsg,
		CreatedAt: g.createdAt,
		UpdatedAt: g.updatedAt,
	}
	for _, inv := range g.invocations {
		rec.Invocations = append(rec.Invocations, *inv)
	}
	return rec
}
