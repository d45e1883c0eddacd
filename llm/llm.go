// Package llm defines the non-streaming completion contract used by the
// helper steps of a generation: tool planning and research analysis.
package llm

import "context"

// Completer answers a single prompt with a single text response.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
