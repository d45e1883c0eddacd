// Package lookup wraps read-only external information sources behind one
// Adapter contract. An adapter either returns a Result (possibly a
// structured not-found) or a *Failure; it never panics on bad input.
package lookup

import (
	"context"
	"fmt"

	shardErrors "github.com/sweetpotato0/shard/errors"
)

// Kind identifies an information source.
type Kind string

const (
	KindEncyclopedia Kind = "encyclopedia"
	KindWeather      Kind = "weather"
	KindFinancial    Kind = "financial"
	KindPreprint     Kind = "preprint"
)

// Kinds lists every known kind in a stable order.
var Kinds = []Kind{KindEncyclopedia, KindWeather, KindFinancial, KindPreprint}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, v := range Kinds {
		if v == k {
			return true
		}
	}
	return false
}

// Source attributes a result to a named page.
type Source struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Result is a resolved lookup.
type Result struct {
	Kind  Kind   `json:"kind"`
	Query string `json:"query"`
	// Title names the resolved entity (page title, location, symbol).
	Title string `json:"title,omitempty"`
	// Summary is a short human-readable rendering; empty when NotFound.
	Summary string `json:"summary,omitempty"`
	// Content is the full text when the source has more than the summary.
	Content  string   `json:"content,omitempty"`
	NotFound bool     `json:"not_found,omitempty"`
	Hint     string   `json:"hint,omitempty"`
	Sources  []Source `json:"sources,omitempty"`
	// Data holds the adapter-specific payload: *Page, *Conditions, *Quote or []Paper.
	Data any `json:"data,omitempty"`
}

// Adapter resolves one query against one source.
type Adapter interface {
	Kind() Kind
	Lookup(ctx context.Context, query string) (*Result, error)
}

// Failure reports that an adapter could not resolve its query.
type Failure struct {
	Kind  Kind
	Query string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s lookup %q: %v", f.Kind, f.Query, f.Err)
}

func (f *Failure) Unwrap() []error {
	return []error{shardErrors.ErrLookup, f.Err}
}

func fail(kind Kind, query string, err error) error {
	return &Failure{Kind: kind, Query: query, Err: err}
}

func notFound(kind Kind, query, hint string) *Result {
	return &Result{Kind: kind, Query: query, NotFound: true, Hint: hint}
}
