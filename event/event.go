// Package event defines the typed timeline published to the presentation
// layer. Every event carries the generation id it belongs to; consumers drop
// events whose id is not the current generation.
package event

// Kind tags the payload carried by an Event.
type Kind string

const (
	KindChunk           Kind = "chunk"
	KindToolStarted     Kind = "tool_started"
	KindToolCompleted   Kind = "tool_completed"
	KindGenerationEnd   Kind = "generation_end"
	KindGenerationError Kind = "generation_error"
)

// Event is a tagged union; exactly one payload pointer matching Kind is set.
type Event struct {
	ID            uint64         `json:"id"`
	Kind          Kind           `json:"type"`
	Chunk         *Chunk         `json:"chunk,omitempty"`
	ToolStarted   *ToolStarted   `json:"tool_started,omitempty"`
	ToolCompleted *ToolCompleted `json:"tool_completed,omitempty"`
	End           *End           `json:"generation_end,omitempty"`
	Error         *Error         `json:"generation_error,omitempty"`
}

// Chunk is one normalized model delta.
type Chunk struct {
	TextDelta      string `json:"text_delta,omitempty"`
	ReasoningDelta string `json:"reasoning_delta,omitempty"`
}

// ToolStarted is emitted before a lookup's network call.
type ToolStarted struct {
	Tool  string `json:"kind"`
	Query string `json:"query"`
}

// Source attributes a piece of tool data.
type Source struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ToolCompleted closes a ToolStarted with the same tool and query.
type ToolCompleted struct {
	Tool          string   `json:"kind"`
	Query         string   `json:"query"`
	Success       bool     `json:"success"`
	ResultSummary *string  `json:"result_summary"`
	Sources       []Source `json:"source_attributions,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// End is the successful terminal event.
type End struct {
	FullText      string `json:"full_text"`
	FullReasoning string `json:"full_reasoning,omitempty"`
}

// Error is the failed terminal event.
type Error struct {
	Message string `json:"message"`
}

// Terminal reports whether the event closes its generation.
func (e Event) Terminal() bool {
	return e.Kind == KindGenerationEnd || e.Kind == KindGenerationError
}

func NewChunk(id uint64, text, reasoning string) Event {
	return Event{ID: id, Kind: KindChunk, Chunk: &Chunk{TextDelta: text, ReasoningDelta: reasoning}}
}

func NewToolStarted(id uint64, tool, query string) Event {
	return Event{ID: id, Kind: KindToolStarted, ToolStarted: &ToolStarted{Tool: tool, Query: query}}
}

// NewToolCompleted builds a completion event. An empty summary is encoded as null.
func NewToolCompleted(id uint64, tool, query string, success bool, summary string, sources []Source, errMsg string) Event {
	var s *string
	if summary != "" {
		s = &summary
	}
	return Event{ID: id, Kind: KindToolCompleted, ToolCompleted: &ToolCompleted{
		Tool:          tool,
		Query:         query,
		Success:       success,
		ResultSummary: s,
		Sources:       sources,
		Error:         errMsg,
	}}
}

func NewEnd(id uint64, text, reasoning string) Event {
	return Event{ID: id, Kind: KindGenerationEnd, End: &End{FullText: text, FullReasoning: reasoning}}
}

func NewError(id uint64, msg string) Event {
	return Event{ID: id, Kind: KindGenerationError, Error: &Error{Message: msg}}
}
