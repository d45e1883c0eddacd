package event

import (
	"log/slog"
	"sync"

	"github.com/sweetpotato0/shard/pkg/logging"
)

// Emitter publishes events to the presentation layer.
type Emitter interface {
	Emit(ev Event)
}

// Handler consumes events.
type Handler func(ev Event)

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

// Bus fans events out to long-lived subscribers. Dispatch is synchronous and
// serialized, so every subscriber observes the same global order.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]Handler
	order  []int
	logger *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger overrides the bus logger.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{subs: make(map[int]Handler)}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.WithComponent("event_bus")
	}
	return b
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.order = append(b.order, id)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Emit delivers ev to every subscriber in subscription order. A panicking
// subscriber is logged and skipped.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.order {
		b.dispatch(b.subs[id], ev)
	}
}

func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked", "id", ev.ID, "kind", ev.Kind, "panic", r)
		}
	}()
	h(ev)
}

// Filter wraps h so it only sees events for the id reported by current.
// This is the consumer-side id check every presentation layer applies.
func Filter(current func() uint64, h Handler) Handler {
	return func(ev Event) {
		if ev.ID != current() {
			return
		}
		h(ev)
	}
}
