package session

import (
	"sync"
	"sync/atomic"
)

// Controller holds the id of the current generation. It never references the
// generation itself.
type Controller struct {
	mu      sync.Mutex
	last    uint64
	current atomic.Uint64
}

// NewController creates a controller with no current generation.
func NewController() *Controller {
	return &Controller{}
}

// Begin allocates a new id, strictly greater than every id handed out
// before, makes it current and returns the id it superseded (0 if none).
// Allocation and publication happen under one lock so concurrent
// submissions can never leave an older id current.
func (c *Controller) Begin() (id, superseded uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	id = c.last
	superseded = c.current.Swap(id)
	return id, superseded
}

// Cancel clears the current id and returns it (0 if none).
func (c *Controller) Cancel() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Swap(0)
}

// Current returns the current id, 0 when nothing is current.
func (c *Controller) Current() uint64 {
	return c.current.Load()
}

// IsCurrent reports whether id is the current generation.
func (c *Controller) IsCurrent(id uint64) bool {
	return id != 0 && c.current.Load() == id
}

// Token is the cancellation check handed to every step of a generation. It
// trips when the generation is cancelled or superseded.
type Token struct {
	id   uint64
	ctrl *Controller
	gen  *Generation
}

// NewToken binds a token to gen under ctrl.
func NewToken(ctrl *Controller, gen *Generation) Token {
	return Token{id: gen.ID(), ctrl: ctrl, gen: gen}
}

func (t Token) ID() uint64 { return t.id }

// Cancelled reports whether the generation must stop producing side effects.
func (t Token) Cancelled() bool {
	return t.gen.Cancelled() || !t.ctrl.IsCurrent(t.id)
}
