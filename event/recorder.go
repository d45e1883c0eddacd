package event

import (
	"sync"
	"time"
)

// Recorder is an Emitter that keeps every event, for tests and the REPL.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ForID returns the recorded events bearing id.
func (r *Recorder) ForID(id uint64) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.ID == id {
			out = append(out, ev)
		}
	}
	return out
}

// WaitFor blocks until pred holds over the recorded events or timeout elapses.
func (r *Recorder) WaitFor(pred func([]Event) bool, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if pred(r.Events()) {
			return true
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return pred(r.Events())
		}
	}
}

// WaitTerminal waits for a terminal event for id.
func (r *Recorder) WaitTerminal(id uint64, timeout time.Duration) (Event, bool) {
	var found Event
	ok := r.WaitFor(func(evs []Event) bool {
		for _, ev := range evs {
			if ev.ID == id && ev.Terminal() {
				found = ev
				return true
			}
		}
		return false
	}, timeout)
	return found, ok
}
