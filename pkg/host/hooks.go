// Package host provides the in-process host platform that modhost layers on: a prioritized
// hook bus with one-shot events, a name-resolution chain and ambient site accessors.
package host

import (
	"context"
	"sync"
)

// Standard host events.
const (
	// EventInit is fired once the host has loaded its own code. The batch indexing pass
	// listens on it.
	EventInit = "init"

	// EventReady is the one-shot ready notification.
	EventReady = "ready"
)

// DefaultPriority is used by callers that have no ordering requirement.
const DefaultPriority = 10

// Callback is a hook callback. It runs synchronously on the firing goroutine.
type Callback func(ctx context.Context, args ...any)

type action struct {
	priority int
	seq      int
	fn       Callback
}

func (a action) before(b action) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

// Hooks is a synchronous, re-entrant event bus. Callbacks for an event run in ascending
// priority and then registration order. A callback registered while the event is firing
// runs in the same fire if it sorts after the callback currently running.
type Hooks struct {
	mu      sync.Mutex
	actions map[string][]action
	seq     int
	fired   map[string]int
	once    map[string]bool
}

// NewHooks creates an empty hook bus.
func NewHooks() *Hooks {
	return &Hooks{
		actions: make(map[string][]action),
		fired:   make(map[string]int),
		once:    make(map[string]bool),
	}
}

// On registers fn for event at priority.
func (h *Hooks) On(event string, priority int, fn Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	h.actions[event] = append(h.actions[event], action{priority: priority, seq: h.seq, fn: fn})
}

// Fire runs every callback registered for event. The lock is never held while a callback
// runs, so callbacks may register hooks or fire other events.
func (h *Hooks) Fire(ctx context.Context, event string, args ...any) {
	h.mu.Lock()
	h.fired[event]++
	h.mu.Unlock()

	var last *action
	for {
		next, ok := h.next(event, last)
		if !ok {
			return
		}
		next.fn(ctx, args...)
		last = &next
	}
}

// next returns the first action that sorts after last.
func (h *Hooks) next(event string, last *action) (action, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var best action
	found := false
	for _, a := range h.actions[event] {
		if last != nil && !last.before(a) {
			continue
		}
		if !found || a.before(best) {
			best = a
			found = true
		}
	}
	return best, found
}

// FireOnce fires a one-shot event. Only the first call runs callbacks; it reports whether
// this call did.
func (h *Hooks) FireOnce(ctx context.Context, event string, args ...any) bool {
	h.mu.Lock()
	if h.once[event] {
		h.mu.Unlock()
		return false
	}
	h.once[event] = true
	h.mu.Unlock()

	h.Fire(ctx, event, args...)
	return true
}

// Fired returns how many times event has been fired.
func (h *Hooks) Fired(event string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fired[event]
}

// Has reports whether any callback is registered for event.
func (h *Hooks) Has(event string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.actions[event]) > 0
}
