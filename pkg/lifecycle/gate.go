// Package lifecycle tracks the host's one-shot ready transition.
package lifecycle

import "sync/atomic"

// State is the gate state. The only transition is NotReady to Ready.
type State int32

const (
	// NotReady means the host's ready event has not fired yet.
	NotReady State = iota
	// Ready means the host's ready event has fired. It is permanent.
	Ready
)

// String returns the state name.
func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "not-ready"
}

// Gate is a one-way NotReady to Ready switch. The zero value is NotReady.
type Gate struct {
	state atomic.Int32
}

// NewGate creates a gate in the NotReady state.
func NewGate() *Gate {
	return &Gate{}
}

// MarkReady flips the gate to Ready. It reports whether this call made the transition;
// later calls are no-ops.
func (g *Gate) MarkReady() bool {
	return g.state.CompareAndSwap(int32(NotReady), int32(Ready))
}

// IsReady reports whether the ready event has fired.
func (g *Gate) IsReady() bool {
	return State(g.state.Load()) == Ready
}

// State returns the current state.
func (g *Gate) State() State {
	return State(g.state.Load())
}
