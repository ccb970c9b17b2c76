package engine

import "context"

// Method is a single invocable capability. Arguments and results use plain Go values
// (bool, int64, float64, string, []any, map[string]any) so that Go, Starlark and WASM
// providers can exchange them.
type Method func(ctx context.Context, args ...any) (any, error)

// CapabilityProvider is one tier of the dispatch chain.
type CapabilityProvider interface {
	// Capability returns the method registered under name, if this tier has one.
	Capability(name string) (Method, bool)
}

// CapabilityLister is implemented by providers that can enumerate their method names.
type CapabilityLister interface {
	// Capabilities returns the method names in a stable order.
	Capabilities() []string
}

// CapabilityFunc adapts a lookup function to a CapabilityProvider.
type CapabilityFunc func(name string) (Method, bool)

// Capability implements CapabilityProvider.
func (f CapabilityFunc) Capability(name string) (Method, bool) {
	return f(name)
}

// Tier names used in logs and metrics.
const (
	TierImplementation = "implementation"
	TierHelper         = "helper"
	TierAutoloader     = "autoloader"
)
