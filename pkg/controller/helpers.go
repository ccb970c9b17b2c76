package controller

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.starlark.net/starlark"

	"github.com/openfroyo/modhost/pkg/engine"
	"github.com/openfroyo/modhost/pkg/providers/wasm"
	"github.com/openfroyo/modhost/pkg/script"
)

// Funcs is a helper source made of Go functions keyed by method name.
type Funcs map[string]engine.Method

// Capability implements engine.CapabilityProvider.
func (f Funcs) Capability(name string) (engine.Method, bool) {
	m, ok := f[name]
	return m, ok
}

// Capabilities implements engine.CapabilityLister.
func (f Funcs) Capabilities() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// symbolLookup resolves script symbols, loading their modules on demand.
type symbolLookup interface {
	Lookup(ctx context.Context, name string) (starlark.Value, error)
	Call(ctx context.Context, fn starlark.Callable, args ...interface{}) (interface{}, error)
}

// RegisteredHelper is one helper composed into an implementation.
type RegisteredHelper struct {
	// Method is the exposed method name. Empty exposes every method of the source.
	Method string

	// Alias is a second name for Method.
	Alias string

	source any
	symbol string

	mu       sync.Mutex
	provider engine.CapabilityProvider
	failed   bool
}

func newRegisteredHelper(source any, method, alias string) (*RegisteredHelper, error) {
	h := &RegisteredHelper{Method: method, Alias: alias, source: source}

	switch src := source.(type) {
	case nil:
		return nil, fmt.Errorf("helper source is nil")
	case string:
		if src == "" {
			return nil, fmt.Errorf("helper symbol name is empty")
		}
		h.symbol = src
	case engine.Method:
		if method == "" {
			return nil, fmt.Errorf("a function helper needs a method name")
		}
		h.provider = Funcs{method: src}
	case func(context.Context, ...any) (any, error):
		if method == "" {
			return nil, fmt.Errorf("a function helper needs a method name")
		}
		h.provider = Funcs{method: engine.Method(src)}
	case *wasm.Module:
		h.provider = wasmProvider{module: src}
	case engine.CapabilityProvider:
		h.provider = src
	case starlark.String:
		h.symbol = string(src)
	case starlark.Value:
		// resolved against the runtime on first use
	default:
		return nil, fmt.Errorf("unsupported helper source type %T", source)
	}
	return h, nil
}

// matches reports whether the helper exposes name and returns the method to look up
// in its source.
func (h *RegisteredHelper) matches(name string) (string, bool) {
	if h.Method == "" {
		return name, true
	}
	if name == h.Method || (h.Alias != "" && name == h.Alias) {
		return h.Method, true
	}
	return "", false
}

// pending reports whether the helper names a script symbol that is not resolved yet.
func (h *RegisteredHelper) pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.provider == nil
}

// resolve returns the provider, building it on first use. The lock is not held while
// a symbol lookup loads its module.
func (h *RegisteredHelper) resolve(ctx context.Context, rt symbolLookup) (engine.CapabilityProvider, error) {
	h.mu.Lock()
	if h.provider != nil {
		p := h.provider
		h.mu.Unlock()
		return p, nil
	}
	h.mu.Unlock()

	if rt == nil {
		return nil, fmt.Errorf("no script runtime to resolve helper")
	}

	var value starlark.Value
	if h.symbol != "" {
		v, err := rt.Lookup(ctx, h.symbol)
		if err != nil {
			return nil, err
		}
		value = v
	} else {
		value = h.source.(starlark.Value)
	}

	members := script.Members(value)
	if fn, ok := value.(starlark.Callable); ok && h.Method != "" {
		if _, exists := members[h.Method]; !exists {
			members[h.Method] = fn
		}
	}
	provider := starlarkProvider{runtime: rt, members: members}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.provider == nil {
		h.provider = provider
	}
	return h.provider, nil
}

// markFailed records a resolution failure and reports whether it is the first one.
func (h *RegisteredHelper) markFailed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	first := !h.failed
	h.failed = true
	return first
}

// kind names the source type for logs.
func (h *RegisteredHelper) kind() string {
	switch {
	case h.symbol != "":
		return "symbol:" + h.symbol
	default:
		return fmt.Sprintf("%T", h.source)
	}
}

// Names returns the method names the helper exposes, when they are known without
// loading anything.
func (h *RegisteredHelper) Names() []string {
	if h.Method != "" {
		if h.Alias != "" {
			return []string{h.Method, h.Alias}
		}
		return []string{h.Method}
	}

	h.mu.Lock()
	p := h.provider
	h.mu.Unlock()
	if lister, ok := p.(engine.CapabilityLister); ok {
		return lister.Capabilities()
	}
	return nil
}

// wasmProvider exposes the exported functions of a WASM module.
type wasmProvider struct {
	module *wasm.Module
}

func (p wasmProvider) Capability(name string) (engine.Method, bool) {
	if !p.module.Has(name) {
		return nil, false
	}
	return func(ctx context.Context, args ...any) (any, error) {
		return p.module.Call(ctx, name, args...)
	}, true
}

func (p wasmProvider) Capabilities() []string {
	return p.module.Functions()
}

// starlarkProvider exposes the callable members of a script value.
type starlarkProvider struct {
	runtime symbolLookup
	members map[string]starlark.Callable
}

func (p starlarkProvider) Capability(name string) (engine.Method, bool) {
	fn, ok := p.members[name]
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, args ...any) (any, error) {
		return p.runtime.Call(ctx, fn, args...)
	}, true
}

func (p starlarkProvider) Capabilities() []string {
	names := make([]string, 0, len(p.members))
	for name := range p.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
