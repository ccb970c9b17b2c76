package controller

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/openfroyo/modhost/pkg/script"
)

// global is the script value published by MakeGlobal. Every attribute is a builtin
// that dispatches the method of the same name.
type global struct {
	registry *Registry
	identity string
}

var _ starlark.HasAttrs = (*global)(nil)

func newGlobal(r *Registry, identity string) *global {
	return &global{registry: r, identity: identity}
}

func (g *global) String() string        { return fmt.Sprintf("<controller %s>", g.identity) }
func (g *global) Type() string          { return "controller" }
func (g *global) Freeze()               {}
func (g *global) Truth() starlark.Bool  { return starlark.True }
func (g *global) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: controller") }

func (g *global) AttrNames() []string {
	return g.registry.Capabilities(g.identity)
}

func (g *global) Attr(name string) (starlark.Value, error) {
	return starlark.NewBuiltin(name, g.call), nil
}

func (g *global) call(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s.%s: keyword arguments are not supported", g.identity, b.Name())
	}

	goArgs := make([]any, len(args))
	for i, arg := range args {
		// helper sources keep their script form
		if i == 0 && b.Name() == "register_helper" {
			goArgs[i] = arg
			continue
		}
		v, err := script.FromValue(arg)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: argument %d: %w", g.identity, b.Name(), i, err)
		}
		goArgs[i] = v
	}

	result, err := g.registry.Dispatch(script.ContextFrom(thread), g.identity, b.Name(), goArgs...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", g.identity, b.Name(), err)
	}
	return script.ToValue(result)
}
