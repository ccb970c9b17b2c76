package controller

import "context"

// Controller is the caller-facing handle for one identity. Every call is dispatched
// through the registry, so helpers and directories registered later are visible.
type Controller struct {
	registry *Registry
	identity string
}

// Identity returns the controller identity.
func (c *Controller) Identity() string { return c.identity }

// Implementation returns the registered implementation, if any.
func (c *Controller) Implementation() (*Implementation, bool) {
	return c.registry.Lookup(c.identity)
}

// Call dispatches method with args.
func (c *Controller) Call(ctx context.Context, method string, args ...any) (any, error) {
	return c.registry.Dispatch(ctx, c.identity, method, args...)
}

// Initialize initializes the controller.
func (c *Controller) Initialize(ctx context.Context) error {
	return c.registry.Initialize(ctx, c.identity)
}

// RegisterHelper composes source into the implementation. It reports false when the
// identity is not registered.
func (c *Controller) RegisterHelper(source any, method, alias string) (bool, error) {
	impl, ok := c.Implementation()
	if !ok {
		return false, nil
	}
	return true, impl.RegisterHelper(source, method, alias)
}
