package host

import (
	"context"
	"sync"
)

// Resolver resolves a logical name by making it defined in the running process, typically
// by loading the file that defines it. It returns false when it does not know the name so
// the next resolver in the chain can try.
type Resolver interface {
	Resolve(ctx context.Context, name string) (bool, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(ctx context.Context, name string) (bool, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, name string) (bool, error) {
	return f(ctx, name)
}

// ResolverChain is the host's name-resolution chain.
type ResolverChain struct {
	mu        sync.RWMutex
	resolvers []Resolver
}

// NewResolverChain creates an empty chain.
func NewResolverChain() *ResolverChain {
	return &ResolverChain{}
}

// Register appends r to the chain.
func (c *ResolverChain) Register(r Resolver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolvers = append(c.resolvers, r)
}

// Len returns the number of registered resolvers.
func (c *ResolverChain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.resolvers)
}

// Resolve asks each resolver in registration order until one handles name. The chain is
// snapshotted first so resolvers may re-enter it while loading.
func (c *ResolverChain) Resolve(ctx context.Context, name string) (bool, error) {
	c.mu.RLock()
	resolvers := make([]Resolver, len(c.resolvers))
	copy(resolvers, c.resolvers)
	c.mu.RUnlock()

	for _, r := range resolvers {
		handled, err := r.Resolve(ctx, name)
		if err != nil {
			return handled, err
		}
		if handled {
			return true, nil
		}
	}
	return false, nil
}
