package host

import "context"

// Host bundles the collaborators the runtime consumes from the platform.
type Host struct {
	Hooks     *Hooks
	Resolvers *ResolverChain
	Site      *Site
}

// New creates a host for site. A nil site means an empty, non-debug site.
func New(site *Site) *Host {
	if site == nil {
		site = NewSite("", "", false, false)
	}
	return &Host{
		Hooks:     NewHooks(),
		Resolvers: NewResolverChain(),
		Site:      site,
	}
}

// Boot runs the host lifecycle: init, then the one-shot ready event.
func (h *Host) Boot(ctx context.Context) {
	h.Hooks.Fire(ctx, EventInit)
	h.Hooks.FireOnce(ctx, EventReady)
}
