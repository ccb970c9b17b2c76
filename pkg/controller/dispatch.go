package controller

import (
	"context"
	"fmt"
	"sort"

	"github.com/openfroyo/modhost/pkg/engine"
	"github.com/openfroyo/modhost/pkg/telemetry"
)

// tier is one stage of capability resolution.
type tier struct {
	name     string
	provider engine.CapabilityProvider
}

// tiers returns the resolution stages for impl in precedence order.
func (impl *Implementation) tiers(ctx context.Context) []tier {
	return []tier{
		{name: engine.TierImplementation, provider: impl},
		{name: engine.TierHelper, provider: helperTier{impl: impl, ctx: ctx}},
		{name: engine.TierAutoloader, provider: autoloaderTier{impl: impl}},
	}
}

// Dispatch invokes method on the controller registered under identity. The first tier
// providing method wins: direct implementation methods, then registered helpers, then
// the autoloader. When none does, the miss is reported as a warning diagnostic and the
// result is nil with no error. Errors from an invoked method are returned unchanged.
func (r *Registry) Dispatch(ctx context.Context, identity, method string, args ...any) (any, error) {
	impl, ok := r.Lookup(identity)
	if !ok {
		r.unresolved(ctx, identity, method)
		return nil, nil
	}

	ctx, span := r.tel.Tracer.StartDispatchSpan(r.tel.WithContext(ctx), identity, method)
	defer span.End()

	timer := telemetry.NewTimer()
	for _, t := range impl.tiers(ctx) {
		fn, ok := t.provider.Capability(method)
		if !ok {
			continue
		}

		span.SetAttributes(telemetry.AttrTier.String(t.name))
		result, err := fn(ctx, args...)
		r.tel.Metrics.RecordDispatch(identity, t.name, timer.Duration())

		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		telemetry.RecordSuccess(span)
		return result, nil
	}

	r.unresolved(ctx, identity, method)
	return nil, nil
}

// unresolved reports a dispatch miss, tagged with the trace of the dispatch span.
func (r *Registry) unresolved(ctx context.Context, identity, method string) {
	err := engine.NewUnresolvedCapabilityError(identity, method)
	traceID := telemetry.TraceID(ctx)
	logger := r.tel.Logger.WithController(identity).WithMethod(method)
	if traceID != "" {
		logger = logger.WithField("trace_id", traceID)
	}
	logger.Warn(err.Message)
	r.tel.Diagnostics.ReportUnresolved(identity, method, err.Message, traceID)
	r.tel.Metrics.RecordUnresolved(identity)
}

// helperTier resolves methods through the registered helpers of an implementation.
type helperTier struct {
	impl *Implementation
	ctx  context.Context
}

func (t helperTier) Capability(name string) (engine.Method, bool) {
	return t.impl.GetHelperCallable(t.ctx, name)
}

// autoloaderTier exposes the owned index and bundle generator.
type autoloaderTier struct {
	impl *Implementation
}

var autoloaderMethods = []string{
	"register_dir",
	"register_class",
	"register_classes",
	"get_autoload_dirs",
	"get_bundle_content",
	"get_bundle_fragments",
	"index_now",
}

func (t autoloaderTier) Capabilities() []string {
	return append([]string(nil), autoloaderMethods...)
}

func (t autoloaderTier) Capability(name string) (engine.Method, bool) {
	impl := t.impl
	switch name {
	case "register_dir":
		return func(_ context.Context, args ...any) (any, error) {
			path, err := stringArg(args, 0, "path")
			if err != nil {
				return nil, err
			}
			prefix, err := optionalStringArg(args, 1, "prefix")
			if err != nil {
				return nil, err
			}
			return nil, impl.RegisterDir(path, prefix)
		}, true
	case "register_class":
		return func(_ context.Context, args ...any) (any, error) {
			name, err := stringArg(args, 0, "name")
			if err != nil {
				return nil, err
			}
			path, err := stringArg(args, 1, "path")
			if err != nil {
				return nil, err
			}
			impl.RegisterClass(name, path)
			return nil, nil
		}, true
	case "register_classes":
		return func(_ context.Context, args ...any) (any, error) {
			classes, err := stringMapArg(args, 0, "classes")
			if err != nil {
				return nil, err
			}
			impl.RegisterClasses(classes)
			return nil, nil
		}, true
	case "get_autoload_dirs":
		return func(_ context.Context, _ ...any) (any, error) {
			ix := impl.Index()
			if ix == nil {
				return []any{}, nil
			}
			dirs := ix.Dirs()
			out := make([]any, len(dirs))
			for i, d := range dirs {
				out[i] = map[string]any{"path": d.Path, "prefix": d.Prefix}
			}
			return out, nil
		}, true
	case "get_bundle_content":
		return func(_ context.Context, _ ...any) (any, error) {
			b := impl.Bundler()
			if b == nil {
				return "", nil
			}
			content, err := b.Generate()
			if err != nil {
				return nil, err
			}
			return string(content), nil
		}, true
	case "get_bundle_fragments":
		return func(_ context.Context, _ ...any) (any, error) {
			ix := impl.Index()
			if ix == nil {
				return []string{}, nil
			}
			return ix.Fragments(), nil
		}, true
	case "index_now":
		return func(_ context.Context, _ ...any) (any, error) {
			ix := impl.Index()
			if ix == nil {
				return 0, nil
			}
			return ix.IndexNow(), nil
		}, true
	}
	return nil, false
}

// Capabilities returns every method name dispatch can currently reach for identity,
// sorted. Helper sources that are not loaded yet contribute only their declared names.
func (r *Registry) Capabilities(identity string) []string {
	impl, ok := r.Lookup(identity)
	if !ok {
		return nil
	}

	seen := make(map[string]struct{})
	add := func(names ...string) {
		for _, n := range names {
			seen[n] = struct{}{}
		}
	}
	add(impl.Capabilities()...)
	for _, h := range impl.Helpers() {
		add(h.Names()...)
	}
	add(autoloaderMethods...)

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func stringArg(args []any, i int, name string) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", name, args[i])
	}
	return s, nil
}

func optionalStringArg(args []any, i int, name string) (string, error) {
	if i >= len(args) || args[i] == nil {
		return "", nil
	}
	return stringArg(args, i, name)
}

func stringMapArg(args []any, i int, name string) (map[string]string, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("missing argument %q", name)
	}
	switch m := args[i].(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("argument %q: value for %q must be a string, got %T", name, k, v)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("argument %q must be a mapping, got %T", name, args[i])
	}
}
