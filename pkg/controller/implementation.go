package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/modhost/pkg/autoload"
	"github.com/openfroyo/modhost/pkg/engine"
	"github.com/openfroyo/modhost/pkg/host"
)

// Implementation is the object registered under a controller identity. It owns one
// autoload index, the helpers composed into it and any extra direct methods.
type Implementation struct {
	root  string
	uri   string
	extra map[string]engine.Method

	mu             sync.RWMutex
	identity       string
	prefix         string
	helpers        []*RegisteredHelper
	pendingDirs    []autoload.Dir
	pendingClasses map[string]string
	index          *autoload.Index
	loader         *autoload.Loader
	bundler        *autoload.Bundler
	registry       *Registry
}

// Option configures an Implementation.
type Option func(*Implementation)

// WithURI sets the base URI the implementation's assets are served from.
func WithURI(uri string) Option {
	return func(impl *Implementation) { impl.uri = uri }
}

// WithMethod adds a direct method. Direct methods take precedence over helpers.
func WithMethod(name string, m engine.Method) Option {
	return func(impl *Implementation) { impl.extra[name] = m }
}

// WithClassPrefix overrides the "<identity>_" prefix applied to derived names.
func WithClassPrefix(prefix string) Option {
	return func(impl *Implementation) { impl.prefix = prefix }
}

// NewImplementation creates an unregistered implementation rooted at root. Directories
// and classes registered before Register are held and handed to the index once it
// exists.
func NewImplementation(root string, opts ...Option) *Implementation {
	impl := &Implementation{
		root:           root,
		extra:          make(map[string]engine.Method),
		pendingClasses: make(map[string]string),
	}
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			impl.root = abs
		}
	}
	for _, opt := range opts {
		opt(impl)
	}
	return impl
}

// stamp binds the implementation to identity and wires its index into the host.
func (impl *Implementation) stamp(identity string, r *Registry) error {
	impl.mu.Lock()
	if impl.registry != nil {
		impl.mu.Unlock()
		return fmt.Errorf("implementation already registered as %s", impl.identity)
	}
	impl.identity = identity
	impl.registry = r
	if impl.prefix == "" {
		impl.prefix = identity + "_"
	}

	root := impl.root
	if root == "" {
		root = r.host.Site.ThemeDir("")
		impl.root = root
	}

	logger := r.tel.Logger.WithController(identity).Zerolog()
	ix := autoload.NewIndex(root,
		autoload.WithOwner(identity),
		autoload.WithPrefix(impl.prefix),
		autoload.WithExtension(r.extension),
		autoload.WithSymbols(r.runtime),
		autoload.WithGate(r.gate),
		autoload.WithLogger(logger),
		autoload.WithMetrics(r.tel.Metrics),
	)
	impl.index = ix
	impl.loader = autoload.NewLoader(ix, r.runtime,
		autoload.WithLoaderLogger(logger),
		autoload.WithLoaderTelemetry(r.tel.Metrics, r.tel.Tracer),
	)
	impl.bundler = autoload.NewBundler(ix, logger)

	dirs := impl.pendingDirs
	classes := impl.pendingClasses
	impl.pendingDirs = nil
	impl.pendingClasses = make(map[string]string)
	impl.mu.Unlock()

	ix.Attach(r.host.Hooks)
	impl.loader.Install(r.host.Resolvers)

	for _, d := range dirs {
		if err := ix.RegisterDir(d.Path, d.Prefix); err != nil {
			return err
		}
	}
	ix.RegisterClasses(classes)
	return nil
}

// Identity returns the identity the implementation was registered under, or "".
func (impl *Implementation) Identity() string {
	impl.mu.RLock()
	defer impl.mu.RUnlock()
	return impl.identity
}

// Prefix returns the prefix applied to names derived from registered directories.
func (impl *Implementation) Prefix() string {
	impl.mu.RLock()
	defer impl.mu.RUnlock()
	return impl.prefix
}

// setPrefix changes the prefix for directories registered from now on.
func (impl *Implementation) setPrefix(prefix string) {
	impl.mu.Lock()
	impl.prefix = prefix
	ix := impl.index
	impl.mu.Unlock()

	if ix != nil {
		ix.SetPrefix(prefix)
	}
}

// Root returns the implementation root directory.
func (impl *Implementation) Root() string {
	impl.mu.RLock()
	defer impl.mu.RUnlock()
	return impl.root
}

// Dir returns path joined to the root directory.
func (impl *Implementation) Dir(path string) string {
	root := impl.Root()
	if path == "" {
		return root
	}
	return filepath.Join(root, path)
}

// URI returns path joined to the base URI, with the scheme matching the site. Without
// a base URI the site URL is used.
func (impl *Implementation) URI(path string) string {
	impl.mu.RLock()
	base := impl.uri
	r := impl.registry
	impl.mu.RUnlock()

	if r != nil && base == "" {
		base = r.host.Site.ThemeURI("")
	}

	uri := strings.TrimRight(base, "/")
	if path != "" {
		uri += "/" + strings.TrimLeft(path, "/")
	}
	if r != nil {
		uri = host.MaybeAdjustHTTPScheme(uri, r.host.Site.Secure())
	}
	return uri
}

// Index returns the owned autoload index, or nil before registration.
func (impl *Implementation) Index() *autoload.Index {
	impl.mu.RLock()
	defer impl.mu.RUnlock()
	return impl.index
}

// Bundler returns the bundle generator for the owned index, or nil before registration.
func (impl *Implementation) Bundler() *autoload.Bundler {
	impl.mu.RLock()
	defer impl.mu.RUnlock()
	return impl.bundler
}

// RegisterDir adds a directory to the owned index. An empty prefix uses Prefix at the
// time of the call.
func (impl *Implementation) RegisterDir(path, prefix string) error {
	impl.mu.Lock()
	ix := impl.index
	if ix == nil {
		if prefix == "" {
			prefix = impl.prefix
		}
		impl.pendingDirs = append(impl.pendingDirs, autoload.Dir{Path: path, Prefix: prefix})
		impl.mu.Unlock()
		return nil
	}
	impl.mu.Unlock()
	return ix.RegisterDir(path, prefix)
}

// RegisterClass maps name to the module file at path.
func (impl *Implementation) RegisterClass(name, path string) {
	impl.RegisterClasses(map[string]string{name: path})
}

// RegisterClasses maps each name to its module file.
func (impl *Implementation) RegisterClasses(classes map[string]string) {
	impl.mu.Lock()
	ix := impl.index
	if ix == nil {
		for name, path := range classes {
			impl.pendingClasses[name] = path
		}
		impl.mu.Unlock()
		return
	}
	impl.mu.Unlock()
	ix.RegisterClasses(classes)
}

// RegisterHelper composes source into the implementation. With a method name only that
// method (and alias, when given) is exposed; without one every method of source is.
// Helpers are consulted in registration order.
func (impl *Implementation) RegisterHelper(source any, method, alias string) error {
	h, err := newRegisteredHelper(source, method, alias)
	if err != nil {
		return err
	}

	impl.mu.Lock()
	impl.helpers = append(impl.helpers, h)
	r := impl.registry
	impl.mu.Unlock()

	if r != nil {
		r.logger.Debug().
			Str("controller", impl.Identity()).
			Str("method", method).
			Str("alias", alias).
			Str("source", h.kind()).
			Msg("Registered helper")
	}
	return nil
}

// Helpers returns the registered helpers in registration order.
func (impl *Implementation) Helpers() []*RegisteredHelper {
	impl.mu.RLock()
	defer impl.mu.RUnlock()
	out := make([]*RegisteredHelper, len(impl.helpers))
	copy(out, impl.helpers)
	return out
}

// HasMethod reports whether name is a direct method of the implementation.
func (impl *Implementation) HasMethod(name string) bool {
	_, ok := impl.Capability(name)
	return ok
}

// HasHelperCallable reports whether a registered helper provides name.
func (impl *Implementation) HasHelperCallable(ctx context.Context, name string) bool {
	_, ok := impl.GetHelperCallable(ctx, name)
	return ok
}

// GetHelperCallable returns the callable of the first helper providing name. Helpers
// naming a script symbol that is not loaded yet are resolved on the way.
func (impl *Implementation) GetHelperCallable(ctx context.Context, name string) (engine.Method, bool) {
	for _, h := range impl.Helpers() {
		target, ok := h.matches(name)
		if !ok {
			continue
		}
		provider, err := h.resolve(ctx, impl.runtime())
		if err != nil {
			impl.logHelperError(h, err)
			continue
		}
		if m, ok := provider.Capability(target); ok {
			return m, true
		}
	}
	return nil, false
}

// FixupRegisteredHelpers resolves every helper still naming an unloaded script symbol.
// It returns the number of helpers resolved by this pass.
func (impl *Implementation) FixupRegisteredHelpers(ctx context.Context) int {
	rt := impl.runtime()
	resolved := 0
	for _, h := range impl.Helpers() {
		if !h.pending() {
			continue
		}
		if _, err := h.resolve(ctx, rt); err != nil {
			impl.logHelperError(h, err)
			continue
		}
		resolved++
	}
	return resolved
}

func (impl *Implementation) logHelperError(h *RegisteredHelper, err error) {
	impl.mu.RLock()
	r := impl.registry
	identity := impl.identity
	impl.mu.RUnlock()
	if r == nil {
		return
	}
	logger := r.tel.Logger.WithController(identity).WithField("source", h.kind()).WithError(err)
	if h.markFailed() {
		logger.Warn("Helper source could not be resolved")
		return
	}
	logger.Debug("Helper source still unresolved")
}

func (impl *Implementation) runtime() symbolLookup {
	impl.mu.RLock()
	defer impl.mu.RUnlock()
	if impl.registry == nil {
		return nil
	}
	return impl.registry.runtime
}

// Capability implements engine.CapabilityProvider for the implementation tier.
func (impl *Implementation) Capability(name string) (engine.Method, bool) {
	if m, ok := impl.builtin(name); ok {
		return m, true
	}
	m, ok := impl.extra[name]
	return m, ok
}

// Capabilities implements engine.CapabilityLister.
func (impl *Implementation) Capabilities() []string {
	names := append([]string(nil), builtinMethods...)
	for name := range impl.extra {
		if _, ok := impl.builtin(name); !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

var builtinMethods = []string{
	"dir",
	"uri",
	"has_method",
	"has_helper_callable",
	"register_helper",
	"fixup_registered_helpers",
	"identity",
	"prefix",
}

func (impl *Implementation) builtin(name string) (engine.Method, bool) {
	switch name {
	case "dir":
		return func(_ context.Context, args ...any) (any, error) {
			path, err := optionalStringArg(args, 0, "path")
			if err != nil {
				return nil, err
			}
			return impl.Dir(path), nil
		}, true
	case "uri":
		return func(_ context.Context, args ...any) (any, error) {
			path, err := optionalStringArg(args, 0, "path")
			if err != nil {
				return nil, err
			}
			return impl.URI(path), nil
		}, true
	case "has_method":
		return func(_ context.Context, args ...any) (any, error) {
			method, err := stringArg(args, 0, "method")
			if err != nil {
				return nil, err
			}
			return impl.HasMethod(method), nil
		}, true
	case "has_helper_callable":
		return func(ctx context.Context, args ...any) (any, error) {
			method, err := stringArg(args, 0, "method")
			if err != nil {
				return nil, err
			}
			return impl.HasHelperCallable(ctx, method), nil
		}, true
	case "register_helper":
		return func(_ context.Context, args ...any) (any, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("register_helper: missing source")
			}
			method, err := optionalStringArg(args, 1, "method")
			if err != nil {
				return nil, err
			}
			alias, err := optionalStringArg(args, 2, "alias")
			if err != nil {
				return nil, err
			}
			return nil, impl.RegisterHelper(args[0], method, alias)
		}, true
	case "fixup_registered_helpers":
		return func(ctx context.Context, _ ...any) (any, error) {
			return impl.FixupRegisteredHelpers(ctx), nil
		}, true
	case "identity":
		return func(_ context.Context, _ ...any) (any, error) {
			return impl.Identity(), nil
		}, true
	case "prefix":
		return func(_ context.Context, _ ...any) (any, error) {
			return impl.Prefix(), nil
		}, true
	}
	return nil, false
}
