package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/modhost/pkg/autoload"
	"github.com/openfroyo/modhost/pkg/engine"
	"github.com/openfroyo/modhost/pkg/host"
	"github.com/openfroyo/modhost/pkg/lifecycle"
	"github.com/openfroyo/modhost/pkg/runmode"
	"github.com/openfroyo/modhost/pkg/script"
	"github.com/openfroyo/modhost/pkg/stores"
	"github.com/openfroyo/modhost/pkg/telemetry"
)

// ReadyPriority installs the gate ahead of every other ready callback.
const ReadyPriority = 0

// Ledger records bundle generations. It is satisfied by *stores.SQLiteStore.
type Ledger interface {
	RecordBundle(ctx context.Context, record *stores.BundleRecord) error
	LatestBundle(ctx context.Context, identity string) (*stores.BundleRecord, error)
}

// Deps holds the collaborators a Registry is built from. Nil fields get defaults.
type Deps struct {
	Host      *host.Host
	Gate      *lifecycle.Gate
	RunMode   *runmode.Settings
	Runtime   *script.Runtime
	Telemetry *telemetry.Telemetry

	// Ledger is optional. Without it bundle checksums are not verified.
	Ledger Ledger

	// Extension is the module file extension, ".star" when empty.
	Extension string
}

// Registry maps controller identities to their implementations and resolves
// capabilities against them.
type Registry struct {
	host      *host.Host
	gate      *lifecycle.Gate
	runmode   *runmode.Settings
	runtime   *script.Runtime
	tel       *telemetry.Telemetry
	ledger    Ledger
	extension string
	logger    zerolog.Logger

	mu    sync.RWMutex
	impls map[string]*Implementation
}

// NewRegistry creates a registry and installs its readiness gate on the host.
func NewRegistry(deps Deps) *Registry {
	if deps.Host == nil {
		deps.Host = host.New(nil)
	}
	if deps.Gate == nil {
		deps.Gate = lifecycle.NewGate()
	}
	if deps.RunMode == nil {
		deps.RunMode = runmode.New()
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Nop()
	}
	logger := deps.Telemetry.Logger.Zerolog()
	if deps.Runtime == nil {
		deps.Runtime = script.NewRuntime(script.WithLogger(logger))
	}
	if deps.Extension == "" {
		deps.Extension = autoload.DefaultExtension
	}

	r := &Registry{
		host:      deps.Host,
		gate:      deps.Gate,
		runmode:   deps.RunMode,
		runtime:   deps.Runtime,
		tel:       deps.Telemetry,
		ledger:    deps.Ledger,
		extension: deps.Extension,
		logger:    deps.Telemetry.Logger.NewComponentLogger("registry").Zerolog(),
		impls:     make(map[string]*Implementation),
	}

	r.runtime.SetResolver(r.host.Resolvers)
	r.host.Hooks.On(host.EventReady, ReadyPriority, func(ctx context.Context, args ...any) {
		if r.gate.MarkReady() {
			r.logger.Debug().Msg("Host ready")
		}
	})
	return r
}

// Host returns the host the registry is attached to.
func (r *Registry) Host() *host.Host { return r.host }

// Runtime returns the script runtime modules are loaded into.
func (r *Registry) Runtime() *script.Runtime { return r.runtime }

// RunMode returns the run mode settings.
func (r *Registry) RunMode() *runmode.Settings { return r.runmode }

// Gate returns the readiness gate.
func (r *Registry) Gate() *lifecycle.Gate { return r.gate }

// Telemetry returns the telemetry bundle.
func (r *Registry) Telemetry() *telemetry.Telemetry { return r.tel }

// RegisterOption configures a registration.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	global bool
	opts   []Option
}

// MakeGlobal publishes the controller to scripts as a global named after its identity.
func MakeGlobal() RegisterOption {
	return func(o *registerOptions) { o.global = true }
}

// WithImplementationOptions passes options to the implementation built for a directory
// target.
func WithImplementationOptions(opts ...Option) RegisterOption {
	return func(o *registerOptions) { o.opts = append(o.opts, opts...) }
}

// Register binds identity to target, a root directory string or an *Implementation.
// The first registration of an identity wins. Later calls return the existing
// implementation and false.
func (r *Registry) Register(identity string, target any, opts ...RegisterOption) (*Implementation, bool) {
	if identity == "" {
		r.logger.Warn().Msg("Ignoring registration without an identity")
		return nil, false
	}

	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	if existing, ok := r.impls[identity]; ok {
		r.mu.Unlock()
		r.logger.Debug().
			Str("controller", identity).
			Str("class", string(engine.ErrorClassDuplicateRegistration)).
			Msg("Controller already registered, keeping first registration")
		return existing, false
	}

	var impl *Implementation
	switch t := target.(type) {
	case string:
		impl = NewImplementation(t, o.opts...)
	case *Implementation:
		impl = t
	default:
		r.mu.Unlock()
		r.logger.Warn().Str("controller", identity).Msgf("Unsupported registration target %T", target)
		return nil, false
	}

	if err := impl.stamp(identity, r); err != nil {
		r.mu.Unlock()
		r.logger.Warn().Err(err).Str("controller", identity).Msg("Failed to register controller")
		return nil, false
	}
	r.impls[identity] = impl
	r.mu.Unlock()

	if o.global {
		r.runtime.SetGlobal(identity, newGlobal(r, identity))
	}

	r.logger.Debug().
		Str("controller", identity).
		Str("root", impl.Root()).
		Str("prefix", impl.Prefix()).
		Bool("global", o.global).
		Msg("Registered controller")
	return impl, true
}

// RegisterDir registers a controller rooted at dir.
func (r *Registry) RegisterDir(identity, dir string, opts ...RegisterOption) (*Implementation, bool) {
	return r.Register(identity, dir, opts...)
}

// RegisterImplementation registers a prebuilt implementation.
func (r *Registry) RegisterImplementation(identity string, impl *Implementation, opts ...RegisterOption) (*Implementation, bool) {
	return r.Register(identity, impl, opts...)
}

// Lookup returns the implementation registered under identity.
func (r *Registry) Lookup(identity string) (*Implementation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[identity]
	return impl, ok
}

// Identities returns the registered identities, sorted.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.impls))
	for id := range r.impls {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// SetClassPrefix changes the prefix applied to names derived from directories
// registered for identity from now on. It reports false for an unknown identity.
func (r *Registry) SetClassPrefix(identity, prefix string) bool {
	impl, ok := r.Lookup(identity)
	if !ok {
		return false
	}
	impl.setPrefix(prefix)
	return true
}

// Initialize prepares the controller registered under identity. It broadcasts the
// discovery event, then in dev mode loads every fragment and regenerates the bundle,
// and in other modes loads the bundle file generated at deploy time. A missing bundle
// outside dev mode is an error. Registered helpers are resolved last. An unknown
// identity is a no-op.
func (r *Registry) Initialize(ctx context.Context, identity string) (err error) {
	impl, ok := r.Lookup(identity)
	if !ok {
		return nil
	}

	op := telemetry.StartOperation(r.tel.WithContext(ctx), "controller.initialize",
		telemetry.AttrController.String(identity),
	)
	defer func() { op.End(err) }()
	ctx = op.Ctx

	r.host.Hooks.Fire(ctx, autoload.EventDiscover, identity)

	if r.runmode.IsDev() {
		err = r.initializeFragments(ctx, impl)
	} else {
		err = r.initializeBundle(ctx, impl)
	}
	if err != nil {
		return err
	}

	resolved := impl.FixupRegisteredHelpers(ctx)
	op.Logger.WithController(identity).
		WithField("runmode", string(r.runmode.Get())).
		Debugf("Controller initialized in %s, %d helpers resolved", op.Timer.Duration(), resolved)
	return nil
}

// initializeFragments generates the bundle from the current fragments and loads it as
// one module, the way other run modes load the file. The bundle is written only when it
// loaded.
func (r *Registry) initializeFragments(ctx context.Context, impl *Implementation) error {
	identity := impl.Identity()
	impl.Index().IndexNow()

	bundler := impl.Bundler()
	path := bundler.Path()
	content, err := bundler.Generate()
	if err != nil {
		r.tel.Diagnostics.ReportLoadFailed(identity, path, err.Error())
		return engine.NewLoadError(path, err).WithIdentity(identity)
	}
	if err := r.runtime.LoadSource(ctx, path, content); err != nil {
		r.tel.Diagnostics.ReportLoadFailed(identity, path, err.Error())
		return engine.NewLoadError(path, err).WithIdentity(identity)
	}

	bctx, span := r.tel.Tracer.StartBundleSpan(ctx, identity, path)
	defer span.End()

	result, err := bundler.Write(path, content)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to sync bundle for %s: %w", identity, err)
	}
	span.SetAttributes(
		telemetry.AttrBundleChecksum.String(result.Checksum),
		telemetry.AttrBundleWritten.Bool(result.Written),
	)
	telemetry.RecordSuccess(span)
	r.tel.Metrics.RecordBundleSync(identity, result.Written)

	r.recordBundle(bctx, identity, result)
	return nil
}

// recordBundle appends a ledger entry when the bundle changed since the last one.
func (r *Registry) recordBundle(ctx context.Context, identity string, result autoload.SyncResult) {
	if r.ledger == nil {
		return
	}

	latest, err := r.ledger.LatestBundle(ctx, identity)
	if err == nil && !result.Written && latest.Checksum == result.Checksum {
		return
	}
	if err != nil && !errors.Is(err, stores.ErrNotFound) {
		r.logger.Warn().Err(err).Str("controller", identity).Msg("Failed to read bundle ledger")
	}

	record := &stores.BundleRecord{
		Identity:  identity,
		Path:      result.Path,
		Checksum:  result.Checksum,
		Fragments: result.Fragments,
		RunMode:   string(r.runmode.Get()),
	}
	if err := r.ledger.RecordBundle(ctx, record); err != nil {
		r.logger.Warn().Err(err).Str("controller", identity).Msg("Failed to record bundle")
	}
}

// initializeBundle loads the bundle file verbatim.
func (r *Registry) initializeBundle(ctx context.Context, impl *Implementation) error {
	identity := impl.Identity()
	path := impl.Bundler().Path()

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			msg := "bundle file is missing; generate it in dev mode before deploying"
			r.tel.Diagnostics.ReportStaleBundle(identity, path, msg)
			return engine.NewStaleBundleError(msg, path, err).
				WithIdentity(identity).
				WithCode(engine.ErrCodeBundleMissing)
		}
		return engine.NewLoadError(path, err).WithIdentity(identity)
	}

	r.verifyBundle(ctx, identity, path, content)

	if err := r.runtime.LoadFile(ctx, path); err != nil {
		r.tel.Diagnostics.ReportLoadFailed(identity, path, err.Error())
		return engine.NewLoadError(path, err).WithIdentity(identity)
	}
	return nil
}

// verifyBundle warns when the bundle on disk differs from the last recorded generation.
func (r *Registry) verifyBundle(ctx context.Context, identity, path string, content []byte) {
	if r.ledger == nil {
		return
	}

	latest, err := r.ledger.LatestBundle(ctx, identity)
	if err != nil {
		r.logger.Debug().Err(err).Str("controller", identity).Msg("No bundle generation recorded")
		return
	}

	checksum := autoload.Checksum(content)
	if checksum == latest.Checksum {
		return
	}

	stale := engine.NewStaleBundleError("bundle differs from the last recorded generation", path, nil).
		WithIdentity(identity).
		WithCode(engine.ErrCodeBundleMismatch)
	r.logger.Warn().
		Str("controller", identity).
		Str("path", path).
		Str("checksum", checksum).
		Str("recorded", latest.Checksum).
		Msg(stale.Message)
	r.tel.Diagnostics.Report(telemetry.Diagnostic{
		Type:       telemetry.DiagnosticStaleBundle,
		Controller: identity,
		Message:    stale.Message,
		Level:      telemetry.LevelWarning,
		Data: map[string]interface{}{
			"path":     path,
			"checksum": checksum,
			"recorded": latest.Checksum,
			"code":     stale.Code,
		},
	})
}

// Controller returns the facade for identity. The identity need not be registered yet.
func (r *Registry) Controller(identity string) *Controller {
	return &Controller{registry: r, identity: identity}
}
