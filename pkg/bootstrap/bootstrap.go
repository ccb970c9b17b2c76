// Package bootstrap assembles a modhost runtime from a project file.
//
// New wires telemetry, the host site, the run mode, the optional SQLite bundle ledger
// and the controller registry, then registers every configured controller with its
// directories, classes and helpers. Boot runs the host lifecycle and initializes the
// controllers in declaration order.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/openfroyo/modhost/pkg/autoload"
	"github.com/openfroyo/modhost/pkg/config"
	"github.com/openfroyo/modhost/pkg/controller"
	"github.com/openfroyo/modhost/pkg/host"
	"github.com/openfroyo/modhost/pkg/providers/wasm"
	"github.com/openfroyo/modhost/pkg/runmode"
	"github.com/openfroyo/modhost/pkg/stores"
	"github.com/openfroyo/modhost/pkg/telemetry"
)

// Runtime is an assembled modhost process.
type Runtime struct {
	Config    *config.Config
	Telemetry *telemetry.Telemetry
	Host      *host.Host
	RunMode   *runmode.Settings
	Registry  *controller.Registry

	// Store is nil when no ledger path is configured.
	Store *stores.SQLiteStore

	logger   zerolog.Logger
	modules  []*wasm.Module
	watchers []*autoload.Watcher

	// ownsTelemetry is set when New built the telemetry and Close shuts it down.
	ownsTelemetry bool
}

// Option configures New.
type Option func(*options)

type options struct {
	telemetry *telemetry.Telemetry
	wasm      *wasm.Config
}

// WithTelemetry uses tel instead of building one from the config.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *options) { o.telemetry = tel }
}

// WithWasmConfig sets the configuration WASM helper modules are loaded with.
func WithWasmConfig(cfg *wasm.Config) Option {
	return func(o *options) { o.wasm = cfg }
}

// New assembles a runtime from cfg. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Runtime, err error) {
	o := options{wasm: wasm.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	tel := o.telemetry
	owned := tel == nil
	if owned {
		tel, err = telemetry.NewTelemetry(cfg.TelemetryConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}
	logger := tel.Logger.Zerolog()

	rt := &Runtime{
		Config:        cfg,
		Telemetry:     tel,
		logger:        tel.Logger.NewComponentLogger("bootstrap").Zerolog(),
		ownsTelemetry: owned,
	}
	defer func() {
		if err != nil {
			_ = rt.Close(ctx)
		}
	}()

	rt.Host = host.New(host.NewSite(cfg.Site.ThemeDir, cfg.Site.ThemeURI, cfg.Site.Secure, cfg.Debug))

	rt.RunMode = runmode.New(
		runmode.WithStrict(rt.Host.Site.Debug),
		runmode.WithLogger(logger),
		runmode.OnReject(func(rejected error) {
			tel.Diagnostics.ReportInvalidRunMode(cfg.RunMode, rejected.Error())
		}),
	)
	if err := rt.RunMode.Set(cfg.RunMode); err != nil {
		rt.logger.Warn().Err(err).Str("runmode", string(rt.RunMode.Get())).Msg("Keeping previous run mode")
	}

	var ledger controller.Ledger
	if cfg.Ledger.Path != "" {
		store, err := openStore(ctx, cfg.Ledger.Path)
		if err != nil {
			return nil, err
		}
		rt.Store = store
		ledger = store

		tel.Diagnostics.Subscribe(stores.DiagnosticSink(ctx, store, func(err error) {
			rt.logger.Warn().Err(err).Msg("Failed to persist diagnostic")
		}), nil)
	}

	rt.Registry = controller.NewRegistry(controller.Deps{
		Host:      rt.Host,
		RunMode:   rt.RunMode,
		Telemetry: tel,
		Ledger:    ledger,
		Extension: cfg.Extension,
	})

	for _, ctrl := range cfg.Controllers {
		if err := rt.register(ctx, ctrl, o.wasm); err != nil {
			return nil, err
		}
	}

	rt.logger.Info().
		Str("runmode", string(rt.RunMode.Get())).
		Int("controllers", len(cfg.Controllers)).
		Bool("ledger", rt.Store != nil).
		Msg("Runtime assembled")
	return rt, nil
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}
	return store, nil
}

// register adds one configured controller and its sources.
func (rt *Runtime) register(ctx context.Context, ctrl config.ControllerConfig, wasmCfg *wasm.Config) error {
	var implOpts []controller.Option
	if ctrl.URI != "" {
		implOpts = append(implOpts, controller.WithURI(ctrl.URI))
	}
	if ctrl.Prefix != "" {
		implOpts = append(implOpts, controller.WithClassPrefix(ctrl.Prefix))
	}

	regOpts := []controller.RegisterOption{controller.WithImplementationOptions(implOpts...)}
	if ctrl.Global {
		regOpts = append(regOpts, controller.MakeGlobal())
	}

	impl, ok := rt.Registry.Register(ctrl.Identity, ctrl.Root, regOpts...)
	if !ok {
		return fmt.Errorf("failed to register controller %s", ctrl.Identity)
	}

	for _, dir := range ctrl.ControllerDirs() {
		if err := impl.RegisterDir(dir.Path, dir.Prefix); err != nil {
			return fmt.Errorf("controller %s: %w", ctrl.Identity, err)
		}
	}
	if len(ctrl.Classes) > 0 {
		impl.RegisterClasses(ctrl.Classes)
	}

	for _, h := range ctrl.Helpers {
		var source any = h.Symbol
		if h.Wasm != "" {
			mod, err := wasm.LoadFile(ctx, h.Wasm, wasmCfg)
			if err != nil {
				return fmt.Errorf("controller %s: failed to load helper %s: %w", ctrl.Identity, h.Wasm, err)
			}
			rt.modules = append(rt.modules, mod)
			source = mod
		}
		if err := impl.RegisterHelper(source, h.Method, h.Alias); err != nil {
			return fmt.Errorf("controller %s: %w", ctrl.Identity, err)
		}
	}
	return nil
}

// Boot runs the host init and ready events and initializes every controller. All
// controllers are attempted; the returned error joins the failures.
func (rt *Runtime) Boot(ctx context.Context) error {
	rt.Host.Boot(ctx)

	var errs []error
	for _, ctrl := range rt.Config.Controllers {
		if err := rt.Registry.Initialize(ctx, ctrl.Identity); err != nil {
			rt.Telemetry.Logger.WithController(ctrl.Identity).WithError(err).Error("Failed to initialize controller")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Watch regenerates each controller's bundle as its module files change, until ctx
// is done. Regenerated bundles are recorded in the ledger.
func (rt *Runtime) Watch(ctx context.Context) error {
	for _, identity := range rt.Registry.Identities() {
		impl, ok := rt.Registry.Lookup(identity)
		if !ok || impl.Index() == nil {
			continue
		}

		w := autoload.NewWatcher(impl.Index(), impl.Bundler(), rt.logger, func(result autoload.SyncResult) {
			rt.onSync(ctx, identity, result)
		})
		if err := w.Watch(ctx); err != nil {
			return fmt.Errorf("failed to watch %s: %w", identity, err)
		}
		rt.watchers = append(rt.watchers, w)
	}
	rt.Telemetry.Logger.NewComponentLogger("bootstrap").Infof("Watching %d controllers", len(rt.watchers))
	return nil
}

func (rt *Runtime) onSync(ctx context.Context, identity string, result autoload.SyncResult) {
	rt.Telemetry.Metrics.RecordBundleSync(identity, result.Written)
	if !result.Written || rt.Store == nil {
		return
	}
	err := rt.Store.RecordBundle(ctx, &stores.BundleRecord{
		Identity:  identity,
		Path:      result.Path,
		Checksum:  result.Checksum,
		Fragments: result.Fragments,
		RunMode:   string(rt.RunMode.Get()),
	})
	if err != nil {
		rt.logger.Warn().Err(err).Str("controller", identity).Msg("Failed to record bundle")
	}
}

// Close stops watchers, releases helper modules and closes the ledger. Telemetry built
// by New is shut down; telemetry passed in with WithTelemetry is only flushed.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for _, w := range rt.watchers {
		if err := w.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.watchers = nil

	for _, mod := range rt.modules {
		if err := mod.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.modules = nil

	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	switch {
	case rt.Telemetry == nil:
	case rt.ownsTelemetry:
		if err := rt.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	default:
		if err := rt.Telemetry.Tracer.ForceFlush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
