package autoload

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/openfroyo/modhost/pkg/engine"
	"github.com/openfroyo/modhost/pkg/host"
	"github.com/openfroyo/modhost/pkg/telemetry"
)

// FileLoader executes a module file once in the running process.
type FileLoader interface {
	LoadFile(ctx context.Context, path string) error
}

// FileLoaderFunc adapts a function to a FileLoader.
type FileLoaderFunc func(ctx context.Context, path string) error

// LoadFile implements FileLoader.
func (f FileLoaderFunc) LoadFile(ctx context.Context, path string) error {
	return f(ctx, path)
}

// Loader resolves names on demand by loading the file the index maps them to.
type Loader struct {
	index   *Index
	files   FileLoader
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the loader logger.
func WithLoaderLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// WithLoaderTelemetry sets metrics and tracing for loads.
func WithLoaderTelemetry(metrics *telemetry.Metrics, tracer *telemetry.Tracer) LoaderOption {
	return func(l *Loader) {
		l.metrics = metrics
		l.tracer = tracer
	}
}

// NewLoader creates a loader reading from index and loading through files.
func NewLoader(index *Index, files FileLoader, opts ...LoaderOption) *Loader {
	l := &Loader{
		index:  index,
		files:  files,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With().Str("component", "loader").Str("controller", index.Owner()).Logger()
	return l
}

// Install appends the loader to the host resolver chain.
func (l *Loader) Install(chain *host.ResolverChain) {
	chain.Register(l)
}

// Resolve loads the file for name if the index has one. The entry is removed before the
// file runs, so a repeated or re-entrant resolve of the same name reports unhandled and
// never loads twice.
func (l *Loader) Resolve(ctx context.Context, name string) (bool, error) {
	entry, ok := l.index.Take(name)
	if !ok {
		return false, nil
	}

	ctx, span := l.tracer.StartLoadSpan(ctx, l.index.Owner(), entry.Name, entry.Path)
	defer span.End()

	timer := telemetry.NewTimer()
	err := l.files.LoadFile(ctx, entry.Path)
	l.metrics.RecordModuleLoad(l.index.Owner(), timer.Duration(), err)

	if err != nil {
		telemetry.RecordError(span, err)
		l.logger.Error().Err(err).Str("name", entry.Name).Str("path", entry.Path).Msg("Failed to load module")
		return true, engine.NewLoadError(entry.Path, err).WithIdentity(l.index.Owner())
	}

	telemetry.RecordSuccess(span)
	l.logger.Debug().
		Str("name", entry.Name).
		Str("path", entry.Path).
		Dur("duration", timer.Duration()).
		Msg("Loaded module")
	return true, nil
}
