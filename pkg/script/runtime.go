package script

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/modhost/pkg/telemetry"
)

// contextKey is the thread-local key carrying the caller's context.
const contextKey = "modhost.context"

// Resolver resolves a logical name by loading whatever defines it.
type Resolver interface {
	Resolve(ctx context.Context, name string) (bool, error)
}

// symbol is a defined name and the module that defined it.
type symbol struct {
	name   string
	value  starlark.Value
	module string
}

// Runtime executes module files and keeps the table of symbols they define.
// A file runs at most once. Names are case-insensitive and the first definition wins.
type Runtime struct {
	resolver Resolver
	logger   zerolog.Logger

	mu      sync.RWMutex
	symbols map[string]symbol
	modules map[string]starlark.StringDict
	loading map[string]bool
	globals starlark.StringDict
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithResolver sets the resolver used by use() and load() for undefined names.
func WithResolver(r Resolver) Option {
	return func(rt *Runtime) { rt.resolver = r }
}

// WithLogger sets the runtime logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(rt *Runtime) { rt.logger = logger }
}

// NewRuntime creates an empty runtime.
func NewRuntime(opts ...Option) *Runtime {
	rt := &Runtime{
		logger:  zerolog.Nop(),
		symbols: make(map[string]symbol),
		modules: make(map[string]starlark.StringDict),
		loading: make(map[string]bool),
		globals: make(starlark.StringDict),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger = rt.logger.With().Str("component", "script").Logger()
	return rt
}

// SetResolver replaces the resolver. It is used when the resolver chain is built after
// the runtime.
func (rt *Runtime) SetResolver(r Resolver) {
	rt.mu.Lock()
	rt.resolver = r
	rt.mu.Unlock()
}

// Defined reports whether name is a defined symbol. It never triggers resolution.
func (rt *Runtime) Defined(name string) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	_, ok := rt.symbols[strings.ToLower(name)]
	return ok
}

// Symbol returns the value defined under name without triggering resolution.
func (rt *Runtime) Symbol(name string) (starlark.Value, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	s, ok := rt.symbols[strings.ToLower(name)]
	return s.value, ok
}

// Symbols returns the defined symbol names, sorted.
func (rt *Runtime) Symbols() []string {
	rt.mu.RLock()
	names := make([]string, 0, len(rt.symbols))
	for _, s := range rt.symbols {
		names = append(names, s.name)
	}
	rt.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Define adds a symbol from Go. It reports false if name was already defined.
func (rt *Runtime) Define(name string, value starlark.Value) bool {
	return rt.define(name, value, "")
}

func (rt *Runtime) define(name string, value starlark.Value, module string) bool {
	key := strings.ToLower(name)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rt.symbols[key]; ok {
		return false
	}
	rt.symbols[key] = symbol{name: name, value: value, module: module}
	return true
}

// SetGlobal makes value visible under name to every file executed afterwards.
func (rt *Runtime) SetGlobal(name string, value starlark.Value) {
	rt.mu.Lock()
	rt.globals[name] = value
	rt.mu.Unlock()
}

// Global returns a value published with SetGlobal.
func (rt *Runtime) Global(name string) (starlark.Value, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	v, ok := rt.globals[name]
	return v, ok
}

// Lookup returns the symbol for name, resolving it through the resolver when it is not
// defined yet.
func (rt *Runtime) Lookup(ctx context.Context, name string) (starlark.Value, error) {
	if v, ok := rt.Symbol(name); ok {
		return v, nil
	}

	rt.mu.RLock()
	resolver := rt.resolver
	rt.mu.RUnlock()

	if resolver != nil {
		if _, err := resolver.Resolve(ctx, name); err != nil {
			return nil, err
		}
		if v, ok := rt.Symbol(name); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("undefined symbol %q", name)
}

// LoadFile executes the module file at path once. Every global it defines becomes a
// symbol unless the name is taken.
func (rt *Runtime) LoadFile(ctx context.Context, path string) error {
	return rt.loadModule(ctx, path, func() ([]byte, error) {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read module: %w", err)
		}
		return src, nil
	})
}

// LoadSource executes src as the module named path, once, exactly as LoadFile would
// execute a file with that content.
func (rt *Runtime) LoadSource(ctx context.Context, path string, src []byte) error {
	return rt.loadModule(ctx, path, func() ([]byte, error) { return src, nil })
}

func (rt *Runtime) loadModule(ctx context.Context, path string, read func() ([]byte, error)) error {
	rt.mu.Lock()
	if _, done := rt.modules[path]; done || rt.loading[path] {
		rt.mu.Unlock()
		return nil
	}
	rt.loading[path] = true
	rt.mu.Unlock()

	defer func() {
		rt.mu.Lock()
		delete(rt.loading, path)
		rt.mu.Unlock()
	}()

	src, err := read()
	if err != nil {
		return err
	}

	globals, err := rt.exec(ctx, path, src)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	rt.modules[path] = globals
	rt.mu.Unlock()

	for _, name := range sortedKeys(globals) {
		if !rt.define(name, globals[name], path) {
			rt.logger.Debug().Str("name", name).Str("path", path).Msg("Symbol already defined, keeping first definition")
		}
	}

	rt.logger.Debug().Str("path", path).Int("symbols", len(globals)).Msg("Module executed")
	return nil
}

// Exec runs src as a module named filename and returns its globals without defining
// symbols.
func (rt *Runtime) Exec(ctx context.Context, filename, src string) (starlark.StringDict, error) {
	return rt.exec(ctx, filename, []byte(src))
}

func (rt *Runtime) exec(ctx context.Context, filename string, src []byte) (starlark.StringDict, error) {
	thread := rt.newThread(ctx, filename)
	globals, err := starlark.ExecFile(thread, filename, src, rt.predeclared())
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return nil, fmt.Errorf("starlark execution failed: %s", evalErr.Backtrace())
		}
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}
	return globals, nil
}

func (rt *Runtime) newThread(ctx context.Context, name string) *starlark.Thread {
	logger := rt.logger
	if l, ok := telemetry.FromContext(ctx); ok {
		logger = l.Zerolog()
	}
	thread := &starlark.Thread{
		Name: name,
		Print: func(t *starlark.Thread, msg string) {
			logger.Info().Str("module", t.Name).Msg(msg)
		},
		Load: rt.load,
	}
	thread.SetLocal(contextKey, ctx)
	return thread
}

// NewThread returns a thread for calling script values from Go.
func (rt *Runtime) NewThread(ctx context.Context, name string) *starlark.Thread {
	return rt.newThread(ctx, name)
}

// ContextFrom returns the context carried by thread, or context.Background.
func ContextFrom(thread *starlark.Thread) context.Context {
	if thread != nil {
		if ctx, ok := thread.Local(contextKey).(context.Context); ok {
			return ctx
		}
	}
	return context.Background()
}

// load implements load("<name>", ...): name is resolved like use() and the globals of
// the module that defined it are returned.
func (rt *Runtime) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	v, err := rt.Lookup(ContextFrom(thread), module)
	if err != nil {
		return nil, err
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()
	s := rt.symbols[strings.ToLower(module)]
	if globals, ok := rt.modules[s.module]; ok && s.module != "" {
		return globals, nil
	}
	return starlark.StringDict{s.name: v}, nil
}

func (rt *Runtime) predeclared() starlark.StringDict {
	predeclared := starlark.StringDict{
		"struct":  starlarkstruct.Default,
		"use":     starlark.NewBuiltin("use", rt.builtinUse),
		"defined": starlark.NewBuiltin("defined", rt.builtinDefined),
		"log":     starlark.NewBuiltin("log", rt.builtinLog),
	}

	rt.mu.RLock()
	for name, v := range rt.globals {
		predeclared[name] = v
	}
	rt.mu.RUnlock()

	return predeclared
}

// builtinUse implements use(name): returns the symbol, loading its module on demand.
func (rt *Runtime) builtinUse(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	v, err := rt.Lookup(ContextFrom(thread), name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return v, nil
}

// builtinDefined implements defined(name) without triggering resolution.
func (rt *Runtime) builtinDefined(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	return starlark.Bool(rt.Defined(name)), nil
}

// builtinLog implements log(msg, level="info").
func (rt *Runtime) builtinLog(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg, level string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "msg", &msg, "level?", &level); err != nil {
		return nil, err
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	rt.logger.WithLevel(lvl).Str("module", thread.Name).Msg(msg)
	return starlark.None, nil
}

func sortedKeys(d starlark.StringDict) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
