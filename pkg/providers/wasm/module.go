// Package wasm exposes the exported functions of a WebAssembly module as helper
// capabilities.
package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Config contains configuration for WASM helper modules.
type Config struct {
	// Timeout bounds a single function call.
	Timeout time.Duration

	// MemoryLimitPages is the maximum memory limit in pages (64KB each).
	// Default is 256 pages (16MB).
	MemoryLimitPages uint32
}

// DefaultConfig returns the default module configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:          30 * time.Second,
		MemoryLimitPages: 256,
	}
}

// reserved exports are runtime plumbing, not capabilities.
var reserved = map[string]bool{
	"malloc":      true,
	"free":        true,
	"_start":      true,
	"_initialize": true,
}

// Module is an instantiated WASM module whose exported functions are callable by name.
//
// Numeric functions are called directly: arguments are encoded according to the
// function's parameter types and results decoded the same way. A function taking
// (ptr, len i32) and returning a packed i64 is called with its single argument
// marshaled to JSON in module memory when the module exports malloc.
type Module struct {
	name    string
	runtime wazero.Runtime
	module  api.Module
	memory  api.Memory
	malloc  api.Function
	free    api.Function
	timeout time.Duration
}

// Load compiles and instantiates wasm under name.
func Load(ctx context.Context, name string, wasm []byte, cfg *Config) (*Module, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 256
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true))

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasm)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module %s: %w", name, err)
	}

	module, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASM module %s: %w", name, err)
	}

	return &Module{
		name:    name,
		runtime: runtime,
		module:  module,
		memory:  module.Memory(),
		malloc:  module.ExportedFunction("malloc"),
		free:    module.ExportedFunction("free"),
		timeout: cfg.Timeout,
	}, nil
}

// LoadFile loads the module at path, named after the file without its extension.
func LoadFile(ctx context.Context, path string, cfg *Config) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM module: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Load(ctx, name, data, cfg)
}

// Name returns the module name.
func (m *Module) Name() string { return m.name }

// Functions returns the exported capability names, sorted.
func (m *Module) Functions() []string {
	defs := m.module.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		if !reserved[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Has reports whether the module exports a capability called name.
func (m *Module) Has(name string) bool {
	return !reserved[name] && m.module.ExportedFunction(name) != nil
}

// Call invokes the exported function name with args.
func (m *Module) Call(ctx context.Context, name string, args ...any) (any, error) {
	if reserved[name] {
		return nil, fmt.Errorf("function %s is not callable", name)
	}
	fn := m.module.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("module %s has no function %s", m.name, name)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	def := fn.Definition()
	if m.usesJSON(def, args) {
		return m.callJSON(callCtx, fn, args)
	}

	params := def.ParamTypes()
	if len(args) != len(params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", name, len(params), len(args))
	}

	stack := make([]uint64, len(params))
	for i, t := range params {
		v, err := encode(t, args[i])
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", name, i, err)
		}
		stack[i] = v
	}

	results, err := fn.Call(callCtx, stack...)
	if err != nil {
		return nil, fmt.Errorf("WASM function call failed: %w", err)
	}

	out := make([]any, len(results))
	for i, t := range def.ResultTypes() {
		out[i] = decode(t, results[i])
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	default:
		return out, nil
	}
}

// usesJSON reports whether fn follows the (ptr, len) -> packed i64 JSON convention and
// args is not a plain numeric argument list.
func (m *Module) usesJSON(def api.FunctionDefinition, args []any) bool {
	if m.malloc == nil || m.memory == nil || len(args) > 1 {
		return false
	}
	p, r := def.ParamTypes(), def.ResultTypes()
	if len(p) != 2 || p[0] != api.ValueTypeI32 || p[1] != api.ValueTypeI32 || len(r) != 1 || r[0] != api.ValueTypeI64 {
		return false
	}
	if len(args) == 0 {
		return true
	}
	_, numeric := toInt64(args[0])
	return !numeric
}

// callJSON calls fn with its argument marshaled into module memory.
// The packed result is (output_ptr << 32) | output_len.
func (m *Module) callJSON(ctx context.Context, fn api.Function, args []any) (any, error) {
	var input []byte
	if len(args) == 1 {
		data, err := json.Marshal(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal argument: %w", err)
		}
		input = data
	}

	var inputPtr, inputLen uint32
	if len(input) > 0 {
		res, err := m.malloc.Call(ctx, uint64(len(input)))
		if err != nil {
			return nil, fmt.Errorf("failed to allocate WASM memory: %w", err)
		}
		inputPtr, inputLen = uint32(res[0]), uint32(len(input))
		defer m.release(ctx, inputPtr)

		if !m.memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("failed to write input to WASM memory")
		}
	}

	results, err := fn.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("WASM function call failed: %w", err)
	}

	packed := results[0]
	outputPtr, outputLen := uint32(packed>>32), uint32(packed)
	if outputLen == 0 {
		return nil, nil
	}

	output, ok := m.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}
	data := append([]byte(nil), output...)
	m.release(ctx, outputPtr)

	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return result, nil
}

func (m *Module) release(ctx context.Context, ptr uint32) {
	if m.free != nil {
		_, _ = m.free.Call(ctx, uint64(ptr))
	}
}

// Close releases the module and its runtime.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

func encode(t api.ValueType, arg any) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		i, ok := toInt64(arg)
		if !ok || i < math.MinInt32 || i > math.MaxUint32 {
			return 0, fmt.Errorf("expected i32, got %v (%T)", arg, arg)
		}
		return api.EncodeI32(int32(i)), nil
	case api.ValueTypeI64:
		i, ok := toInt64(arg)
		if !ok {
			return 0, fmt.Errorf("expected i64, got %v (%T)", arg, arg)
		}
		return api.EncodeI64(i), nil
	case api.ValueTypeF32:
		f, ok := toFloat64(arg)
		if !ok {
			return 0, fmt.Errorf("expected f32, got %v (%T)", arg, arg)
		}
		return api.EncodeF32(float32(f)), nil
	case api.ValueTypeF64:
		f, ok := toFloat64(arg)
		if !ok {
			return 0, fmt.Errorf("expected f64, got %v (%T)", arg, arg)
		}
		return api.EncodeF64(f), nil
	default:
		return 0, fmt.Errorf("unsupported parameter type %s", api.ValueTypeName(t))
	}
}

func decode(t api.ValueType, v uint64) any {
	switch t {
	case api.ValueTypeI32:
		return int64(api.DecodeI32(v))
	case api.ValueTypeI64:
		return int64(v)
	case api.ValueTypeF32:
		return float64(api.DecodeF32(v))
	case api.ValueTypeF64:
		return api.DecodeF64(v)
	default:
		return v
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
