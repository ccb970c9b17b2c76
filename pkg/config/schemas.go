package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	// Built-in schemas are constants and always compile
	_ = sr.RegisterSchema("project", builtinProjectSchema)

	return sr
}

// RegisterSchema registers a CUE schema with the given name. A schema is a CUE
// source whose definitions are looked up by ValidateAgainstSchema.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against the definition def (e.g. "#Project")
// of the named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName, def string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	definition := schema.LookupPath(cue.ParsePath(def))
	if !definition.Exists() {
		return fmt.Errorf("schema %s has no definition %s", schemaName, def)
	}

	sr.mu.Lock()
	dataVal := sr.ctx.Encode(data)
	sr.mu.Unlock()
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := definition.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateProject validates a project config against #Project.
func (sr *SchemaRegistry) ValidateProject(ctx context.Context, cfg *Config) error {
	return sr.ValidateAgainstSchema(ctx, "project", "#Project", cfg)
}

// Built-in schema definitions

const builtinProjectSchema = `
// Project schema for modhost.yaml
#Project: {
	runmode?:   string
	debug?:     bool
	extension?: =~"^\\.[A-Za-z0-9_]+$"

	site?: {
		theme_dir?: string
		theme_uri?: string
		secure?:    bool
	}

	ledger?: {
		path?: string
	}

	telemetry?: {...}

	controllers: [...#Controller]
}

#Controller: {
	// Identity doubles as a script global name
	identity: =~"^[A-Za-z_][A-Za-z0-9_]*$"

	root:    string & !=""
	uri?:    string
	prefix?: =~"^[A-Za-z0-9_]*$"

	dirs?: [...#Dir]
	classes?: {[string]: string}
	helpers?: [...#Helper]

	make_global?: bool
}

#Dir: {
	path:    string & !=""
	prefix?: =~"^[A-Za-z0-9_]*$"
}

#Helper: {
	wasm?:   string
	symbol?: string
	method?: =~"^[A-Za-z_][A-Za-z0-9_]*$"
	alias?:  =~"^[A-Za-z_][A-Za-z0-9_]*$"
}
`
