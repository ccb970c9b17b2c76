// Package script is the embedded Starlark runtime that executes module files.
//
// Loading a file runs it once; its globals become symbols of the process, keyed
// case-insensitively, first definition wins. Scripts reach other modules with
// use(name) or load(name, ...), both of which resolve undefined names through the
// host resolver chain. Because resolution may execute another file, both are
// re-entrant.
//
// Predeclared names: struct, use, defined, log, plus anything published with
// SetGlobal.
package script
