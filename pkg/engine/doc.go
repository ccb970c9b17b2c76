// Package engine provides the shared error taxonomy and capability interfaces for modhost.
//
// # Overview
//
// modhost composes controllers out of three tiers of capabilities and loads their script
// modules lazily. Every tier implements CapabilityProvider:
//
//  1. Implementation - methods defined directly on the controller implementation
//  2. Helper - methods of registered helper sources, in registration order
//  3. Autoloader - the module index and bundle generator owned by the controller
//
// Dispatch asks each tier in that order and invokes the first Method found. A method no
// tier provides is not an error for the caller: it is reported as an unresolved
// capability diagnostic and the result is nil.
//
// # Values
//
// Methods exchange plain Go values so that Go functions, Starlark callables and WASM
// exports can stand behind the same name:
//
//   - nil, bool, int64, float64, string
//   - []any
//   - map[string]any
//
// # Errors
//
// All runtime errors are *Error values carrying an ErrorClass, plus the controller
// identity, method and file involved when known. Use the Is* helpers to classify:
//
//	if engine.IsStaleBundle(err) {
//	    // generate the bundle in dev mode before deploying
//	}
//
// Codes refine a class for programmatic handling. ErrCodeBundleMissing and
// ErrCodeBundleMismatch distinguish the two stale bundle cases: a missing file is
// fatal outside dev mode, a checksum mismatch against the ledger is only a warning.
package engine
