// Package controller composes controllers out of an implementation, registered helpers
// and a lazily loaded module directory, and dispatches capability calls against them.
//
// A Registry maps each identity to one Implementation. Dispatch checks three tiers in a
// fixed order and the first match wins:
//
//  1. direct methods of the Implementation (dir, uri, register_helper, ...)
//  2. registered helpers, by method name or alias, in registration order
//  3. the owned autoloader (register_dir, get_bundle_content, ...)
//
// A method no tier provides is reported as a warning diagnostic and returns nil.
//
// Initialize loads a controller's on-load code: every fragment plus a regenerated bundle
// in dev mode, or the bundle file alone in any other run mode.
package controller
