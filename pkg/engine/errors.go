package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error raised by the runtime.
type ErrorClass string

const (
	// ErrorClassUnresolvedCapability indicates dispatch found no provider for a method.
	// It is reported as a warning and never aborts the caller.
	ErrorClassUnresolvedCapability ErrorClass = "unresolved_capability"

	// ErrorClassInvalidRunMode indicates a run mode outside dev, test, stage and live
	// was rejected in strict mode.
	ErrorClassInvalidRunMode ErrorClass = "invalid_runmode"

	// ErrorClassDuplicateRegistration indicates a controller identity was registered twice.
	// Registration is idempotent, so this class is only used for diagnostics.
	ErrorClassDuplicateRegistration ErrorClass = "duplicate_registration"

	// ErrorClassStaleBundle indicates the generated bundle is missing or does not match
	// the ledger. A missing bundle outside dev mode is a deploy-time precondition failure.
	ErrorClassStaleBundle ErrorClass = "stale_bundle"

	// ErrorClassLoadFailed indicates a module file could not be read or executed.
	ErrorClassLoadFailed ErrorClass = "load_failed"

	// ErrorClassInvalidConfig indicates the project configuration is unusable.
	ErrorClassInvalidConfig ErrorClass = "invalid_config"
)

// Error represents a classified error with context.
// nolint:revive // engine.Error is the package's only error type
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Identity is the controller identity involved, if any.
	Identity string `json:"identity,omitempty"`

	// Method is the capability name involved, if any.
	Method string `json:"method,omitempty"`

	// Path is the file involved, if any.
	Path string `json:"path,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Identity != "" && e.Method != "":
		msg += fmt.Sprintf(" (identity=%s, method=%s)", e.Identity, e.Method)
	case e.Identity != "":
		msg += fmt.Sprintf(" (identity=%s)", e.Identity)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewUnresolvedCapabilityError reports that no provider tier handles method for identity.
func NewUnresolvedCapabilityError(identity, method string) *Error {
	return &Error{
		Class:    ErrorClassUnresolvedCapability,
		Message:  fmt.Sprintf("neither %s nor any of its registered helpers have the method %s()", identity, method),
		Code:     ErrCodeUnresolved,
		Identity: identity,
		Method:   method,
	}
}

// NewInvalidRunModeError reports a rejected run mode value.
func NewInvalidRunModeError(value string) *Error {
	return &Error{
		Class:   ErrorClassInvalidRunMode,
		Message: fmt.Sprintf("run mode %q is not one of dev, test, stage or live", value),
		Code:    ErrCodeValidation,
	}
}

// NewStaleBundleError creates a stale bundle error for the bundle at path.
func NewStaleBundleError(message, path string, err error) *Error {
	return &Error{
		Class:   ErrorClassStaleBundle,
		Message: message,
		Path:    path,
		Err:     err,
	}
}

// NewLoadError creates a module load error for the file at path.
func NewLoadError(path string, err error) *Error {
	return &Error{
		Class:   ErrorClassLoadFailed,
		Message: "failed to load module",
		Code:    ErrCodeLoad,
		Path:    path,
		Err:     err,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassInvalidConfig,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// WithIdentity adds controller identity context to an error.
func (e *Error) WithIdentity(identity string) *Error {
	e.Identity = identity
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsUnresolved returns true if the error is an unresolved capability.
func IsUnresolved(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassUnresolvedCapability
}

// IsInvalidRunMode returns true if the error is a rejected run mode.
func IsInvalidRunMode(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassInvalidRunMode
}

// IsStaleBundle returns true if the error is classified as a stale or missing bundle.
func IsStaleBundle(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassStaleBundle
}

// IsLoadFailed returns true if a module failed to load.
func IsLoadFailed(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassLoadFailed
}

// IsInvalidConfig returns true if the error is a configuration error.
func IsInvalidConfig(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassInvalidConfig
}

// Common error codes.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeUnresolved     = "UNRESOLVED_CAPABILITY"
	ErrCodeBundleMissing  = "BUNDLE_MISSING"
	ErrCodeBundleMismatch = "BUNDLE_CHECKSUM_MISMATCH"
	ErrCodeLoad           = "LOAD_ERROR"
)
