// Package perr defines the error taxonomy shared by the plugin host.
//
// Every failure surfaced to a host or to plugin code is an *Error carrying a
// closed Kind. Callers match on kind with errors.Is against the sentinel for
// that kind:
//
//	if errors.Is(err, perr.ErrPermissionDenied) {
//	    // recoverable, local to the plugin's own code path
//	}
package perr

import (
	"errors"
	"fmt"
)

// Kind classifies a plugin error.
type Kind int

// Error kinds.
const (
	// KindRuntime covers torn-down contexts, transport failures and
	// unexpected lifecycle states.
	KindRuntime Kind = iota

	// KindInvalidManifest means the manifest failed structural, format or
	// permission validation.
	KindInvalidManifest

	// KindPlatformNotSupported means the host platform is absent from the
	// manifest, or the host is older than the plugin requires.
	KindPlatformNotSupported

	// KindPermissionDenied means a manager operation lacks its grant.
	KindPermissionDenied

	// KindSignatureInvalid means package signature verification failed.
	KindSignatureInvalid

	// KindDependencyMissing means a declared dependency is not loaded.
	KindDependencyMissing

	// KindInitializationFailed means the plugin's initialize call failed.
	KindInitializationFailed
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRuntime:
		return "runtime error"
	case KindInvalidManifest:
		return "invalid manifest"
	case KindPlatformNotSupported:
		return "platform not supported"
	case KindPermissionDenied:
		return "permission denied"
	case KindSignatureInvalid:
		return "signature invalid"
	case KindDependencyMissing:
		return "dependency missing"
	case KindInitializationFailed:
		return "initialization failed"
	default:
		return "unknown"
	}
}

// Sentinels, one per kind. An *Error matches the sentinel of its kind.
var (
	ErrRuntime              = errors.New("runtime error")
	ErrInvalidManifest      = errors.New("invalid manifest")
	ErrPlatformNotSupported = errors.New("platform not supported")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrSignatureInvalid     = errors.New("signature invalid")
	ErrDependencyMissing    = errors.New("dependency missing")
	ErrInitializationFailed = errors.New("initialization failed")
)

var sentinels = map[Kind]error{
	KindRuntime:              ErrRuntime,
	KindInvalidManifest:      ErrInvalidManifest,
	KindPlatformNotSupported: ErrPlatformNotSupported,
	KindPermissionDenied:     ErrPermissionDenied,
	KindSignatureInvalid:     ErrSignatureInvalid,
	KindDependencyMissing:    ErrDependencyMissing,
	KindInitializationFailed: ErrInitializationFailed,
}

// Error is a classified plugin error.
type Error struct {
	Kind Kind

	// Reason is a human-readable explanation.
	Reason string

	// Permission is set for KindPermissionDenied.
	Permission string

	// PluginID is set for KindDependencyMissing (the missing id) and, when
	// known, identifies the plugin the error belongs to otherwise.
	PluginID string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	switch {
	case e.Kind == KindPermissionDenied && e.Permission != "":
		msg += ": " + e.Permission
	case e.Kind == KindDependencyMissing && e.PluginID != "":
		msg += ": " + e.PluginID
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// WithPlugin sets the plugin id on the error and returns it.
// Safe to call on a nil receiver.
func (e *Error) WithPlugin(id string) *Error {
	if e == nil {
		return nil
	}
	if e.PluginID == "" {
		e.PluginID = id
	}
	return e
}

// InvalidManifest creates a KindInvalidManifest error.
func InvalidManifest(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidManifest, Reason: fmt.Sprintf(format, args...)}
}

// PlatformNotSupported creates a KindPlatformNotSupported error.
func PlatformNotSupported(format string, args ...any) *Error {
	return &Error{Kind: KindPlatformNotSupported, Reason: fmt.Sprintf(format, args...)}
}

// PermissionDenied creates a KindPermissionDenied error for permission.
func PermissionDenied(permission string) *Error {
	return &Error{Kind: KindPermissionDenied, Permission: permission}
}

// SignatureInvalid creates a KindSignatureInvalid error.
func SignatureInvalid(format string, args ...any) *Error {
	return &Error{Kind: KindSignatureInvalid, Reason: fmt.Sprintf(format, args...)}
}

// DependencyMissing creates a KindDependencyMissing error for pluginID.
func DependencyMissing(pluginID string) *Error {
	return &Error{Kind: KindDependencyMissing, PluginID: pluginID}
}

// InitializationFailed wraps err as a KindInitializationFailed error.
func InitializationFailed(err error) *Error {
	return &Error{Kind: KindInitializationFailed, Err: err}
}

// Runtime creates a KindRuntime error.
func Runtime(format string, args ...any) *Error {
	return &Error{Kind: KindRuntime, Reason: fmt.Sprintf(format, args...)}
}

// WrapRuntime wraps err as a KindRuntime error with a reason.
func WrapRuntime(err error, reason string) *Error {
	return &Error{Kind: KindRuntime, Reason: reason, Err: err}
}

// KindOf returns the kind of err. Errors that are not an *Error are
// classified as KindRuntime.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRuntime
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
