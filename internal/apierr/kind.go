// Package apierr names the closed set of external error kinds (spec §7) and
// a thin wrapper that lets the HTTP boundary recover a Kind from a kv.Error
// without the core depending on net/http.
package apierr

import "github.com/jjeffery/kv"

// Kind is one of the external error kinds spec.md §7 defines. User code
// failures (nonzero exit, timeout, oom) are never a Kind: they are reported
// as a successful response carrying the run's status.
type Kind string

const (
	Validation      Kind = "validation"
	NotFound        Kind = "not-found"
	Unauthorized    Kind = "unauthorized"
	Forbidden       Kind = "forbidden"
	TooManyRequests Kind = "too-many-requests"
	SandboxFailure  Kind = "sandbox-failure"
)

// Error pairs a Kind with the underlying kv.Error so the thin HTTP layer can
// pick a status code while the core keeps returning ordinary kv.Error values
// internally.
type Error struct {
	Kind Kind
	Err  kv.Error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// New builds an Error of the given Kind wrapping err.
func New(k Kind, err kv.Error) *Error {
	return &Error{Kind: k, Err: err}
}

// As attempts to recover an *Error from a plain error, as returned by core
// operations that surface apierr.Error for expected failure paths.
func As(err error) (*Error, bool) {
	ae, ok := err.(*Error)
	return ae, ok
}
