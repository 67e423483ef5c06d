// Package clerr defines the error taxonomy Clusterlib exposes to callers:
// a small set of Kind values layered over github.com/cockroachdb/errors
// so that stack traces and errors.Is/As keep working as expected.
package clerr

import (
	"fmt"

	crdb "github.com/cockroachdb/errors"
)

// Kind identifies one of the error categories Clusterlib raises. Callers
// should branch on Kind via Is, not on error message text.
type Kind string

const (
	// InvalidArgument marks path/name validation failures and malformed config.
	InvalidArgument Kind = "invalid_argument"
	// InvalidMethod marks an operation not permitted on a given entity
	// (e.g. calling getMyGroup on a non-Group Application wrapper).
	InvalidMethod Kind = "invalid_method"
	// ObjectRemoved marks access to an entity already in the REMOVED state.
	ObjectRemoved Kind = "object_removed"
	// RepositoryConnectionLost marks a terminal failure after the adapter's
	// retry budget is exhausted.
	RepositoryConnectionLost Kind = "repository_connection_lost"
	// RepositoryInternal marks a non-retryable error surfaced by the store.
	RepositoryInternal Kind = "repository_internal"
	// LockLost marks a holder that lost its session while holding a lock.
	LockLost Kind = "lock_lost"
	// Timeout marks a blocking primitive that expired before completion.
	Timeout Kind = "timeout"
	// JSONRPCInvocation marks a malformed RPC request/response or a
	// double reply.
	JSONRPCInvocation Kind = "jsonrpc_invocation"
)

// Error is a Clusterlib error: a Kind plus a causal chain managed by
// cockroachdb/errors.
type Error struct {
	kind  Kind
	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.kind)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

// Unwrap exposes the underlying cause for errors.Is/As and
// cockroachdb/errors' richer matching.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, clerr.New(clerr.Timeout, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.kind == e.kind
}

// Kind returns the error's category.
func (e *Error) Kind() Kind { return e.kind }

// New creates a Kind-tagged error carrying a stack trace.
func New(kind Kind, msg string) error {
	return &Error{kind: kind, cause: crdb.NewWithDepth(1, msg)}
}

// Newf is New with fmt-style formatting.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, cause: crdb.NewWithDepthf(1, format, args...)}
}

// Wrap tags an existing error with a Kind, preserving its chain so
// errors.Is/As still see the original cause.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, cause: crdb.Wrap(err, msg)}
}

// Wrapf is Wrap with fmt-style formatting.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, cause: crdb.Wrapf(err, format, args...)}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// KindOf extracts the Kind from err's chain, if any *Error is present.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if crdb.As(err, &e) {
		return e.kind, true
	}
	return "", false
}
