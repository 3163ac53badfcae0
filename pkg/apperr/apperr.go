// Package apperr classifies pipeline failures so the service boundary can map
// them to coarse responses while the detail stays in the logs.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error.
type Kind string

const (
	// Validation marks malformed request parameters, rejected before any external call.
	Validation Kind = "VALIDATION"

	// NotFound marks an expected empty outcome (date outside the window, no samples).
	NotFound Kind = "NOT_FOUND"

	// Conflict marks work that has already been done (collection already generated).
	Conflict Kind = "CONFLICT"

	// Upstream marks a source or image API failure.
	Upstream Kind = "UPSTREAM"

	// Store marks a graph, document, time-series or cache failure.
	Store Kind = "STORE"
)

// Error is a classified error with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in the chain, or
// an empty Kind when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
