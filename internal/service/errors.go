package service

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds.  Every error returned by the engines wraps exactly one of
// these so the boundary can map it to a status code with errors.Is.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrBadRequest      = errors.New("bad request")
	ErrConflict        = errors.New("conflict")
)

// Error carries a kind plus diagnostics.  Missing lists permission keys a
// Forbidden caller lacked; Offending lists user IDs that made a request
// invalid.
type Error struct {
	Kind      error
	Message   string
	Missing   []string
	Offending []uint64
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, " (missing %s)", strings.Join(e.Missing, ", "))
	}
	if len(e.Offending) > 0 {
		fmt.Fprintf(&b, " (users %v)", e.Offending)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func unauthenticated(format string, args ...any) *Error {
	return newError(ErrUnauthenticated, format, args...)
}
func forbidden(format string, args ...any) *Error  { return newError(ErrForbidden, format, args...) }
func notFound(format string, args ...any) *Error   { return newError(ErrNotFound, format, args...) }
func badRequest(format string, args ...any) *Error { return newError(ErrBadRequest, format, args...) }
func conflict(format string, args ...any) *Error   { return newError(ErrConflict, format, args...) }

// AsError extracts the *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
