// Package apperr defines the failure taxonomy shared by the fetch, asset and
// scene pipelines and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	InvalidInput     Kind = "INVALID_INPUT"
	NotFound         Kind = "NOT_FOUND"
	RateLimited      Kind = "RATE_LIMITED"
	BadUpstream      Kind = "BAD_UPSTREAM"
	MissingAssets    Kind = "MISSING_ASSETS"
	MalformedBundle  Kind = "MALFORMED_BUNDLE"
	TransientNetwork Kind = "TRANSIENT_NETWORK"
	Unavailable      Kind = "UNAVAILABLE"
	Busy             Kind = "BUSY"
	Internal         Kind = "INTERNAL"
)

// Error is a classified failure. Status carries the upstream HTTP status when
// the failure came from a remote response, Details a snippet of its body.
type Error struct {
	Kind    Kind
	Message string
	Details string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New returns an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind caused by err.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: err}
}

// WithDetails sets the details field and returns e.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// WithStatus records an upstream HTTP status and returns e.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind onto the status code returned to callers.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case RateLimited, Busy:
		return http.StatusTooManyRequests
	case Unavailable:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
