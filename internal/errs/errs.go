// Package errs defines the error taxonomy shared by the editor core and its collaborators.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how callers are expected to recover from it.
type Kind string

const (
	// Validation is empty or invalid input rejected before any side effect.
	Validation Kind = "VALIDATION_ERROR"
	// Network is an unreachable collaborator or a non-success response.
	Network Kind = "NETWORK_ERROR"
	// Parse is malformed custom-node markup; always recovered with defaults.
	Parse Kind = "PARSE_ERROR"
	// Concurrency is a second operation started while one is in flight.
	Concurrency Kind = "CONCURRENCY_REJECTION"
	// StateConflict is a command whose target node moved or disappeared.
	StateConflict Kind = "STATE_CONFLICT"
	// NotFound is a missing post, template or poll.
	NotFound Kind = "NOT_FOUND"
)

// Error carries a Kind along with the operation that produced it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an *Error.
func E(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Validationf is shorthand for a validation error with a formatted message.
func Validationf(op, format string, args ...any) *Error {
	return E(Validation, op, fmt.Sprintf(format, args...), nil)
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
