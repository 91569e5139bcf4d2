// Package dErrors provides code-carrying domain errors. Services create or
// wrap errors with a Code; transports and callers branch on HasCode instead
// of string matching.
package dErrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for caller branching and transport mapping.
type Code string

const (
	// CodeBadRequest marks malformed or missing caller input.
	CodeBadRequest Code = "bad_request"
	// CodeInvalidInput marks input that parsed but failed domain validation.
	CodeInvalidInput Code = "invalid_input"
	// CodeValidation marks a domain validation failure (bounds, signatures,
	// staleness). Permanent; never retried.
	CodeValidation Code = "validation"
	// CodeUnauthorized marks a caller without a required capability.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden marks a caller that is known but not permitted.
	CodeForbidden Code = "forbidden"
	// CodeNotFound marks a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict marks a uniqueness or state conflict.
	CodeConflict Code = "conflict"
	// CodeInvariantViolation marks a broken internal invariant. These are
	// bugs, not caller mistakes.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeTimeout marks an operation cut off by a deadline. Retryable.
	CodeTimeout Code = "timeout"
	// CodeUnavailable marks a dependency that is temporarily down. Retryable.
	CodeUnavailable Code = "unavailable"
	// CodeInternal marks an unexpected failure. Retryable at the caller's
	// discretion.
	CodeInternal Code = "internal"
)

// Error is the concrete domain error. Use New or Wrap; the type is exported
// for errors.As callers.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a domain error with a code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. The cause stays
// reachable through errors.Is / errors.As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var domainErr *Error
	for errors.As(err, &domainErr) {
		if domainErr.Code == code {
			return true
		}
		if domainErr.cause == nil {
			return false
		}
		err = domainErr.cause
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries none.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}

// Retryable reports whether the error class is worth retrying with backoff.
// Authorization, validation, and not-found failures are permanent.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeTimeout, CodeUnavailable, CodeInternal:
		return true
	}
	return false
}
