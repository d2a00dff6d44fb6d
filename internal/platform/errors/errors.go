package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfig     Kind = "config"
	KindDomain     Kind = "domain"
	KindTransport  Kind = "transport"
	KindPlatform   Kind = "platform"
	KindBootstrap  Kind = "bootstrap"
	KindValidation Kind = "validation"
	KindFetch      Kind = "fetch"
	KindAnalysis   Kind = "analysis"
	KindUnknown    Kind = "unknown"
)

// Code is the machine-readable error code surfaced to tool callers.
type Code string

const (
	CodeInvalidURL      Code = "INVALID_URL"
	CodeFetchError      Code = "FETCH_ERROR"
	CodeProcessingError Code = "PROCESSING_ERROR"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap attaches kind and operation to err. An err that already carries a
// typed *Error is returned as is so the innermost classification wins.
func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// IsKind checks whether any error in the chain matches the provided kind.
func IsKind(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first typed error in the chain.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}

// CodeOf maps an error chain onto the caller-facing code taxonomy.
// Anything that is neither a validation nor a fetch failure is a
// processing failure.
func CodeOf(err error) Code {
	switch KindOf(err) {
	case KindValidation:
		return CodeInvalidURL
	case KindFetch:
		return CodeFetchError
	default:
		return CodeProcessingError
	}
}

// Reason returns the innermost human-readable cause of err, used for the
// details.reason field.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		if typed.Cause != nil {
			return typed.Cause.Error()
		}
		return typed.Message
	}
	return err.Error()
}
