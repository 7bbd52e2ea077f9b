// Package xerrors implements the error taxonomy from spec.md §7: every
// error the executor or journal can raise carries a Kind the caller can
// branch on, instead of relying on sentinel values or string matching.
package xerrors

import "fmt"

// Kind classifies an error by how the caller is expected to react.
type Kind string

const (
	// KindTransient is a broker error (WS drop, HTTP 5xx, timeout). Call
	// sites do not retry it; the executor logs it and tries again on its
	// next tick.
	KindTransient Kind = "transient"
	// KindValidation covers bad strategy config, InsufficientMargin,
	// LeverageExceeded, AmountTooSmall.
	KindValidation Kind = "validation"
	// KindReconciliation is a ghost/orphan conflict handled per spec.md
	// §4.8's table; it never aborts startup.
	KindReconciliation Kind = "reconciliation"
	// KindJournalWrite is a persistence failure; the live position is
	// real regardless, so the caller logs and continues.
	KindJournalWrite Kind = "journal_write"
	// KindUnrecoverable is a panic or invariant violation; the supervisor
	// marks the instance's status row as errored and preserves it for
	// operator inspection.
	KindUnrecoverable Kind = "unrecoverable"
)

// Code enumerates the specific validation failures spec.md §4.3 names.
type Code string

const (
	CodeInsufficientMargin Code = "insufficient_margin"
	CodeLeverageExceeded   Code = "leverage_exceeded"
	CodeAmountTooSmall     Code = "amount_too_small"
	CodeAlreadyRunning     Code = "already_running"
	CodeNotRunning         Code = "not_running"
	CodeNotConnected       Code = "not_connected"
	CodeUnknownStrategy    Code = "unknown_strategy"
	CodeValidationFailure  Code = "validation_failure"
)

// Error is the structured error object surfaced to callers per spec.md §7.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a structured error with no details.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds a structured error around an underlying cause.
func Wrap(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// WithDetails attaches contextual details (e.g. required vs available
// margin) and returns the same error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var xe *Error
	for err != nil {
		if x, ok := err.(*Error); ok {
			xe = x
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return xe != nil && xe.Kind == kind
}
