// Package errors defines the engine-wide error taxonomy. Every failure that
// crosses a component boundary is classified into one of the kinds below so
// callers can branch on category instead of string matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown Kind = iota

	// KindInvalidInput covers structural errors in caller-supplied data:
	// cyclic graphs, duplicate node ids, unknown dependency targets, empty
	// batches. Never retried, never surfaced from background paths.
	KindInvalidInput

	// KindNotFound covers lookups of unknown workflows, jobs, or providers.
	KindNotFound

	// KindAlreadyTerminal covers mutations of finished workflows or batches.
	KindAlreadyTerminal

	// KindNoProvidersAvailable means the router exhausted every candidate.
	KindNoProvidersAvailable

	// KindCircuitOpen means a breaker rejected the request before the
	// provider was touched. Retriable inside the router's failover loop.
	KindCircuitOpen

	// KindTransient covers network errors, 429s, 5xx responses and
	// timeouts. Retryable; drives breaker failure counting.
	KindTransient

	// KindNonRetryable covers auth and validation failures from providers.
	// Consumes the retry budget immediately.
	KindNonRetryable

	// KindStorageUnavailable means a cache or queue store is unreachable.
	KindStorageUnavailable
)

// String returns the kind name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindAlreadyTerminal:
		return "already_terminal"
	case KindNoProvidersAvailable:
		return "no_providers_available"
	case KindCircuitOpen:
		return "circuit_open"
	case KindTransient:
		return "transient"
	case KindNonRetryable:
		return "non_retryable"
	case KindStorageUnavailable:
		return "storage_unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified engine error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a classified error.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. Returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors report
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the error kind consumes retry budget without
// terminating the job outright.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindCircuitOpen, KindStorageUnavailable, KindUnknown:
		return true
	default:
		return false
	}
}
