// Package ttserr defines the TTS engine's error taxonomy (spec.md §7),
// kept in its own leaf package so every component — providers, cache,
// pool, fallback controller, carrier, facade — can construct and inspect
// these errors without an import cycle through the root tts package.
package ttserr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a TTS engine failure, independent of
// which component or provider raised it.
type Kind string

const (
	KindProviderUnavailable  Kind = "provider_unavailable"
	KindRateLimited          Kind = "rate_limited"
	KindTimeout              Kind = "timeout"
	KindInvalidInput         Kind = "invalid_input"
	KindPoolExhausted        Kind = "pool_exhausted"
	KindCacheBackendDown     Kind = "cache_backend_unavailable"
	KindBufferOverflow       Kind = "buffer_overflow"
	KindSessionNotFound      Kind = "session_not_found"
	KindSessionTerminated    Kind = "session_terminated"
	KindCarrierRejected      Kind = "carrier_rejected"
	KindConfigError          Kind = "config_error"
)

// Error wraps an underlying error with a stable Kind so callers across
// package boundaries (facade, fallback controller, dialog stream) can
// branch on failure category without inspecting error strings.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs an *Error carrying kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, walking wrapped errors. Returns ""
// if err does not carry a Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether a failure of this Kind is eligible for
// fallback/retry by the caller (spec.md §4.1: ProviderUnavailable,
// RateLimited and Timeout are retry-eligible; InvalidInput is not).
func Retryable(kind Kind) bool {
	switch kind {
	case KindProviderUnavailable, KindRateLimited, KindTimeout:
		return true
	default:
		return false
	}
}
