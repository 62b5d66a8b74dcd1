package venue

import (
	"errors"
	"fmt"
)

// Kind classifies a venue error for the retry policy and circuit breaker.
type Kind int

const (
	// KindTransport: timeouts, connection failures, 5xx. Retried with
	// backoff; counts toward the circuit breaker.
	KindTransport Kind = iota
	// KindAuth: 401/403. Never retried; surfaced to the operator.
	KindAuth
	// KindSchema: unexpected response shape. Record dropped, one failure.
	KindSchema
	// KindBusiness: unknown symbol, insufficient funds, nonce-out-of-window.
	// Audited; not retried (nonce errors resync once).
	KindBusiness
	// KindRateLimit: 429. Client sleeps with backoff before surfacing.
	KindRateLimit
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindSchema:
		return "schema"
	case KindBusiness:
		return "business"
	case KindRateLimit:
		return "rate_limit"
	}
	return "unknown"
}

// Error wraps a venue failure with its kind and originating venue.
type Error struct {
	Venue string
	Kind  Kind
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Venue, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a classified venue error.
func Wrap(venueName, op string, kind Kind, err error) *Error {
	return &Error{Venue: venueName, Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to transport.
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindTransport
}

// Retryable reports whether the error should be retried by the transport.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindRateLimit:
		return true
	}
	return false
}

// CountsAsFailure reports whether the error feeds the circuit breaker.
// Auth errors halt order placement through their own path instead.
func CountsAsFailure(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindSchema, KindRateLimit:
		return true
	}
	return false
}
