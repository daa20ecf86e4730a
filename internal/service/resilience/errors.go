package resilience

import (
	"errors"
	"fmt"
)

// Kind partitions call failures by how callers should react.
type Kind int

const (
	// KindTransient marks a failure worth retrying (network hiccup, 5xx).
	KindTransient Kind = iota
	// KindPermanent marks a contract violation; never retried.
	KindPermanent
	// KindRateLimited marks local backpressure; retry later.
	KindRateLimited
	// KindCircuitOpen marks a fast-fail while the breaker is open.
	KindCircuitOpen
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindRateLimited:
		return "rate_limited"
	case KindCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error is a classified call failure for one service operation.
type Error struct {
	Kind    Kind
	Service string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Service, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Service, e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(service, op string, err error) error {
	return &Error{Kind: KindTransient, Service: service, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(service, op string, err error) error {
	return &Error{Kind: KindPermanent, Service: service, Op: op, Err: err}
}

func rateLimited(service, op string) error {
	return &Error{Kind: KindRateLimited, Service: service, Op: op}
}

func circuitOpen(service, op string) error {
	return &Error{Kind: KindCircuitOpen, Service: service, Op: op}
}

// KindOf classifies err; unclassified errors count as transient so that a
// plain error from a collaborator client still gets retry protection.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransient
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
