// Package errs defines the error-kind taxonomy every component reports
// through. Call sites wrap an underlying cause with the matching
// constructor; callers upstream use errors.As to recover the kind and decide
// on propagation (4xx/5xx, retry, backoff) per the policy documented on each
// type.
package errs

import "fmt"

// ValidationError: record fails template check, bad parameter, unknown enum.
// Surfaced as 4xx. Never retried.
type ValidationError struct {
	Msg   string
	Cause error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation: %s: %v", e.Msg, e.Cause)
	}
	return "validation: " + e.Msg
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func Validation(msg string, cause error) error { return &ValidationError{Msg: msg, Cause: cause} }

// NotFound: DID unresolved, job expired. 404. Not an error for chained
// callers; sync treats "record not yet indexed" as NotFound and retries.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return "not found: " + e.What }

func NotFound(what string) error { return &NotFoundError{What: what} }

// UpstreamUnavailable: blockchain gateway, peer, or external callout refused
// or timed out. 5xx to the caller; in sync loops, backoff-and-retry without
// advancing durable progress.
type UpstreamUnavailableError struct {
	Upstream string
	Cause    error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable (%s): %v", e.Upstream, e.Cause)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Cause }

func UpstreamUnavailable(upstream string, cause error) error {
	return &UpstreamUnavailableError{Upstream: upstream, Cause: cause}
}

// StoreError: index store write/read failed. 5xx; sync loops halt and
// surface.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store error during %s: %v", e.Op, e.Cause) }

func (e *StoreError) Unwrap() error { return e.Cause }

func Store(op string, cause error) error { return &StoreError{Op: op, Cause: cause} }

// OwnershipDenied: caller's key does not match owner_public_key. From Query
// this must never be returned as an error — the record is simply omitted.
// It is only surfaced (403) on explicit update/delete paths.
type OwnershipDeniedError struct {
	Did string
}

func (e *OwnershipDeniedError) Error() string { return "ownership denied for " + e.Did }

func OwnershipDenied(did string) error { return &OwnershipDeniedError{Did: did} }

// Conflict: peer-graph update with a stale version. 409; caller may retry
// with a fresh read.
type ConflictError struct {
	Did string
	Msg string
}

func (e *ConflictError) Error() string { return fmt.Sprintf("conflict on %s: %s", e.Did, e.Msg) }

func Conflict(did, msg string) error { return &ConflictError{Did: did, Msg: msg} }

// CapacityExceeded: job tracker full, or resolver depth exhausted. 503 for
// jobs; Query returns unresolved DID strings without error (never reaches
// the caller as this type from that path).
type CapacityExceededError struct {
	Resource string
}

func (e *CapacityExceededError) Error() string { return "capacity exceeded: " + e.Resource }

func CapacityExceeded(resource string) error { return &CapacityExceededError{Resource: resource} }
