// Package engineerr defines the error taxonomy used across the fact engine.
// Each error is a distinct type so callers can discriminate with errors.As,
// matching the ValidationError/ProblemDetail style the rest of the module's
// teacher lineage uses for structured, field-addressable failures.
package engineerr

import (
	"fmt"
	"strings"
)

// InvalidFact is returned when a fact fails structural or hash validation:
// hash mismatch, missing type, or an unreachable predecessor.
type InvalidFact struct {
	Type   string
	Hash   string
	Reason string
}

func (e *InvalidFact) Error() string {
	return fmt.Sprintf("invalid fact %s (%s): %s", e.Type, e.Hash, e.Reason)
}

// Forbidden is returned when authorization rejects one or more facts in a
// save batch. The batch does not partially commit.
type Forbidden struct {
	RejectedCount int
	RejectedTypes []string
}

func (e *Forbidden) Error() string {
	return fmt.Sprintf("forbidden: %d fact(s) rejected across types [%s]",
		e.RejectedCount, strings.Join(e.RejectedTypes, ", "))
}

// NotAuthorizedToRead is returned when no distribution rule matches a
// requested feed. Reasons accumulates a human-readable explanation per
// rule that was tried and failed.
type NotAuthorizedToRead struct {
	FeedDescription string
	Reasons         []string
}

func (e *NotAuthorizedToRead) Error() string {
	return fmt.Sprintf("not authorized to read feed %q: %s",
		e.FeedDescription, strings.Join(e.Reasons, "; "))
}

// StorageError wraps a backend failure. Retryable is left to the caller's
// discretion per spec.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TransportKind distinguishes terminal transport failures from retryable ones.
type TransportKind int

const (
	TransportFailure TransportKind = iota
	TransportRetry
)

// TransportError reports a transport-layer failure, tagged with whether
// the caller should retry.
type TransportError struct {
	Kind TransportKind
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	kind := "failure"
	if e.Kind == TransportRetry {
		kind = "retry"
	}
	return fmt.Sprintf("transport %s during %s: %v", kind, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether this transport error should be retried.
func (e *TransportError) Retryable() bool { return e.Kind == TransportRetry }

// Cancelled is returned when a subscription is stopped before it was able
// to establish its stream.
type Cancelled struct {
	Subscription string
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("subscription %s cancelled before establishment", e.Subscription)
}

// InvalidGraph is returned by the topological sorter when the input
// contains a cycle, or by hydration when a predecessor reference cannot
// be resolved.
type InvalidGraph struct {
	Reason string
}

func (e *InvalidGraph) Error() string {
	return fmt.Sprintf("invalid graph: %s", e.Reason)
}
