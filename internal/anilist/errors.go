package anilist

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated indicates no usable credential was available when a
// remote call needed one. The caller leaves the queue item pending without
// counting an attempt; the auth refresh collaborator is expected to supply
// a token later.
var ErrNotAuthenticated = errors.New("anilist: not authenticated")

// TransportError wraps a network-level failure reaching the API.
// Always retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("anilist: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError indicates the API answered with a 5xx or a transient
// GraphQL-level failure. Retryable.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("anilist: server error (status %d): %s", e.StatusCode, e.Message)
}

// ValidationError indicates the API permanently rejected the payload.
// Terminal: retrying the same payload will never succeed.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("anilist: validation: %s", e.Message)
}

// Class is the retry classification of a remote failure.
type Class int

const (
	// ClassRetryable failures are expected to resolve on a later attempt.
	ClassRetryable Class = iota
	// ClassTerminal failures will never succeed without a payload change.
	ClassTerminal
	// ClassAuth failures are deferred to the auth refresh collaborator;
	// they do not count as an attempt.
	ClassAuth
)

// String returns a human-readable representation of the class.
func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassTerminal:
		return "terminal"
	case ClassAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Classify maps a remote error onto the retry taxonomy. Unrecognized
// errors classify as retryable; the poison threshold bounds the damage of
// misclassifying a terminal failure.
func Classify(err error) Class {
	if errors.Is(err, ErrNotAuthenticated) {
		return ClassAuth
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return ClassTerminal
	}

	return ClassRetryable
}
