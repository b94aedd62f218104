package api

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoToken is returned when a submission cannot proceed because no
// submission token is available even after a config refresh.
var ErrNoToken = errors.New("no submission token available")

// ValidationError reports input rejected before any network call.
type ValidationError struct {
	// Field names the offending input.
	Field string

	// Reason describes the violation.
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// NetworkError reports a transport-level failure: connection refused,
// timeout, DNS. Never retried automatically.
type NetworkError struct {
	// Op is the operation that failed ("fetch config", "submit feedback").
	Op string

	// Err is the underlying transport error.
	Err error
}

func (e *NetworkError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ServerError reports a non-2xx HTTP response with the human-readable
// message extracted from the body.
type ServerError struct {
	// Status is the HTTP status code.
	Status int

	// Message is the server's explanation.
	Message string

	// Code is the optional structured error code from the body.
	Code string

	// Err optionally wraps a sentinel such as ErrNoToken.
	Err error
}

func (e *ServerError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
}

func (e *ServerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RateLimitError reports HTTP 429 with how long the caller should wait.
type RateLimitError struct {
	// RetryAfter is the wait the server asked for.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rate limited: retry in %d seconds", int(e.RetryAfter.Seconds()))
}

// BlockedError reports an HTTP-successful response whose payload marks
// the submission as rejected.
type BlockedError struct {
	// Message is the server's block explanation.
	Message string
}

func (e *BlockedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return "submission blocked"
	}
	return "submission blocked: " + e.Message
}
