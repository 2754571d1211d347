package ollama

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuba6112/ollama-mcp/internal/httpkit"
)

// Kind classifies backend failures. It drives both retry decisions and
// the structured error shape returned to tool callers.
type Kind string

const (
	// KindUnavailable means the backend could not be reached at all:
	// connection refused, unreachable host, or DNS failure. Retried.
	KindUnavailable Kind = "unavailable"

	// KindTimeout means connection establishment or the full request
	// exceeded its deadline. Retried.
	KindTimeout Kind = "timeout"

	// KindAPI means Ollama answered with an error status. 5xx responses
	// are retried; 4xx are not.
	KindAPI Kind = "api_error"

	// KindProtocol means the response could not be decoded: a contract
	// mismatch between this bridge and the backend. Never retried.
	KindProtocol Kind = "protocol_error"
)

// BackendError is the error type for all failed backend exchanges.
type BackendError struct {
	Kind       Kind
	Message    string
	StatusCode int    // non-zero only for KindAPI
	Attempts   int    // total tries made, including the first
	Suggestion string // operator hint, set for KindUnavailable
	Cause      error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	msg := fmt.Sprintf("ollama: %s: %s", e.Kind, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (after %d attempts)", msg, e.Attempts)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *BackendError) Unwrap() error {
	return e.Cause
}

// Is matches BackendErrors by Kind, so callers can write
// errors.Is(err, &BackendError{Kind: KindTimeout}).
func (e *BackendError) Is(target error) bool {
	t, ok := target.(*BackendError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// retryable reports whether the failure is transient: worth another try
// within the attempt budget.
func (e *BackendError) retryable() bool {
	switch e.Kind {
	case KindUnavailable, KindTimeout:
		return true
	case KindAPI:
		return e.StatusCode >= 500
	default:
		return false
	}
}

// classifyTransport maps an error from http.Client.Do to a BackendError.
func classifyTransport(err error, baseURL string) *BackendError {
	switch {
	case httpkit.IsTimeout(err):
		return &BackendError{
			Kind:    KindTimeout,
			Message: "request to Ollama timed out",
			Cause:   err,
		}
	case httpkit.IsConnectionError(err):
		return &BackendError{
			Kind:       KindUnavailable,
			Message:    "cannot connect to Ollama",
			Suggestion: fmt.Sprintf("ensure Ollama is running at %s", baseURL),
			Cause:      err,
		}
	case errors.Is(err, context.Canceled):
		return &BackendError{
			Kind:    KindTimeout,
			Message: "request cancelled",
			Cause:   err,
		}
	default:
		// Unknown transport failure. Treat as unavailable so it gets a
		// retry; a persistent fault will still surface after the budget.
		return &BackendError{
			Kind:       KindUnavailable,
			Message:    "request to Ollama failed",
			Suggestion: fmt.Sprintf("ensure Ollama is running at %s", baseURL),
			Cause:      err,
		}
	}
}

// IsKind reports whether err is a BackendError of the given kind.
func IsKind(err error, kind Kind) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == kind
}
