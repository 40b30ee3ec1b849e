package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies provider failures into the categories that drive pool
// transitions and retry decisions.
type ErrorKind string

const (
	// KindUnauthenticated indicates the API key is invalid or expired.
	KindUnauthenticated ErrorKind = "unauthenticated"

	// KindPermissionDenied indicates the key lacks access to the model.
	KindPermissionDenied ErrorKind = "permission_denied"

	// KindInvalidArgument indicates the request itself is malformed and
	// retrying with another key will not succeed.
	KindInvalidArgument ErrorKind = "invalid_argument"

	// KindQuotaExhausted indicates the key has hit its quota and needs an
	// extended cooling period.
	KindQuotaExhausted ErrorKind = "quota_exhausted"

	// KindUnavailable indicates a transient upstream failure (5xx, network
	// errors, timeouts) where a retry may succeed.
	KindUnavailable ErrorKind = "unavailable"

	// KindUnknown indicates an unclassified provider failure.
	KindUnknown ErrorKind = "unknown"
)

// Permanent reports whether the kind unconditionally retires a key.
func (k ErrorKind) Permanent() bool {
	switch k {
	case KindUnauthenticated, KindPermissionDenied, KindInvalidArgument:
		return true
	}
	return false
}

// ProviderError describes a failure returned by the upstream provider. It
// crosses package boundaries so the pool and dispatcher can react to stable,
// structured information rather than string matching.
type ProviderError struct {
	kind    ErrorKind
	http    int
	status  string
	message string
	cause   error
}

// NewProviderError constructs a ProviderError. kind is required; status is
// the upstream status token (e.g. "RESOURCE_EXHAUSTED") when known.
func NewProviderError(kind ErrorKind, httpStatus int, status, message string, cause error) *ProviderError {
	if kind == "" {
		kind = KindUnknown
	}
	return &ProviderError{
		kind:    kind,
		http:    httpStatus,
		status:  status,
		message: message,
		cause:   cause,
	}
}

// Kind returns the coarse-grained classification.
func (e *ProviderError) Kind() ErrorKind { return e.kind }

// HTTPStatus returns the upstream HTTP status code when available, else 0.
func (e *ProviderError) HTTPStatus() int { return e.http }

// Status returns the upstream status token when available.
func (e *ProviderError) Status() string { return e.status }

// Retryable reports whether trying another key may succeed.
func (e *ProviderError) Retryable() bool { return !e.kind.Permanent() }

func (e *ProviderError) Error() string {
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	if e.http > 0 {
		return fmt.Sprintf("gemini %s (%d): %s", e.kind, e.http, msg)
	}
	return fmt.Sprintf("gemini %s: %s", e.kind, msg)
}

// Unwrap preserves the original error chain.
func (e *ProviderError) Unwrap() error { return e.cause }

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the classification of err, unwrapping ProviderError and
// falling back to transport classification for plain errors.
func KindOf(err error) ErrorKind {
	if pe, ok := AsProviderError(err); ok {
		return pe.Kind()
	}
	if err == nil {
		return KindUnknown
	}
	return classifyTransport(err).Kind()
}

// classifyStatus maps an upstream HTTP status and status token to an
// ErrorKind.
func classifyStatus(httpStatus int, status string) ErrorKind {
	switch status {
	case "UNAUTHENTICATED":
		return KindUnauthenticated
	case "PERMISSION_DENIED":
		return KindPermissionDenied
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		return KindInvalidArgument
	case "RESOURCE_EXHAUSTED":
		return KindQuotaExhausted
	case "UNAVAILABLE", "DEADLINE_EXCEEDED", "INTERNAL":
		return KindUnavailable
	}
	switch httpStatus {
	case 400:
		return KindInvalidArgument
	case 401:
		return KindUnauthenticated
	case 403:
		return KindPermissionDenied
	case 429:
		return KindQuotaExhausted
	}
	if httpStatus >= 500 {
		return KindUnavailable
	}
	return KindUnknown
}

// classifyTransport wraps network-level failures (dial errors, timeouts,
// context deadlines) as retryable unavailable errors.
func classifyTransport(err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewProviderError(KindUnavailable, 0, "", "request timed out", err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return NewProviderError(KindUnavailable, 0, "", "network error", err)
	}
	return NewProviderError(KindUnknown, 0, "", "", err)
}
