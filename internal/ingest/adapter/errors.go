// Package adapter defines the extraction contract of the ingest pipeline:
// the Adapter interface, the error taxonomy adapters raise, priority routing
// across registered adapters, and the rate-limit/retry middleware wrapped
// around every extraction call.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ErrorKind classifies an extraction failure.
type ErrorKind string

const (
	KindTimeout          ErrorKind = "TIMEOUT"
	KindNetworkError     ErrorKind = "NETWORK_ERROR"
	KindRateLimited      ErrorKind = "RATE_LIMITED"
	KindItemNotFound     ErrorKind = "ITEM_NOT_FOUND"
	KindInvalidSchema    ErrorKind = "INVALID_SCHEMA"
	KindParseError       ErrorKind = "PARSE_ERROR"
	KindNoStructuredData ErrorKind = "NO_STRUCTURED_DATA"
	KindAdapterDisabled  ErrorKind = "ADAPTER_DISABLED"
	KindNoAdapterFound   ErrorKind = "NO_ADAPTER_FOUND"
)

// Retryable reports whether the kind is absorbed by the retry loop.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindNetworkError, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error is the failure type raised by adapters. It carries the kind, the
// adapter that raised it, a human message, and a structured metadata bag.
type Error struct {
	Kind    ErrorKind
	Adapter string
	Message string
	Meta    map[string]any
	cause   error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Adapter != "" {
		prefix = fmt.Sprintf("%s [%s]", e.Kind, e.Adapter)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithMeta attaches one metadata key, returning the error for chaining.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// NewError creates an adapter error of the given kind.
func NewError(kind ErrorKind, adapterName, format string, args ...any) *Error {
	return &Error{Kind: kind, Adapter: adapterName, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an adapter error with an underlying cause.
func WrapError(kind ErrorKind, adapterName string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Adapter: adapterName, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf returns the kind of err, or "" for non-adapter errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an adapter error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether err should be retried by the middleware.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

// KindFromStatus maps an HTTP response status onto the taxonomy. All
// adapters share this mapping.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == 404:
		return KindItemNotFound
	case status == 401 || status == 403:
		return KindInvalidSchema
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindNetworkError
	default:
		return KindParseError
	}
}

// ClassifyTransportError maps a transport-level failure (timeout, DNS,
// connection refused) onto TIMEOUT or NETWORK_ERROR.
func ClassifyTransportError(adapterName string, err error) *Error {
	kind := KindNetworkError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), os.IsTimeout(err):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return WrapError(kind, adapterName, err, "request failed")
}
