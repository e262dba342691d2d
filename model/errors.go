package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// ErrorKind classifies model failures. The retry policy decides which kinds
// are transient.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindRateLimit         ErrorKind = "rate_limit"
	KindTransport         ErrorKind = "transport"
	KindMalformedRequest  ErrorKind = "malformed_request"
	KindAuthentication    ErrorKind = "authentication"
	KindQuotaExhausted    ErrorKind = "quota_exhausted"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindUnknown           ErrorKind = "unknown"
)

// DefaultRetryableKinds are the kinds treated as transient unless configured otherwise.
var DefaultRetryableKinds = []ErrorKind{KindTimeout, KindRateLimit, KindTransport}

// Error is a classified model failure.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	if e.StatusCode != 0 {
		return fmt.Sprintf("model error [%s] (status %d): %s", e.Kind, e.StatusCode, msg)
	}

	return fmt.Sprintf("model error [%s]: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a classified error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Classify returns err as a *Error, inferring the kind for unclassified
// errors. It returns nil for a nil err.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var me *Error
	if errors.As(err, &me) {
		return me
	}

	return &Error{Kind: inferKind(err), Err: err}
}

// KindOf returns the kind of err, or the empty kind for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	return Classify(err).Kind
}

func inferKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindTransport
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return KindTransport
	}

	return KindUnknown
}

// KindForStatus maps an HTTP status code returned by a provider to a kind.
func KindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthentication
	case code == http.StatusPaymentRequired:
		return KindQuotaExhausted
	case code >= 500:
		return KindTransport
	case code >= 400:
		return KindMalformedRequest
	default:
		return KindUnknown
	}
}

// FromStatus builds a classified error for an HTTP failure.
func FromStatus(code int, message string, err error) *Error {
	return &Error{Kind: KindForStatus(code), Message: message, StatusCode: code, Err: err}
}
