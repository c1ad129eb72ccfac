package swetrack

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an API failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindNotFound
	KindRateLimit
	KindTransient
	KindProtocol
)

// String returns the lower-case kind name used in logs and the cycle log.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindRateLimit:
		return "rate_limit"
	case KindTransient:
		return "transient"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Retriable reports whether the next scheduled poll may succeed without
// operator action. Only KindAuth is persistent.
func (k Kind) Retriable() bool {
	return k != KindAuth
}

// Sentinels matched by errors.Is against any *Error of that kind.
var (
	ErrAuth      = errors.New("swetrack: authentication failed")
	ErrNotFound  = errors.New("swetrack: not found")
	ErrRateLimit = errors.New("swetrack: rate limited")
	ErrTransient = errors.New("swetrack: transient failure")
	ErrProtocol  = errors.New("swetrack: protocol error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindAuth:
		return ErrAuth
	case KindNotFound:
		return ErrNotFound
	case KindRateLimit:
		return ErrRateLimit
	case KindTransient:
		return ErrTransient
	case KindProtocol:
		return ErrProtocol
	default:
		return nil
	}
}

// Error is returned by every failed API call.
type Error struct {
	Kind     Kind
	Endpoint Endpoint

	// Status is the HTTP status, or 0 when no response was received.
	Status int

	// Message is the upstream error text when the body carried one.
	Message string

	// Err is the underlying transport or decode error, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("swetrack %s: %s", e.Endpoint, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// kindForStatus maps a non-2xx HTTP status onto a Kind.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= http.StatusInternalServerError:
		return KindTransient
	default:
		return KindProtocol
	}
}
