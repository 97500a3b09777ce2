// Package herrors provides the structured error taxonomy used across the
// server engine.
package herrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Type classifies the kind of failure that occurred.
type Type string

const (
	// TypeInvalidRequest covers malformed input the client sent: bad
	// request lines, oversized headers, illegal chunk encoding.
	TypeInvalidRequest Type = "invalid_request"
	// TypeRejectedOverload covers requests refused because a configured
	// limit (concurrent exchanges, streams, connections) was hit.
	TypeRejectedOverload Type = "rejected_overload"
	// TypeClientDisconnected covers a peer closing or resetting the
	// connection mid-exchange.
	TypeClientDisconnected Type = "client_disconnected"
	// TypeTimedOut covers idle, read, write or header timeouts.
	TypeTimedOut Type = "timed_out"
	// TypeTLSFailure covers handshake and cipher negotiation failures.
	TypeTLSFailure Type = "tls_failure"
	// TypeInternal covers bugs and unexpected conditions inside the
	// engine itself.
	TypeInternal Type = "internal"
	// TypeRedirectRequired covers a request that the connection manager
	// wants to redirect rather than serve (e.g. absolute-form target
	// pointing elsewhere).
	TypeRedirectRequired Type = "redirect_required"

	// The remaining kinds cover lower-level transport failures; they
	// remain useful for the connection manager's outbound
	// dial-health-check path and for classifying causes that get wrapped into one of the
	// kinds above.
	TypeDNS        Type = "dns"
	TypeConnection Type = "connection"
	TypeProtocol   Type = "protocol"
	TypeIO         Type = "io"
	TypeValidation Type = "validation"
)

// Error is a structured error carrying enough context to decide HTTP
// status codes and stats bucketing without string matching.
type Error struct {
	Type      Type
	Op        string
	Message   string
	Cause     error
	Addr      string
	Status    int // HTTP status to report to the peer, 0 if not applicable
	Target    string // redirect target, only set for TypeRedirectRequired
	Timestamp time.Time
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Type))
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Addr != "" {
		parts = append(parts, e.Addr)
	}
	s := strings.Join(parts, " ")
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

func newErr(typ Type, op, msg string, cause error) *Error {
	return &Error{Type: typ, Op: op, Message: msg, Cause: cause, Timestamp: time.Now()}
}

// InvalidRequest reports a malformed request that should close the
// exchange with the given status code (e.g. 400, 414, 431).
func InvalidRequest(status int, op, msg string) *Error {
	e := newErr(TypeInvalidRequest, op, msg, nil)
	e.Status = status
	return e
}

// RejectedOverload reports a request refused for capacity reasons,
// always a 503.
func RejectedOverload(op, msg string) *Error {
	e := newErr(TypeRejectedOverload, op, msg, nil)
	e.Status = 503
	return e
}

// ClientDisconnected reports the peer going away mid-exchange.
func ClientDisconnected(op string, cause error) *Error {
	return newErr(TypeClientDisconnected, op, "client disconnected", cause)
}

// TimedOut reports an idle/read/write/header timeout. status is 408 for
// request-line/header timeouts and 504 for upstream-style timeouts.
func TimedOut(status int, op string, d time.Duration) *Error {
	e := newErr(TypeTimedOut, op, fmt.Sprintf("timed out after %v", d), nil)
	e.Status = status
	return e
}

// TLSFailure reports a handshake or cipher negotiation failure.
func TLSFailure(op string, cause error) *Error {
	return newErr(TypeTLSFailure, op, "tls failure", cause)
}

// Internal reports a bug or unexpected condition.
func Internal(op, msg string, cause error) *Error {
	e := newErr(TypeInternal, op, msg, cause)
	e.Status = 500
	return e
}

// RedirectRequired reports a request the connection manager should
// redirect rather than dispatch to a handler.
func RedirectRequired(target string) *Error {
	e := newErr(TypeRedirectRequired, "route", "redirect required", nil)
	e.Status = 301
	e.Target = target
	return e
}

func NewDNSError(host string, cause error) *Error {
	e := newErr(TypeDNS, "lookup", fmt.Sprintf("dns lookup failed for %s", host), cause)
	e.Addr = host
	return e
}

func NewConnectionError(addr string, cause error) *Error {
	e := newErr(TypeConnection, "dial", fmt.Sprintf("failed to connect to %s", addr), cause)
	e.Addr = addr
	return e
}

// IsTimeout reports whether err is a timeout by any of our own, net's,
// or context's conventions.
func IsTimeout(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == TypeTimedOut
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// StatusOf returns the HTTP status carried by a structured error, or 0
// if err isn't one of ours or carries no status.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// TypeOf returns the Type carried by err, or "" if err isn't structured.
func TypeOf(err error) Type {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

func IsContextCanceled(err error) bool { return errors.Is(err, context.Canceled) }
