// Package callerr defines the typed error taxonomy shared by the
// requestor and task/session layers, so callers can branch on error
// class with errors.As/errors.Is instead of string matching.
package callerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrSessionTerminated indicates the call ended and the session is
	// unwinding; tasks and hooks should stop retrying on receipt.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrQueueOverflow indicates a WsRequestor's outbound queue exceeded
	// its configured high-water mark while disconnected.
	ErrQueueOverflow = errors.New("requestor queue overflow")

	// ErrClosedGracefully indicates a request was silently discarded
	// because the requestor already closed gracefully (code 1000).
	ErrClosedGracefully = errors.New("requestor closed gracefully")

	// ErrMaliciousClient indicates the peer sent a binary frame or a
	// frame that failed to parse, and the connection was torn down.
	ErrMaliciousClient = errors.New("malicious client frame")

	// ErrPreconditionFailed is wrapped by PreconditionError; exposed so
	// callers can errors.Is a concrete precondition failure generically.
	ErrPreconditionFailed = errors.New("task precondition not met")
)

// TransportError wraps a TCP/TLS/DNS/connect-level failure. Retryable
// with the "ct" retry-policy token.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// HTTPStatusError is returned for any non-2xx HTTP response. Retryable
// with the matching "4xx"/"5xx" retry-policy token.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// Class returns "4xx" or "5xx" for retry-policy matching, or "" otherwise.
func (e *HTTPStatusError) Class() string {
	switch {
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return "4xx"
	case e.StatusCode >= 500 && e.StatusCode < 600:
		return "5xx"
	default:
		return ""
	}
}

// ResponseTimeoutError indicates a WebSocket ack was not received within
// RESPONSE_TIMEOUT_MS. Retryable with the "rt" retry-policy token.
type ResponseTimeoutError struct {
	MsgID string
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("response timeout waiting for ack of msgid %s", e.MsgID)
}

// HandshakeError indicates the WebSocket upgrade was rejected. Retryable
// with the "ct" retry-policy token.
type HandshakeError struct {
	StatusCode int
	Cause      error
}

func (e *HandshakeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ws handshake rejected: status %d", e.StatusCode)
	}
	return fmt.Sprintf("ws handshake failed: %v", e.Cause)
}

func (e *HandshakeError) Unwrap() error { return e.Cause }

// ProtocolError indicates a malformed inbound frame, or a binary frame
// received on a text-only WS channel. Not retried; marks the peer
// malicious.
type ProtocolError struct {
	Reason string
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// PreconditionError indicates a task could not run because the session
// does not yet satisfy its declared precondition. Terminal for the task;
// the session skips it and advances.
type PreconditionError struct {
	Task         string
	Precondition string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("task %s: precondition %s not satisfied", e.Task, e.Precondition)
}

func (e *PreconditionError) Unwrap() error { return ErrPreconditionFailed }

// TaskError is a verb-specific failure. The task records it and reports
// it via its action hook; it does not re-raise past exec unless the verb
// documents otherwise (e.g. dial with no alternates).
type TaskError struct {
	Verb  string
	Cause error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Verb, e.Cause)
}

func (e *TaskError) Unwrap() error { return e.Cause }

// SessionTerminatedError records why a CallSession unwound: a signalling
// hangup, a command:hangup, or a fatal task error.
type SessionTerminatedError struct {
	Reason string
}

func (e *SessionTerminatedError) Error() string {
	return fmt.Sprintf("session terminated: %s", e.Reason)
}

func (e *SessionTerminatedError) Unwrap() error { return ErrSessionTerminated }
