// Package errors defines the stable error codes and error types used
// across the bridge. Every failure surfaced to a caller carries a code so
// the outer layer can render it without string matching.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// SpawnFailed indicates a backend process could not be started
	SpawnFailed ErrorCode = "SPAWN_FAILED"
	// BackendUnavailable indicates a backend is not running or its pipe closed
	BackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	// ProtocolError indicates a malformed frame or unparseable message
	ProtocolError ErrorCode = "PROTOCOL_ERROR"
	// Timeout indicates a request or handshake timed out
	Timeout ErrorCode = "TIMEOUT"
	// CapabilityMissing indicates the backend does not support the operation
	CapabilityMissing ErrorCode = "CAPABILITY_MISSING"
	// RequestFailed indicates the backend returned an error payload
	RequestFailed ErrorCode = "REQUEST_FAILED"
	// NoBackend indicates no configured backend claims the file
	NoBackend ErrorCode = "NO_BACKEND"
	// AmbiguousSymbol indicates a rename matched more than one symbol
	AmbiguousSymbol ErrorCode = "AMBIGUOUS_SYMBOL"
	// SymbolNotFound indicates the named symbol does not exist in the document
	SymbolNotFound ErrorCode = "SYMBOL_NOT_FOUND"
	// EditFailed indicates workspace edit application failed
	EditFailed ErrorCode = "EDIT_FAILED"
	// InternalError indicates an unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// BridgeError represents a bridge error with a stable code and context
type BridgeError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new BridgeError
func New(code ErrorCode, message string, cause error) *BridgeError {
	return &BridgeError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Newf creates a new BridgeError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *BridgeError {
	return &BridgeError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface
func (e *BridgeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *BridgeError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *BridgeError) WithDetails(details interface{}) *BridgeError {
	e.Details = details
	return e
}

// AsBridge reports whether err is (or wraps) a BridgeError, assigning
// it to target on success.
func AsBridge(err error, target **BridgeError) bool {
	return errors.As(err, target)
}

// CodeOf returns the ErrorCode carried by err, or InternalError if err is
// not a BridgeError.
func CodeOf(err error) ErrorCode {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Code
	}
	return InternalError
}

// IsTimeout reports whether err carries the Timeout code
func IsTimeout(err error) bool {
	return CodeOf(err) == Timeout
}

// IsCapability reports whether err carries the CapabilityMissing code
func IsCapability(err error) bool {
	return CodeOf(err) == CapabilityMissing
}

// CandidateFailure records why one routed backend could not satisfy an
// operation. Collected across the fallback chain.
type CandidateFailure struct {
	Backend string `json:"backend"`
	Root    string `json:"root,omitempty"`
	Reason  string `json:"reason"`
}

// AggregateError is returned when every routed backend failed an
// operation. It preserves the per-candidate failure order.
type AggregateError struct {
	Operation string             `json:"operation"`
	Failures  []CandidateFailure `json:"failures"`
}

// NewAggregate creates an AggregateError for an operation
func NewAggregate(operation string, failures []CandidateFailure) *AggregateError {
	return &AggregateError{Operation: operation, Failures: failures}
}

// AsAggregate reports whether err is (or wraps) an AggregateError,
// assigning it to target on success.
func AsAggregate(err error, target **AggregateError) bool {
	return errors.As(err, target)
}

// Error implements the error interface
func (e *AggregateError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "all backends failed for %s:", e.Operation)
	for _, f := range e.Failures {
		sb.WriteString(" [")
		sb.WriteString(f.Backend)
		if f.Root != "" {
			sb.WriteString(" @ ")
			sb.WriteString(f.Root)
		}
		sb.WriteString(": ")
		sb.WriteString(f.Reason)
		sb.WriteString("]")
	}
	return sb.String()
}
