package errors

import "fmt"

// Transport error codes (11000-11899), the only code ranges this package
// defines.
const (
	// Config errors (11000-11099)
	ErrCodeInvalidTransportConfig ErrorCode = 11000

	// Signaling errors (11100-11199)
	ErrCodeSignalingFailed       ErrorCode = 11100
	ErrCodeSignalingDisconnected ErrorCode = 11101
	ErrCodeSignalingTimeout      ErrorCode = 11102

	// Peer errors (11200-11299)
	ErrCodePeerNotFound     ErrorCode = 11200
	ErrCodePeerAlreadyExists ErrorCode = 11201
	ErrCodePeerCapExceeded  ErrorCode = 11202

	// NAT traversal errors (11300-11399)
	ErrCodeNatTraversalFailed ErrorCode = 11300

	// Codec errors (11400-11499)
	ErrCodeEncodingFailed ErrorCode = 11400
	ErrCodeDecodingFailed ErrorCode = 11401

	// Session errors (11500-11599)
	ErrCodeTransportSessionNotFound ErrorCode = 11500
	ErrCodeSessionAlreadyExists     ErrorCode = 11501

	// Data validation errors (11600-11699)
	ErrCodeInvalidTransportData ErrorCode = 11600

	// Timeout errors (11700-11799)
	ErrCodeOperationTimeout ErrorCode = 11700

	// Circuit breaker errors (11800-11899)
	ErrCodeCircuitOpen ErrorCode = 11800
)

// NewInvalidConfigError creates a configuration validation error.
func NewInvalidConfigError(reason string) *Error {
	return New(ErrCodeInvalidTransportConfig, fmt.Sprintf("invalid transport config: %s", reason))
}

// NewSignalingError wraps a signaling transport failure.
func NewSignalingError(message string, cause error) *Error {
	return Wrap(ErrCodeSignalingFailed, message, cause)
}

// NewSignalingDisconnectedError reports an unexpected signaling disconnect.
func NewSignalingDisconnectedError() *Error {
	return New(ErrCodeSignalingDisconnected, "signaling connection lost")
}

// NewSignalingTimeoutError reports a signaling round-trip that never completed.
func NewSignalingTimeoutError(method string) *Error {
	return New(ErrCodeSignalingTimeout, fmt.Sprintf("signaling request timed out: %s", method))
}

// NewPeerNotFoundError creates a peer-not-found error.
func NewPeerNotFoundError(peerID string) *Error {
	return New(ErrCodePeerNotFound, fmt.Sprintf("peer not found: %s", peerID))
}

// NewPeerAlreadyExistsError creates a duplicate-peer error.
func NewPeerAlreadyExistsError(peerID string) *Error {
	return New(ErrCodePeerAlreadyExists, fmt.Sprintf("peer already connected: %s", peerID))
}

// NewPeerCapExceededError reports that max_peers has been reached.
func NewPeerCapExceededError(maxPeers int) *Error {
	return New(ErrCodePeerCapExceeded, fmt.Sprintf("peer cap exceeded: max %d peers — enable TURN or raise max_peers", maxPeers))
}

// NewNatTraversalFailedError reports ICE connectivity failure with a remediation hint.
func NewNatTraversalFailedError(peerID string, cause error) *Error {
	return Wrap(ErrCodeNatTraversalFailed, fmt.Sprintf("NAT traversal failed for peer %s: configure a TURN relay", peerID), cause)
}

// NewEncodingError wraps a wire-format encode failure.
func NewEncodingError(what string, cause error) *Error {
	return Wrap(ErrCodeEncodingFailed, fmt.Sprintf("failed to encode %s", what), cause)
}

// NewDecodingError wraps a wire-format decode failure.
func NewDecodingError(what string, cause error) *Error {
	return Wrap(ErrCodeDecodingFailed, fmt.Sprintf("failed to decode %s", what), cause)
}

// NewTransportSessionNotFoundError creates a session-not-found error.
func NewTransportSessionNotFoundError(sessionID string) *Error {
	return New(ErrCodeTransportSessionNotFound, fmt.Sprintf("session not found: %s", sessionID))
}

// NewSessionAlreadyExistsError creates a duplicate-session error.
func NewSessionAlreadyExistsError(sessionID string) *Error {
	return New(ErrCodeSessionAlreadyExists, fmt.Sprintf("session already exists: %s", sessionID))
}

// NewInvalidDataError reports malformed inbound data with the reason.
func NewInvalidDataError(reason string) *Error {
	return New(ErrCodeInvalidTransportData, fmt.Sprintf("invalid data: %s", reason))
}

// NewOperationTimeoutError reports an operation that exceeded its deadline.
func NewOperationTimeoutError(op string) *Error {
	return New(ErrCodeOperationTimeout, fmt.Sprintf("operation timed out: %s", op))
}

// NewCircuitOpenError reports that calls are being rejected by an open circuit breaker.
func NewCircuitOpenError(peerID string) *Error {
	return New(ErrCodeCircuitOpen, fmt.Sprintf("circuit breaker open for peer %s", peerID))
}
