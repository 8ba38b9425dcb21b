// Package errors defines unified error types for bridge operations.
// Every failure surfaced to an HTTP client is mapped to one of these kinds.
package errors

import (
	"fmt"
	"net/http"
)

// BridgeError represents a standardized error raised while relaying a
// request through the browser peer. It carries everything needed for error
// handling, logging, and the client-facing response body.
type BridgeError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Kind       string `json:"kind"`
	Model      string `json:"model"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	return fmt.Sprintf("[%s] %s (model=%s, code=%d)",
		e.Kind, e.Message, e.Model, e.StatusCode)
}

// WithModel stamps the model name onto the error and returns it.
func (e *BridgeError) WithModel(model string) *BridgeError {
	e.Model = model
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *BridgeError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Error kinds as constants for consistency.
const (
	KindAuthInvalid          = "auth_invalid"
	KindBadRequest           = "bad_request"
	KindSessionUnresolved    = "session_unresolved"
	KindPeerDisconnected     = "peer_disconnected"
	KindPeerTimeout          = "peer_timeout"
	KindAttachmentTooLarge   = "attachment_too_large"
	KindAttachmentProcessing = "attachment_processing"
	KindUpstream             = "upstream_error"
	KindCaptchaPending       = "captcha_pending"
	KindInternal             = "internal"
)

// NewAuthInvalidError creates an authentication error (401).
func NewAuthInvalidError(message string) *BridgeError {
	return &BridgeError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Kind:       KindAuthInvalid,
		Retryable:  false,
	}
}

// NewBadRequestError creates an invalid request error (400).
func NewBadRequestError(message string) *BridgeError {
	return &BridgeError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Kind:       KindBadRequest,
		Retryable:  false,
	}
}

// NewSessionUnresolvedError creates an error for a model without a usable
// session mapping (400).
func NewSessionUnresolvedError(message string) *BridgeError {
	return &BridgeError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Kind:       KindSessionUnresolved,
		Retryable:  false,
	}
}

// NewPeerDisconnectedError creates a peer-unavailable error (503).
func NewPeerDisconnectedError(message string) *BridgeError {
	return &BridgeError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Kind:       KindPeerDisconnected,
		Retryable:  true,
	}
}

// NewPeerTimeoutError creates an error for a pending request that expired
// while waiting for the peer to reconnect (503).
func NewPeerTimeoutError(message string) *BridgeError {
	return &BridgeError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Kind:       KindPeerTimeout,
		Retryable:  true,
	}
}

// NewAttachmentTooLargeError creates an attachment size error (413).
func NewAttachmentTooLargeError(message string) *BridgeError {
	return &BridgeError{
		StatusCode: http.StatusRequestEntityTooLarge,
		Message:    message,
		Kind:       KindAttachmentTooLarge,
		Retryable:  false,
	}
}

// NewAttachmentProcessingError creates an attachment pre-processing error (500).
func NewAttachmentProcessingError(message string) *BridgeError {
	return &BridgeError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Kind:       KindAttachmentProcessing,
		Retryable:  false,
	}
}

// NewUpstreamError creates an error relayed from the upstream model (500).
func NewUpstreamError(message string) *BridgeError {
	return &BridgeError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Kind:       KindUpstream,
		Retryable:  true,
	}
}

// NewCaptchaPendingError creates an error for an in-progress human
// verification on the upstream page (503).
func NewCaptchaPendingError(message string) *BridgeError {
	return &BridgeError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Kind:       KindCaptchaPending,
		Retryable:  true,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(message string) *BridgeError {
	return &BridgeError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Kind:       KindInternal,
		Retryable:  false,
	}
}
