package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors. Typed errors below match them through errors.Is.
var (
	// ErrInvalidAddress indicates an address string that could not be parsed.
	ErrInvalidAddress = errors.New("invalid email address format")

	// ErrMissingRecipient indicates a message built without any To recipient.
	ErrMissingRecipient = errors.New("missing recipient")

	// ErrRequiredOptionValueNotSpecified indicates a provider options value failed validation.
	ErrRequiredOptionValueNotSpecified = errors.New("required option value not specified")

	// ErrNilMessage is returned when a nil message reaches a provider.
	ErrNilMessage = errors.New("message is nil")

	// ErrProviderNotConfigured is returned when a provider value was not created by its
	// constructor and therefore never validated its options.
	ErrProviderNotConfigured = errors.New("provider not configured")

	// ErrInvalidEdpData indicates an EdpData entry whose payload has the wrong type for its key.
	ErrInvalidEdpData = errors.New("invalid edp data")
)

// InvalidAddressFormatError is returned when an address cannot be parsed.
type InvalidAddressFormatError struct {
	// Input is the rejected address string.
	Input string

	// Cause is the underlying parse error.
	Cause error
}

// Error implements the error interface.
func (e *InvalidAddressFormatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid email address format %q: %v", e.Input, e.Cause)
	}
	return fmt.Sprintf("invalid email address format %q", e.Input)
}

// Unwrap returns the underlying error.
func (e *InvalidAddressFormatError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is.
func (e *InvalidAddressFormatError) Is(target error) bool {
	return target == ErrInvalidAddress
}

// MissingRecipientError is returned by MessageComposer.Build when no To address was given.
type MissingRecipientError struct{}

// Error implements the error interface.
func (e *MissingRecipientError) Error() string {
	return "you must specify at least one recipient in the To list"
}

// Is implements error matching for errors.Is.
func (e *MissingRecipientError) Is(target error) bool {
	return target == ErrMissingRecipient
}

// RequiredOptionValueNotSpecifiedError identifies the first options field that failed validation.
type RequiredOptionValueNotSpecifiedError struct {
	// Options names the options type, e.g. "smtp.ServerOptions".
	Options string

	// Field is the offending field name.
	Field string

	// Reason describes the violation.
	Reason string
}

// Error implements the error interface.
func (e *RequiredOptionValueNotSpecifiedError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Options, e.Field, e.Reason)
}

// Is implements error matching for errors.Is.
func (e *RequiredOptionValueNotSpecifiedError) Is(target error) bool {
	return target == ErrRequiredOptionValueNotSpecified
}

// NewRequiredOptionError creates a new RequiredOptionValueNotSpecifiedError.
func NewRequiredOptionError(options, field, reason string) *RequiredOptionValueNotSpecifiedError {
	return &RequiredOptionValueNotSpecifiedError{
		Options: options,
		Field:   field,
		Reason:  reason,
	}
}

// ErrorKind classifies a failed send.
type ErrorKind string

const (
	// ErrorKindInvalidMessage means the message could not be projected for the provider.
	ErrorKindInvalidMessage ErrorKind = "invalid_message"

	// ErrorKindRejected means the provider refused the message or a recipient.
	ErrorKindRejected ErrorKind = "rejected"

	// ErrorKindAuthFailed means the provider refused the credentials.
	ErrorKindAuthFailed ErrorKind = "auth_failed"

	// ErrorKindTimeout means the transport call timed out or was canceled.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindTransport covers any other transport failure.
	ErrorKindTransport ErrorKind = "transport"

	// ErrorKindPaused means sending is paused by configuration.
	ErrorKindPaused ErrorKind = "paused"
)

// ErrorInfo describes why a send attempt failed. It is carried by SendResult, never returned.
type ErrorInfo struct {
	// Provider is the name of the provider that produced the failure.
	Provider string

	// Kind classifies the failure.
	Kind ErrorKind

	// Message is a human readable description.
	Message string

	// StatusCode is the HTTP or SMTP status code, when known.
	StatusCode int

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ErrorInfo) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s error [%s] (status: %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s error [%s]: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *ErrorInfo) Unwrap() error {
	return e.Cause
}

// KindForStatus classifies an HTTP status code returned by a provider API.
func KindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorKindAuthFailed
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ErrorKindTimeout
	case code >= 400 && code < 500:
		return ErrorKindRejected
	default:
		return ErrorKindTransport
	}
}

// KindForError classifies an error raised before a provider answered.
func KindForError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}
	return ErrorKindTransport
}
