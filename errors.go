package emailnet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lattiq/emailnet/internal/core"
)

// Predefined sentinel errors for common cases.
var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("client closed")

	// ErrProviderNotFound indicates a send named a provider that is not registered.
	ErrProviderNotFound = errors.New("email delivery provider not found")

	// ErrProviderExists indicates a provider with the same name is already registered.
	ErrProviderExists = errors.New("email delivery provider already registered")

	// ErrNoProviders indicates a send on a client with no registered provider.
	ErrNoProviders = errors.New("no email delivery provider registered")

	// ErrAmbiguousProvider indicates no provider was named, no default is
	// configured and more than one provider is registered.
	ErrAmbiguousProvider = errors.New("ambiguous email delivery provider")

	// ErrMissingSender indicates a message without a sender and no default sender configured.
	ErrMissingSender = errors.New("message has no sender and no default sender is configured")

	// ErrTemplateNotFound indicates a requested template was not found.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrTemplatesDisabled indicates a template operation on a client built without templates.
	ErrTemplatesDisabled = errors.New("template engine not enabled")

	// ErrInvalidConfiguration indicates invalid client configuration.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// Errors raised by the message model and the provider contract.
var (
	ErrInvalidAddress                  = core.ErrInvalidAddress
	ErrMissingRecipient                = core.ErrMissingRecipient
	ErrRequiredOptionValueNotSpecified = core.ErrRequiredOptionValueNotSpecified
	ErrNilMessage                      = core.ErrNilMessage
	ErrProviderNotConfigured           = core.ErrProviderNotConfigured
	ErrInvalidEdpData                  = core.ErrInvalidEdpData
)

// AmbiguousProviderError is returned when the provider for a send cannot be
// determined.
type AmbiguousProviderError struct {
	// Providers lists the registered provider names.
	Providers []string
}

// Error implements the error interface.
func (e *AmbiguousProviderError) Error() string {
	return fmt.Sprintf("%s: no default provider configured and %d registered (%s)",
		ErrAmbiguousProvider.Error(), len(e.Providers), strings.Join(e.Providers, ", "))
}

// Is reports whether target is ErrAmbiguousProvider.
func (e *AmbiguousProviderError) Is(target error) bool {
	return target == ErrAmbiguousProvider
}

// ValidationError represents an invalid client configuration value.
type ValidationError struct {
	// Field is the configuration field that failed validation.
	Field string

	// Message describes the failure.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrInvalidConfiguration.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// TemplateError represents an error in template processing.
type TemplateError struct {
	// Template is the name of the template that caused the error.
	Template string

	// Operation is the operation that failed (e.g., "parse", "render").
	Operation string

	// Message is the error message.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error in %s during %s: %s", e.Template, e.Operation, e.Message)
}

// Unwrap returns the underlying error.
func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// NewTemplateError creates a new template error.
func NewTemplateError(template, operation, message string, cause error) *TemplateError {
	return &TemplateError{
		Template:  template,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}
