package emailnet

import (
	"context"
)

// Public interfaces for the emailnet library
type (
	// Sender dispatches messages to email delivery providers.
	// All methods are safe for concurrent use.
	Sender interface {
		// Send sends msg through the default provider. Delivery failures are
		// reported in the SendResult; the error covers selection and programmer errors.
		Send(ctx context.Context, msg *Message) (*SendResult, error)

		// SendVia sends msg through the named provider.
		SendVia(ctx context.Context, name string, msg *Message) (*SendResult, error)

		// SendMultiple sends every message through the default provider and
		// returns one result per message, in input order.
		SendMultiple(ctx context.Context, msgs []*Message) ([]*SendResult, error)

		// SendMultipleVia sends every message through the named provider.
		SendMultipleVia(ctx context.Context, name string, msgs []*Message) ([]*SendResult, error)

		// Close closes the sender and releases any resources.
		// After calling Close, the sender should not be used.
		Close() error
	}

	// TemplateEngine defines the interface for template rendering.
	TemplateEngine interface {
		// Render renders a template with the provided data.
		Render(templateName string, data any) (string, error)

		// RegisterTemplate registers a template with the given name and content.
		// Names ending in ".html" are parsed as HTML templates.
		RegisterTemplate(name string, content string) error

		// LoadTemplatesFromDir loads all templates from the specified directory.
		// Templates should follow the naming convention: <name>.<type>.<ext>
		// where type is 'subject', 'html', or 'text'.
		LoadTemplatesFromDir(dir string) error
	}
)

var _ Sender = (*Client)(nil)
