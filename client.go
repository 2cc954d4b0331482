package emailnet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lattiq/emailnet/internal/core"
	"github.com/lattiq/emailnet/internal/logging"
	"github.com/lattiq/emailnet/internal/providers/mailgun"
	"github.com/lattiq/emailnet/internal/providers/resend"
	"github.com/lattiq/emailnet/internal/providers/sendgrid"
	"github.com/lattiq/emailnet/internal/providers/ses"
	"github.com/lattiq/emailnet/internal/providers/smtp"
	"github.com/lattiq/emailnet/internal/providers/socketlabs"
)

// Type aliases to re-export core types for the public API.
// This allows users to access types like emailnet.Message instead of core.Message,
// maintaining a clean public interface while keeping implementation details internal.
type (
	Provider                             = core.Provider
	Message                              = core.Message
	MessageComposer                      = core.MessageComposer
	MessageBody                          = core.MessageBody
	Address                              = core.Address
	Attachment                           = core.Attachment
	AttachmentOption                     = core.AttachmentOption
	FilePathAttachment                   = core.FilePathAttachment
	Base64Attachment                     = core.Base64Attachment
	BytesAttachment                      = core.BytesAttachment
	Priority                             = core.Priority
	EdpData                              = core.EdpData
	EdpDataKey                           = core.EdpDataKey
	SendResult                           = core.SendResult
	ErrorInfo                            = core.ErrorInfo
	ErrorKind                            = core.ErrorKind
	OptionsValidator                     = core.OptionsValidator
	EmailServiceOptions                  = core.EmailServiceOptions
	InvalidAddressFormatError            = core.InvalidAddressFormatError
	MissingRecipientError                = core.MissingRecipientError
	RequiredOptionValueNotSpecifiedError = core.RequiredOptionValueNotSpecifiedError
)

// Provider options, re-exported for registration.
type (
	SMTPOptions       = smtp.Options
	SMTPServerOptions = smtp.ServerOptions
	SendGridOptions   = sendgrid.Options
	MailgunOptions    = mailgun.Options
	SESOptions        = ses.Options
	ResendOptions     = resend.Options
	SocketLabsOptions = socketlabs.Options
)

// Priority constants
const (
	PriorityNormal = core.PriorityNormal
	PriorityLow    = core.PriorityLow
	PriorityHigh   = core.PriorityHigh
)

// Error kinds carried by a failed SendResult.
const (
	ErrorKindInvalidMessage = core.ErrorKindInvalidMessage
	ErrorKindRejected       = core.ErrorKindRejected
	ErrorKindAuthFailed     = core.ErrorKindAuthFailed
	ErrorKindTimeout        = core.ErrorKindTimeout
	ErrorKindTransport      = core.ErrorKindTransport
	ErrorKindPaused         = core.ErrorKindPaused
)

// SMTP delivery methods.
const (
	SMTPDeliveryNetwork         = smtp.DeliveryNetwork
	SMTPDeliveryPickupDirectory = smtp.DeliveryPickupDirectory
)

// EdpData keys understood by the built-in providers.
const (
	EdpDataSMTPServerOptions   = smtp.EdpDataServerOptions
	EdpDataSendGridAPIKey      = sendgrid.EdpDataAPIKey
	EdpDataSendGridCategories  = sendgrid.EdpDataCategories
	EdpDataSendGridTemplateID  = sendgrid.EdpDataTemplateID
	EdpDataMailgunTags         = mailgun.EdpDataTags
	EdpDataSESConfigurationSet = ses.EdpDataConfigurationSet
	EdpDataSESTags             = ses.EdpDataTags
	EdpDataResendTags          = resend.EdpDataTags
	EdpDataResendScheduledAt   = resend.EdpDataScheduledAt
	EdpDataSocketLabsMailingID = socketlabs.EdpDataMailingID
	EdpDataSocketLabsMessageID = socketlabs.EdpDataMessageID
)

// Message and attachment constructors.
var (
	Compose               = core.Compose
	ParseAddress          = core.ParseAddress
	MustParseAddress      = core.MustParseAddress
	NewFilePathAttachment = core.NewFilePathAttachment
	NewBase64Attachment   = core.NewBase64Attachment
	NewBytesAttachment    = core.NewBytesAttachment
	WithFileName          = core.WithFileName
	WithContentType       = core.WithContentType
)

var errPaused = errors.New("sending is paused")

// Client implements the Sender interface and dispatches messages to the
// registered email delivery providers. All methods are safe for concurrent use.
type Client struct {
	config      Config
	defaultFrom Address
	providers   map[string]Provider
	order       []string
	templateEng TemplateEngine
	logger      zerolog.Logger
	tracer      trace.Tracer
	mu          sync.RWMutex
	closed      bool
}

// New creates a new client with the given configuration. Providers are added
// with RegisterProvider or the Use* helpers.
func New(config Config, opts ...Option) (*Client, error) {
	// Apply functional options
	for _, opt := range opts {
		opt(&config)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := &Client{
		config:    config,
		providers: make(map[string]Provider),
	}

	if config.Service != nil && config.Service.DefaultFrom != "" {
		from, err := core.ParseAddress(config.Service.DefaultFrom)
		if err != nil {
			return nil, err
		}
		client.defaultFrom = from
	}

	if config.Logger != nil {
		client.logger = *config.Logger
	} else {
		logger, err := logging.New(config.Logging.Level, config.Logging.Format, config.Logging.Output)
		if err != nil {
			return nil, &ValidationError{Field: "logging", Message: err.Error()}
		}
		client.logger = logger
	}

	if config.Tracing.Enabled {
		client.tracer = otel.Tracer(config.Tracing.ServiceName)
	} else {
		client.tracer = noop.NewTracerProvider().Tracer("")
	}

	// Initialize template engine if enabled
	if config.Templates.Enabled {
		templateEng, err := NewTemplateEngine(config.Templates)
		if err != nil {
			return nil, fmt.Errorf("failed to create template engine: %w", err)
		}
		client.templateEng = templateEng
	}

	return client, nil
}

// RegisterProvider validates opts, builds a provider with factory and adds it
// under its name. Registering a second provider with the same name fails with
// ErrProviderExists.
func RegisterProvider[O OptionsValidator](c *Client, opts O, factory func(O) (Provider, error)) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	provider, err := factory(opts)
	if err != nil {
		return err
	}
	if provider == nil {
		return fmt.Errorf("register provider: factory returned nil: %w", ErrProviderNotConfigured)
	}

	return c.add(provider)
}

// UseSMTP registers an SMTP provider.
func (c *Client) UseSMTP(opts SMTPOptions) error {
	options := []smtp.Option{smtp.WithLogger(c.providerLogger("smtp"))}
	if n := c.config.Batch.Concurrency; n > 0 {
		options = append(options, smtp.WithConcurrency(n))
	}
	return c.use(smtp.NewProvider(opts, options...))
}

// UseSendGrid registers a SendGrid provider.
func (c *Client) UseSendGrid(opts SendGridOptions) error {
	options := []sendgrid.Option{sendgrid.WithLogger(c.providerLogger("sendgrid"))}
	if n := c.config.Batch.Concurrency; n > 0 {
		options = append(options, sendgrid.WithConcurrency(n))
	}
	return c.use(sendgrid.NewProvider(opts, options...))
}

// UseMailgun registers a Mailgun provider.
func (c *Client) UseMailgun(opts MailgunOptions) error {
	options := []mailgun.Option{mailgun.WithLogger(c.providerLogger("mailgun"))}
	if n := c.config.Batch.Concurrency; n > 0 {
		options = append(options, mailgun.WithConcurrency(n))
	}
	return c.use(mailgun.NewProvider(opts, options...))
}

// UseSES registers an AWS SES provider.
func (c *Client) UseSES(opts SESOptions) error {
	options := []ses.Option{ses.WithLogger(c.providerLogger("ses"))}
	if n := c.config.Batch.Concurrency; n > 0 {
		options = append(options, ses.WithConcurrency(n))
	}
	return c.use(ses.NewProvider(opts, options...))
}

// UseResend registers a Resend provider.
func (c *Client) UseResend(opts ResendOptions) error {
	options := []resend.Option{resend.WithLogger(c.providerLogger("resend"))}
	if n := c.config.Batch.Concurrency; n > 0 {
		options = append(options, resend.WithConcurrency(n))
	}
	return c.use(resend.NewProvider(opts, options...))
}

// UseSocketLabs registers a SocketLabs provider.
func (c *Client) UseSocketLabs(opts SocketLabsOptions) error {
	options := []socketlabs.Option{socketlabs.WithLogger(c.providerLogger("socketlabs"))}
	if n := c.config.Batch.Concurrency; n > 0 {
		options = append(options, socketlabs.WithConcurrency(n))
	}
	return c.use(socketlabs.NewProvider(opts, options...))
}

// Providers returns the registered provider names in registration order.
func (c *Client) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// Send sends msg through the default provider.
func (c *Client) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	return c.send(ctx, "", msg)
}

// SendVia sends msg through the provider registered under name.
func (c *Client) SendVia(ctx context.Context, name string, msg *Message) (*SendResult, error) {
	return c.send(ctx, name, msg)
}

// SendMultiple sends msgs through the default provider.
func (c *Client) SendMultiple(ctx context.Context, msgs []*Message) ([]*SendResult, error) {
	return c.sendMultiple(ctx, "", msgs)
}

// SendMultipleVia sends msgs through the provider registered under name.
func (c *Client) SendMultipleVia(ctx context.Context, name string, msgs []*Message) ([]*SendResult, error) {
	return c.sendMultiple(ctx, name, msgs)
}

func (c *Client) send(ctx context.Context, name string, msg *Message) (*SendResult, error) {
	ctx, span := c.tracer.Start(ctx, "emailnet.Client.Send")
	defer span.End()

	fail := func(err error, status string) (*SendResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return nil, err
	}

	if msg == nil {
		return fail(ErrNilMessage, "nil message")
	}

	provider, err := c.resolve(name)
	if err != nil {
		return fail(err, "provider selection failed")
	}

	span.SetAttributes(
		attribute.String("emailnet.provider", provider.Name()),
		attribute.String("emailnet.subject", msg.Subject()),
		attribute.Int("emailnet.recipients", len(msg.AllRecipients())),
	)

	if c.paused() {
		c.logger.Info().Str("provider", provider.Name()).Msg("sending paused, message not sent")
		span.SetStatus(codes.Error, "sending paused")
		return core.NewFailureResult(provider.Name(), ErrorKindPaused, errPaused), nil
	}

	if !c.prepare(msg) {
		return fail(ErrMissingSender, "missing sender")
	}

	result, err := c.sendWithProvider(ctx, msg, provider)
	if err != nil {
		return fail(err, "send failed")
	}

	if !result.Success {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, string(result.Error.Kind))
		return result, nil
	}

	// Add success attributes
	span.SetAttributes(
		attribute.String("emailnet.message_id", result.MessageID),
		attribute.String("emailnet.status", "sent"),
	)
	span.SetStatus(codes.Ok, "email sent successfully")

	return result, nil
}

func (c *Client) sendMultiple(ctx context.Context, name string, msgs []*Message) ([]*SendResult, error) {
	ctx, span := c.tracer.Start(ctx, "emailnet.Client.SendMultiple")
	defer span.End()

	fail := func(err error, status string) ([]*SendResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return nil, err
	}

	for i, msg := range msgs {
		if msg == nil {
			return fail(fmt.Errorf("message at index %d: %w", i, ErrNilMessage), "nil message")
		}
	}

	provider, err := c.resolve(name)
	if err != nil {
		return fail(err, "provider selection failed")
	}

	span.SetAttributes(
		attribute.Int("emailnet.batch.size", len(msgs)),
		attribute.String("emailnet.provider", provider.Name()),
	)

	if len(msgs) == 0 {
		span.SetStatus(codes.Ok, "no messages to send")
		return []*SendResult{}, nil
	}

	if c.paused() {
		c.logger.Info().Str("provider", provider.Name()).Int("count", len(msgs)).Msg("sending paused, messages not sent")
		results := make([]*SendResult, len(msgs))
		for i := range msgs {
			results[i] = core.NewFailureResult(provider.Name(), ErrorKindPaused, errPaused)
		}
		span.SetStatus(codes.Error, "sending paused")
		return results, nil
	}

	for i, msg := range msgs {
		if !c.prepare(msg) {
			return fail(fmt.Errorf("message at index %d: %w", i, ErrMissingSender), "missing sender")
		}
	}

	startTime := time.Now()
	results, err := provider.SendMultiple(ctx, msgs)
	span.SetAttributes(attribute.Int64("emailnet.provider.batch_duration_ms", time.Since(startTime).Milliseconds()))
	if err != nil {
		return fail(err, "batch send failed")
	}

	failed := 0
	for _, result := range results {
		if !result.Success {
			failed++
		}
	}

	span.SetAttributes(
		attribute.Int("emailnet.batch.success_count", len(results)-failed),
		attribute.Int("emailnet.batch.failure_count", failed),
	)
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d/%d messages failed", failed, len(results)))
	} else {
		span.SetStatus(codes.Ok, "batch send completed successfully")
	}

	return results, nil
}

// ComposeTemplate renders the <name>.subject, <name>.html and <name>.text
// templates with data and returns a composer holding the results. Missing
// parts are skipped; a name with no parts at all is ErrTemplateNotFound.
func (c *Client) ComposeTemplate(name string, data any) (*MessageComposer, error) {
	c.mu.RLock()
	closed, engine := c.closed, c.templateEng
	c.mu.RUnlock()

	if closed {
		return nil, ErrClientClosed
	}
	if engine == nil {
		return nil, ErrTemplatesDisabled
	}

	composer := Compose()
	found := false

	for _, part := range []string{"subject", "html", "text"} {
		rendered, err := engine.Render(name+"."+part, data)
		if errors.Is(err, ErrTemplateNotFound) {
			continue
		}
		if err != nil {
			return nil, NewTemplateError(name, "render", "failed to render "+part, err)
		}
		found = true

		switch part {
		case "subject":
			composer.WithSubject(rendered)
		case "html":
			composer.WithHTMLContent(rendered)
		case "text":
			composer.WithPlainTextContent(rendered)
		}
	}

	if !found {
		return nil, NewTemplateError(name, "render", "no subject, html or text template", ErrTemplateNotFound)
	}
	return composer, nil
}

// RegisterTemplate adds a template to the client's engine.
func (c *Client) RegisterTemplate(name, content string) error {
	c.mu.RLock()
	closed, engine := c.closed, c.templateEng
	c.mu.RUnlock()

	if closed {
		return ErrClientClosed
	}
	if engine == nil {
		return ErrTemplatesDisabled
	}
	return engine.RegisterTemplate(name, content)
}

// Close closes the client and releases any resources.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	// Close template engine if it has a Close method
	if closer, ok := c.templateEng.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close template engine: %w", err)
		}
	}

	return nil
}

// use adds a built-in provider. Its constructor has already validated the options.
func (c *Client) use(provider Provider, err error) error {
	if err != nil {
		return err
	}
	return c.add(provider)
}

func (c *Client) add(provider Provider) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	name := provider.Name()
	if _, exists := c.providers[name]; exists {
		return fmt.Errorf("%w: %s", ErrProviderExists, name)
	}

	c.providers[name] = provider
	c.order = append(c.order, name)
	c.logger.Debug().Str("provider", name).Msg("provider registered")
	return nil
}

// resolve picks the provider for a send: the named one, else the configured
// default, else the only registered provider.
func (c *Client) resolve(name string) (Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	if name == "" && c.config.Service != nil {
		name = c.config.Service.DefaultEdpName
	}

	if name != "" {
		provider, ok := c.providers[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
		}
		return provider, nil
	}

	switch len(c.order) {
	case 0:
		return nil, ErrNoProviders
	case 1:
		return c.providers[c.order[0]], nil
	default:
		return nil, &AmbiguousProviderError{Providers: slices.Clone(c.order)}
	}
}

// prepare backfills the default sender and reports whether msg has a sender.
func (c *Client) prepare(msg *Message) bool {
	return core.BackfillFrom(msg, c.defaultFrom)
}

func (c *Client) paused() bool {
	return c.config.Service != nil && c.config.Service.PauseSending
}

func (c *Client) providerLogger(name string) zerolog.Logger {
	return c.logger.With().Str("provider", name).Logger()
}

// sendWithProvider sends a message using a specific provider.
func (c *Client) sendWithProvider(ctx context.Context, msg *Message, provider Provider) (*SendResult, error) {
	startTime := time.Now()

	result, err := provider.Send(ctx, msg)

	duration := time.Since(startTime)

	// Add timing information to any existing span
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.Int64("emailnet.provider.duration_ms", duration.Milliseconds()),
		)
	}

	if err == nil && !result.Success {
		c.logger.Warn().
			Str("provider", provider.Name()).
			Str("kind", string(result.Error.Kind)).
			Int("status", result.Error.StatusCode).
			Msg(result.Error.Message)
	}

	return result, err
}
