package sendgrid

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/lattiq/emailnet/internal/core"
)

// EdpData keys understood by the SendGrid provider.
const (
	// EdpDataAPIKey overrides the API key for one message (string).
	EdpDataAPIKey core.EdpDataKey = "sendgrid:api_key"

	// EdpDataCategories attaches categories to the message ([]string).
	EdpDataCategories core.EdpDataKey = "sendgrid:categories"

	// EdpDataTemplateID sends using a dynamic template (string).
	EdpDataTemplateID core.EdpDataKey = "sendgrid:template_id"
)

const (
	defaultHost  = "https://api.sendgrid.com"
	sendEndpoint = "/v3/mail/send"
)

// Options configures the SendGrid provider.
type Options struct {
	// APIKey is the SendGrid API key. Required.
	APIKey string `mapstructure:"api_key"`

	// Host overrides the API base URL, e.g. for the EU region.
	Host string `mapstructure:"host"`

	// SandboxMode asks SendGrid to validate messages without delivering them.
	SandboxMode bool `mapstructure:"sandbox_mode"`
}

// Validate checks the required fields.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.APIKey) == "" {
		return core.NewRequiredOptionError("sendgrid.Options", "APIKey", "the SendGrid API key is empty")
	}
	return nil
}

// Option configures the provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithConcurrency sets how many messages SendMultiple sends at once.
func WithConcurrency(n int) Option {
	return func(p *Provider) {
		p.concurrency = n
	}
}

// Provider implements the core.Provider interface for SendGrid.
type Provider struct {
	options     Options
	logger      zerolog.Logger
	concurrency int
	configured  bool
}

// NewProvider creates a new SendGrid provider.
func NewProvider(opts Options, options ...Option) (*Provider, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		options:     opts,
		logger:      zerolog.Nop(),
		concurrency: 4,
		configured:  true,
	}
	for _, opt := range options {
		opt(p)
	}

	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "sendgrid"
}

// CreateProviderMessage projects msg onto a SendGrid v3 mail body.
func (p *Provider) CreateProviderMessage(msg *core.Message) (*mail.SGMailV3, error) {
	if msg == nil {
		return nil, core.ErrNilMessage
	}
	if msg.From().IsZero() {
		return nil, errors.New("sendgrid: message has no sender")
	}

	m := mail.NewV3Mail()
	m.SetFrom(toEmail(msg.From()))
	m.Subject = msg.Subject()

	personalization := mail.NewPersonalization()
	for _, addr := range msg.To() {
		personalization.AddTos(toEmail(addr))
	}
	for _, addr := range msg.Cc() {
		personalization.AddCCs(toEmail(addr))
	}
	for _, addr := range msg.Bcc() {
		personalization.AddBCCs(toEmail(addr))
	}
	m.AddPersonalizations(personalization)

	// SendGrid requires text/plain to precede text/html.
	if body := msg.PlainTextBody(); body != nil {
		m.AddContent(mail.NewContent("text/plain", body.Content))
	}
	if body := msg.HTMLBody(); body != nil {
		m.AddContent(mail.NewContent("text/html", body.Content))
	}

	if replyTo := msg.ReplyTo(); len(replyTo) == 1 {
		m.SetReplyTo(toEmail(replyTo[0]))
	} else if len(replyTo) > 1 {
		list := make([]*mail.Email, 0, len(replyTo))
		for _, addr := range replyTo {
			list = append(list, toEmail(addr))
		}
		m.SetReplyToList(list)
	}

	for _, h := range core.PriorityHeaders(msg.Priority()) {
		m.SetHeader(h.Name, h.Value)
	}
	for _, h := range core.SortedHeaders(msg) {
		m.SetHeader(h.Name, h.Value)
	}

	attachments, err := core.ResolveAttachments(msg)
	if err != nil {
		return nil, err
	}
	for _, att := range attachments {
		a := mail.NewAttachment().
			SetContent(base64.StdEncoding.EncodeToString(att.Data)).
			SetType(att.ContentType).
			SetFilename(att.FileName).
			SetDisposition("attachment")
		m.AddAttachment(a)
	}

	categories, ok, err := core.EdpValue[[]string](msg, EdpDataCategories)
	if err != nil {
		return nil, err
	}
	if ok {
		m.AddCategories(categories...)
	}

	templateID, ok, err := core.EdpValue[string](msg, EdpDataTemplateID)
	if err != nil {
		return nil, err
	}
	if ok {
		m.SetTemplateID(templateID)
	}

	if p.options.SandboxMode {
		m.SetMailSettings(mail.NewMailSettings().SetSandboxMode(mail.NewSetting(true)))
	}

	return m, nil
}

// Send sends a single email using SendGrid.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	if !p.configured {
		return nil, core.ErrProviderNotConfigured
	}
	if msg == nil {
		return nil, core.ErrNilMessage
	}

	apiKey, err := p.apiKey(msg)
	if err != nil {
		return core.NewFailureResult(p.Name(), core.ErrorKindInvalidMessage, err), nil
	}

	message, err := p.CreateProviderMessage(msg)
	if err != nil {
		return core.NewFailureResult(p.Name(), core.ErrorKindInvalidMessage, err), nil
	}

	request := sendgrid.GetRequest(apiKey, sendEndpoint, p.host())
	request.Method = "POST"
	request.Body = mail.GetRequestBody(message)

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		p.logger.Warn().Err(err).Msg("sendgrid request failed")
		return core.NewFailureResult(p.Name(), core.KindForError(err), fmt.Errorf("failed to send email: %w", err)), nil
	}

	if response.StatusCode >= 400 {
		p.logger.Warn().Int("status", response.StatusCode).Msg("sendgrid rejected message")
		cause := fmt.Errorf("SendGrid API error: %s", response.Body)
		return core.NewFailureResult(p.Name(), core.KindForStatus(response.StatusCode), cause).
			WithStatus(response.StatusCode, response), nil
	}

	// SendGrid returns the message ID in the X-Message-Id header.
	var messageID string
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		messageID = ids[0]
	}

	p.logger.Debug().Str("message_id", messageID).Msg("message accepted")
	return core.NewSuccessResult(p.Name(), messageID, response), nil
}

// SendMultiple sends each message individually and returns the results in input order.
func (p *Provider) SendMultiple(ctx context.Context, msgs []*core.Message) ([]*core.SendResult, error) {
	if !p.configured {
		return nil, core.ErrProviderNotConfigured
	}
	return core.SendEach(ctx, msgs, p.concurrency, p.Send)
}

func (p *Provider) apiKey(msg *core.Message) (string, error) {
	key, ok, err := core.EdpValue[string](msg, EdpDataAPIKey)
	if err != nil {
		return "", err
	}
	if ok && key != "" {
		return key, nil
	}
	return p.options.APIKey, nil
}

func (p *Provider) host() string {
	if p.options.Host != "" {
		return strings.TrimRight(p.options.Host, "/")
	}
	return defaultHost
}

func toEmail(addr core.Address) *mail.Email {
	return mail.NewEmail(addr.Name(), addr.Email())
}
