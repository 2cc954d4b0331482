package mailgun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/rs/zerolog"

	"github.com/lattiq/emailnet/internal/core"
	"github.com/lattiq/emailnet/internal/mimemsg"
)

// EdpDataTags tags the message for Mailgun analytics ([]string).
const EdpDataTags core.EdpDataKey = "mailgun:tags"

// Options configures the Mailgun provider.
type Options struct {
	// APIKey is the Mailgun private API key. Required.
	APIKey string `mapstructure:"api_key"`

	// Domain is the sending domain. Required.
	Domain string `mapstructure:"domain"`

	// BaseURL overrides the API base, e.g. mailgun.APIBaseEU for EU customers.
	// It must include the API version: https://api.eu.mailgun.net/v3.
	BaseURL string `mapstructure:"base_url"`
}

var apiVersion = regexp.MustCompile(`/v[1-4]$`)

// Validate checks the required fields in declaration order.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.APIKey) == "" {
		return core.NewRequiredOptionError("mailgun.Options", "APIKey", "the Mailgun API key is empty")
	}
	if strings.TrimSpace(o.Domain) == "" {
		return core.NewRequiredOptionError("mailgun.Options", "Domain", "the Mailgun sending domain is empty")
	}
	if o.BaseURL != "" {
		u, err := url.ParseRequestURI(o.BaseURL)
		if err != nil || u.Host == "" || !apiVersion.MatchString(strings.TrimSuffix(u.Path, "/")) {
			return core.NewRequiredOptionError("mailgun.Options", "BaseURL",
				"the API base must be an absolute URL ending in /v1, /v2, /v3 or /v4, e.g. "+mailgun.APIBaseEU)
		}
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

// Provider implements the core.Provider interface for Mailgun.
type Provider struct {
	client      mailgun.Mailgun
	logger      zerolog.Logger
	concurrency int
}

// NewProvider creates a new Mailgun provider.
func NewProvider(opts Options, options ...Option) (*Provider, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	client := mailgun.NewMailgun(opts.Domain, opts.APIKey)

	if opts.BaseURL != "" {
		client.SetAPIBase(strings.TrimSuffix(opts.BaseURL, "/"))
	}

	p := &Provider{
		client:      client,
		logger:      zerolog.Nop(),
		concurrency: 4,
	}
	for _, opt := range options {
		opt(p)
	}

	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "mailgun"
}

// CreateProviderMessage projects msg onto a Mailgun message. Messages with
// attachments are sent as MIME so each attachment keeps its content type;
// the document is rendered when the request is written.
func (p *Provider) CreateProviderMessage(msg *core.Message) (*mailgun.Message, error) {
	if msg == nil {
		return nil, core.ErrNilMessage
	}
	if msg.From().IsZero() {
		return nil, errors.New("mailgun: message has no sender")
	}

	text, html := msg.PlainTextBody(), msg.HTMLBody()
	if text == nil && html == nil {
		return nil, errors.New("mailgun: message needs a text or HTML body")
	}

	var (
		message *mailgun.Message
		err     error
	)
	if msg.HasAttachments() {
		message, err = mimeMessage(msg)
	} else {
		message, err = formMessage(msg)
	}
	if err != nil {
		return nil, err
	}

	tags, ok, err := core.EdpValue[[]string](msg, EdpDataTags)
	if err != nil {
		return nil, err
	}
	if ok && len(tags) > 0 {
		if err := message.AddTag(tags...); err != nil {
			return nil, err
		}
	}

	return message, nil
}

func formMessage(msg *core.Message) (*mailgun.Message, error) {
	text, html := msg.PlainTextBody(), msg.HTMLBody()

	var textContent string
	if text != nil {
		textContent = text.Content
	}

	to := msg.To()
	message := mailgun.NewMessage(msg.From().String(), msg.Subject(), textContent, to[0].String())

	for _, addr := range to[1:] {
		if err := message.AddRecipient(addr.String()); err != nil {
			return nil, fmt.Errorf("failed to add recipient %s: %w", addr.Email(), err)
		}
	}
	for _, addr := range msg.Cc() {
		message.AddCC(addr.String())
	}
	for _, addr := range msg.Bcc() {
		message.AddBCC(addr.String())
	}

	if html != nil {
		message.SetHTML(html.Content)
	}

	if replyTo := msg.ReplyTo(); len(replyTo) > 0 {
		list := make([]string, 0, len(replyTo))
		for _, addr := range replyTo {
			list = append(list, addr.String())
		}
		message.SetReplyTo(strings.Join(list, ", "))
	}

	for _, h := range core.PriorityHeaders(msg.Priority()) {
		message.AddHeader(h.Name, h.Value)
	}
	for _, h := range core.SortedHeaders(msg) {
		message.AddHeader(h.Name, h.Value)
	}

	return message, nil
}

func mimeMessage(msg *core.Message) (*mailgun.Message, error) {
	doc, err := mimemsg.FromMessage(msg)
	if err != nil {
		return nil, err
	}

	recipients := msg.AllRecipients()
	to := make([]string, 0, len(recipients))
	for _, addr := range recipients {
		to = append(to, addr.Email())
	}

	return mailgun.NewMIMEMessage(&documentReader{doc: doc}, to...), nil
}

// documentReader renders a document on first read, so Date and Message-ID
// are stamped at send time.
type documentReader struct {
	doc *mimemsg.Document
	buf *bytes.Reader
	err error
}

func (r *documentReader) Read(b []byte) (int, error) {
	if r.buf == nil && r.err == nil {
		var out bytes.Buffer
		if _, err := r.doc.Render(&out); err != nil {
			r.err = fmt.Errorf("mailgun: render mime: %w", err)
		} else {
			r.buf = bytes.NewReader(out.Bytes())
		}
	}
	if r.err != nil {
		return 0, r.err
	}
	return r.buf.Read(b)
}

func (r *documentReader) Close() error {
	return nil
}

// Send sends a single email using Mailgun.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	if p.client == nil {
		return nil, core.ErrProviderNotConfigured
	}
	if msg == nil {
		return nil, core.ErrNilMessage
	}

	message, err := p.CreateProviderMessage(msg)
	if err != nil {
		return core.NewFailureResult(p.Name(), core.ErrorKindInvalidMessage, err), nil
	}

	// Mailgun v4 returns 3 values: mes, id, err
	mes, id, err := p.client.Send(ctx, message)
	if err != nil {
		var respErr *mailgun.UnexpectedResponseError
		if errors.As(err, &respErr) {
			p.logger.Warn().Int("status", respErr.Actual).Msg("mailgun rejected message")
			return core.NewFailureResult(p.Name(), core.KindForStatus(respErr.Actual), err).
				WithStatus(respErr.Actual, string(respErr.Data)), nil
		}
		p.logger.Warn().Err(err).Msg("mailgun request failed")
		return core.NewFailureResult(p.Name(), core.KindForError(err), err), nil
	}

	p.logger.Debug().Str("message_id", id).Msg("message queued")
	return core.NewSuccessResult(p.Name(), id, mes), nil
}

// SendMultiple sends each message and returns the results in input order.
func (p *Provider) SendMultiple(ctx context.Context, msgs []*core.Message) ([]*core.SendResult, error) {
	if p.client == nil {
		return nil, core.ErrProviderNotConfigured
	}
	return core.SendEach(ctx, msgs, p.concurrency, p.Send)
}
