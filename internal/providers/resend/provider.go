// Package resend delivers messages through the Resend HTTP API.
package resend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"

	"github.com/lattiq/emailnet/internal/core"
)

// EdpData keys understood by the Resend provider.
const (
	// EdpDataTags adds tags to the message (map[string]string).
	EdpDataTags core.EdpDataKey = "resend:tags"

	// EdpDataScheduledAt schedules delivery, e.g. "2024-08-05T11:52:01.858Z" or "in 1 hour" (string).
	EdpDataScheduledAt core.EdpDataKey = "resend:scheduled_at"
)

// Options configures the Resend provider.
type Options struct {
	// APIKey is the Resend API key. Required.
	APIKey string `mapstructure:"api_key"`

	// BaseURL overrides the API base URL.
	BaseURL string `mapstructure:"base_url"`
}

// Validate checks the required fields in declaration order.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.APIKey) == "" {
		return core.NewRequiredOptionError("resend.Options", "APIKey", "the Resend API key is empty")
	}
	if o.BaseURL != "" {
		if _, err := url.ParseRequestURI(o.BaseURL); err != nil {
			return core.NewRequiredOptionError("resend.Options", "BaseURL", "the base URL is not a valid URL")
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

// Provider implements the core.Provider interface for Resend.
type Provider struct {
	client      *resend.Client
	logger      zerolog.Logger
	concurrency int
}

// NewProvider creates a new Resend provider.
func NewProvider(opts Options, options ...Option) (*Provider, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	client := resend.NewClient(opts.APIKey)
	if opts.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("resend: parse base URL: %w", err)
		}
		client.BaseURL = base
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
	return "resend"
}

// CreateProviderMessage projects msg onto a Resend send request.
func (p *Provider) CreateProviderMessage(msg *core.Message) (*resend.SendEmailRequest, error) {
	if msg == nil {
		return nil, core.ErrNilMessage
	}
	if msg.From().IsZero() {
		return nil, errors.New("resend: message has no sender")
	}

	req := &resend.SendEmailRequest{
		From:    msg.From().String(),
		To:      formatted(msg.To()),
		Subject: msg.Subject(),
		Cc:      formatted(msg.Cc()),
		Bcc:     formatted(msg.Bcc()),
		ReplyTo: strings.Join(formatted(msg.ReplyTo()), ", "),
	}
	if body := msg.PlainTextBody(); body != nil {
		req.Text = body.Content
	}
	if body := msg.HTMLBody(); body != nil {
		req.Html = body.Content
	}

	fields := append(core.PriorityHeaders(msg.Priority()), core.SortedHeaders(msg)...)
	if len(fields) > 0 {
		req.Headers = make(map[string]string, len(fields))
		for _, h := range fields {
			req.Headers[h.Name] = h.Value
		}
	}

	attachments, err := core.ResolveAttachments(msg)
	if err != nil {
		return nil, err
	}
	for _, att := range attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Content:     att.Data,
			Filename:    att.FileName,
			ContentType: att.ContentType,
		})
	}

	tags, ok, err := core.EdpValue[map[string]string](msg, EdpDataTags)
	if err != nil {
		return nil, err
	}
	if ok {
		names := make([]string, 0, len(tags))
		for name := range tags {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			req.Tags = append(req.Tags, resend.Tag{Name: name, Value: tags[name]})
		}
	}

	scheduledAt, ok, err := core.EdpValue[string](msg, EdpDataScheduledAt)
	if err != nil {
		return nil, err
	}
	if ok {
		req.ScheduledAt = scheduledAt
	}

	return req, nil
}

// Send sends a single email using the Resend API.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	if p.client == nil {
		return nil, core.ErrProviderNotConfigured
	}
	if msg == nil {
		return nil, core.ErrNilMessage
	}

	params, err := p.CreateProviderMessage(msg)
	if err != nil {
		return core.NewFailureResult(p.Name(), core.ErrorKindInvalidMessage, err), nil
	}

	sent, err := p.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		kind, status := classify(err)
		p.logger.Warn().Err(err).Str("kind", string(kind)).Msg("resend send failed")
		return core.NewFailureResult(p.Name(), kind, fmt.Errorf("resend: failed to send email: %w", err)).
			WithStatus(status, nil), nil
	}

	p.logger.Debug().Str("message_id", sent.Id).Msg("message accepted")
	return core.NewSuccessResult(p.Name(), sent.Id, sent), nil
}

// SendMultiple sends each message and returns the results in input order.
func (p *Provider) SendMultiple(ctx context.Context, msgs []*core.Message) ([]*core.SendResult, error) {
	if p.client == nil {
		return nil, core.ErrProviderNotConfigured
	}
	return core.SendEach(ctx, msgs, p.concurrency, p.Send)
}

// classify maps a client error onto an error kind. The client reports API
// errors as plain errors, so anything that is not a transport error is a rejection.
func classify(err error) (core.ErrorKind, int) {
	if errors.Is(err, resend.ErrRateLimit) {
		return core.ErrorKindTransport, 429
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return core.KindForError(err), 0
	}

	return core.ErrorKindRejected, 0
}

func formatted(addresses []core.Address) []string {
	if len(addresses) == 0 {
		return nil
	}
	result := make([]string, len(addresses))
	for i, addr := range addresses {
		result[i] = addr.String()
	}
	return result
}
