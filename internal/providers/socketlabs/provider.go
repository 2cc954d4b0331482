// Package socketlabs delivers messages through the SocketLabs Injection API.
package socketlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"

	"github.com/lattiq/emailnet/internal/core"
)

// EdpData keys understood by the SocketLabs provider.
const (
	// EdpDataMailingID groups messages for SocketLabs reporting (string).
	EdpDataMailingID core.EdpDataKey = "socketlabs:mailing_id"

	// EdpDataMessageID sets the SocketLabs message id used in tracking (string).
	EdpDataMessageID core.EdpDataKey = "socketlabs:message_id"
)

const defaultEndpoint = "https://inject.socketlabs.com/api/v1/email"

// Options configures the SocketLabs provider.
type Options struct {
	// ServerID is the SocketLabs server the messages are injected into. Required, positive.
	ServerID int `mapstructure:"server_id"`

	// APIKey is the Injection API key. Required.
	APIKey string `mapstructure:"api_key"`

	// Endpoint overrides the Injection API URL.
	Endpoint string `mapstructure:"endpoint"`
}

// Validate checks the required fields in declaration order.
func (o *Options) Validate() error {
	if o.ServerID <= 0 {
		return core.NewRequiredOptionError("socketlabs.Options", "ServerID",
			"the SocketLabs server id must be greater than zero")
	}
	if strings.TrimSpace(o.APIKey) == "" {
		return core.NewRequiredOptionError("socketlabs.Options", "APIKey", "the SocketLabs API key is empty")
	}
	if o.Endpoint != "" {
		if u, err := url.ParseRequestURI(o.Endpoint); err != nil || u.Host == "" {
			return core.NewRequiredOptionError("socketlabs.Options", "Endpoint", "the endpoint is not a valid URL")
		}
	}
	return nil
}

// Address is an Injection API address.
type Address struct {
	EmailAddress string `json:"emailAddress"`
	FriendlyName string `json:"friendlyName,omitempty"`
}

// Header is an Injection API custom header.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Attachment is an Injection API attachment with base64 content.
type Attachment struct {
	Name        string `json:"name"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

// Message is the native SocketLabs message.
type Message struct {
	From          Address      `json:"from"`
	To            []Address    `json:"to"`
	Cc            []Address    `json:"cc,omitempty"`
	Bcc           []Address    `json:"bcc,omitempty"`
	ReplyTo       *Address     `json:"replyTo,omitempty"`
	Subject       string       `json:"subject"`
	TextBody      string       `json:"textBody,omitempty"`
	HTMLBody      string       `json:"htmlBody,omitempty"`
	CharSet       string       `json:"charSet,omitempty"`
	MessageID     string       `json:"messageId,omitempty"`
	MailingID     string       `json:"mailingId,omitempty"`
	CustomHeaders []Header     `json:"customHeaders,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
}

type injectionRequest struct {
	ServerID int        `json:"serverId"`
	APIKey   string     `json:"APIKey"`
	Messages []*Message `json:"messages"`
}

type injectionResponse struct {
	ErrorCode          string `json:"ErrorCode"`
	TransactionReceipt string `json:"TransactionReceipt"`
	MessageResults     []struct {
		Index     int    `json:"Index"`
		ErrorCode string `json:"ErrorCode"`
	} `json:"MessageResults"`
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

// WithHTTPClient swaps the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = &rest.Client{HTTPClient: c}
		}
	}
}

// Provider implements the core.Provider interface for SocketLabs.
type Provider struct {
	options     Options
	client      *rest.Client
	logger      zerolog.Logger
	concurrency int
}

// NewProvider creates a new SocketLabs provider.
func NewProvider(opts Options, options ...Option) (*Provider, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		options:     opts,
		client:      rest.DefaultClient,
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
	return "socketlabs"
}

// CreateProviderMessage projects msg onto an Injection API message.
func (p *Provider) CreateProviderMessage(msg *core.Message) (*Message, error) {
	if msg == nil {
		return nil, core.ErrNilMessage
	}
	if msg.From().IsZero() {
		return nil, errors.New("socketlabs: message has no sender")
	}
	if len(msg.ReplyTo()) > 1 {
		return nil, errors.New("socketlabs: only one reply-to address is supported")
	}

	m := &Message{
		From:    toAddress(msg.From()),
		To:      toAddresses(msg.To()),
		Cc:      toAddresses(msg.Cc()),
		Bcc:     toAddresses(msg.Bcc()),
		Subject: msg.Subject(),
	}
	if replyTo := msg.ReplyTo(); len(replyTo) == 1 {
		addr := toAddress(replyTo[0])
		m.ReplyTo = &addr
	}

	if body := msg.PlainTextBody(); body != nil {
		m.TextBody = body.Content
		m.CharSet = body.Charset
	}
	if body := msg.HTMLBody(); body != nil {
		m.HTMLBody = body.Content
		m.CharSet = body.Charset
	}

	for _, h := range core.PriorityHeaders(msg.Priority()) {
		m.CustomHeaders = append(m.CustomHeaders, Header{Name: h.Name, Value: h.Value})
	}
	for _, h := range core.SortedHeaders(msg) {
		m.CustomHeaders = append(m.CustomHeaders, Header{Name: h.Name, Value: h.Value})
	}

	attachments, err := core.ResolveAttachments(msg)
	if err != nil {
		return nil, err
	}
	for _, att := range attachments {
		m.Attachments = append(m.Attachments, Attachment{
			Name:        att.FileName,
			Content:     base64.StdEncoding.EncodeToString(att.Data),
			ContentType: att.ContentType,
		})
	}

	if m.MailingID, _, err = core.EdpValue[string](msg, EdpDataMailingID); err != nil {
		return nil, err
	}
	if m.MessageID, _, err = core.EdpValue[string](msg, EdpDataMessageID); err != nil {
		return nil, err
	}

	return m, nil
}

// Send injects a single message.
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

	body, err := json.Marshal(injectionRequest{
		ServerID: p.options.ServerID,
		APIKey:   p.options.APIKey,
		Messages: []*Message{message},
	})
	if err != nil {
		return core.NewFailureResult(p.Name(), core.ErrorKindInvalidMessage, err), nil
	}

	response, err := p.client.SendWithContext(ctx, rest.Request{
		Method:  rest.Post,
		BaseURL: p.endpoint(),
		Headers: map[string]string{
			"Authorization": "Bearer " + p.options.APIKey,
			"Content-Type":  "application/json",
		},
		Body: body,
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("socketlabs request failed")
		return core.NewFailureResult(p.Name(), core.KindForError(err), fmt.Errorf("failed to send email: %w", err)), nil
	}

	if response.StatusCode >= 400 {
		p.logger.Warn().Int("status", response.StatusCode).Msg("socketlabs rejected message")
		cause := fmt.Errorf("SocketLabs API error: %s", response.Body)
		return core.NewFailureResult(p.Name(), core.KindForStatus(response.StatusCode), cause).
			WithStatus(response.StatusCode, response), nil
	}

	var result injectionResponse
	if err := json.Unmarshal([]byte(response.Body), &result); err != nil {
		return core.NewFailureResult(p.Name(), core.ErrorKindTransport,
			fmt.Errorf("socketlabs: decode response: %w", err)).WithStatus(response.StatusCode, response), nil
	}

	if code := resultCode(result); code != "Success" && code != "Warning" {
		p.logger.Warn().Str("error_code", code).Msg("socketlabs rejected message")
		return core.NewFailureResult(p.Name(), kindForCode(code), fmt.Errorf("SocketLabs error: %s", code)).
			WithStatus(response.StatusCode, result), nil
	}

	p.logger.Debug().Str("receipt", result.TransactionReceipt).Msg("message injected")
	return core.NewSuccessResult(p.Name(), result.TransactionReceipt, result), nil
}

// SendMultiple injects each message individually and returns the results in input order.
func (p *Provider) SendMultiple(ctx context.Context, msgs []*core.Message) ([]*core.SendResult, error) {
	if p.client == nil {
		return nil, core.ErrProviderNotConfigured
	}
	return core.SendEach(ctx, msgs, p.concurrency, p.Send)
}

func (p *Provider) endpoint() string {
	if p.options.Endpoint != "" {
		return p.options.Endpoint
	}
	return defaultEndpoint
}

// resultCode prefers the per-message code, which carries the reason when the
// request as a whole reports Warning or Failed.
func resultCode(r injectionResponse) string {
	if r.ErrorCode != "Success" && len(r.MessageResults) > 0 && r.MessageResults[0].ErrorCode != "" {
		return r.MessageResults[0].ErrorCode
	}
	return r.ErrorCode
}

func kindForCode(code string) core.ErrorKind {
	switch code {
	case "InvalidAuthentication", "AuthenticationValidationFailed":
		return core.ErrorKindAuthFailed
	case "ServerBusy", "InternalError", "Timeout":
		return core.ErrorKindTransport
	default:
		return core.ErrorKindRejected
	}
}

func toAddress(a core.Address) Address {
	return Address{EmailAddress: a.Email(), FriendlyName: a.Name()}
}

func toAddresses(addrs []core.Address) []Address {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, toAddress(a))
	}
	return out
}
