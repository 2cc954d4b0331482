package ses

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/lattiq/emailnet/internal/core"
	"github.com/lattiq/emailnet/internal/mimemsg"
)

// EdpData keys understood by the SES provider.
const (
	// EdpDataConfigurationSet overrides the configuration set for one message (string).
	EdpDataConfigurationSet core.EdpDataKey = "ses:configuration_set"

	// EdpDataTags adds message tags (map[string]string).
	EdpDataTags core.EdpDataKey = "ses:tags"
)

// Options configures the SES provider.
type Options struct {
	// Region is the AWS region. Required.
	Region string `mapstructure:"region"`

	// AccessKeyID, SecretAccessKey and SessionToken set static credentials.
	// When AccessKeyID is empty the default credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`

	// ConfigurationSet is applied to every message unless overridden.
	ConfigurationSet string `mapstructure:"configuration_set"`

	// Endpoint overrides the service endpoint, e.g. for LocalStack.
	Endpoint string `mapstructure:"endpoint"`
}

// Validate checks the required fields in declaration order.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.Region) == "" {
		return core.NewRequiredOptionError("ses.Options", "Region", "the AWS region is empty")
	}
	if o.AccessKeyID != "" && o.SecretAccessKey == "" {
		return core.NewRequiredOptionError("ses.Options", "SecretAccessKey",
			"the secret key is required when an access key is provided")
	}
	return nil
}

// API is the subset of the SES client used by the provider.
type API interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// Request is the native SES message. Exactly one of Simple and Raw is set.
type Request struct {
	// Simple is used for messages that SendEmail can express.
	Simple *ses.SendEmailInput

	// Raw is used for messages with attachments or custom headers.
	Raw *RawRequest
}

// RawRequest is a SendRawEmail call whose document is rendered at send time.
type RawRequest struct {
	Source               string
	Destinations         []string
	Document             *mimemsg.Document
	ConfigurationSetName *string
	Tags                 []types.MessageTag
}

// Option configures the provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithClient replaces the SES client.
func WithClient(client API) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// WithConcurrency sets how many messages SendMultiple sends at once.
func WithConcurrency(n int) Option {
	return func(p *Provider) {
		p.concurrency = n
	}
}

// Provider implements the core.Provider interface for AWS SES.
type Provider struct {
	client      API
	options     Options
	logger      zerolog.Logger
	concurrency int
}

// NewProvider creates a new AWS SES provider.
func NewProvider(opts Options, options ...Option) (*Provider, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		options:     opts,
		logger:      zerolog.Nop(),
		concurrency: 4,
	}
	for _, opt := range options {
		opt(p)
	}

	if p.client == nil {
		client, err := newClient(opts)
		if err != nil {
			return nil, err
		}
		p.client = client
	}

	return p, nil
}

func newClient(opts Options) (*ses.Client, error) {
	// Load AWS config
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(opts.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Override with explicit credentials if provided
	if opts.AccessKeyID != "" {
		cfg.Credentials = aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     opts.AccessKeyID,
				SecretAccessKey: opts.SecretAccessKey,
				SessionToken:    opts.SessionToken,
			}, nil
		})
	}

	return ses.NewFromConfig(cfg, func(o *ses.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

// CreateProviderMessage projects msg onto a SendEmail or SendRawEmail request.
func (p *Provider) CreateProviderMessage(msg *core.Message) (*Request, error) {
	if msg == nil {
		return nil, core.ErrNilMessage
	}
	if msg.From().IsZero() {
		return nil, errors.New("ses: message has no sender")
	}

	configSet, err := p.configurationSet(msg)
	if err != nil {
		return nil, err
	}
	tags, err := messageTags(msg)
	if err != nil {
		return nil, err
	}

	if msg.HasAttachments() || len(msg.Headers()) > 0 || msg.Priority() != core.PriorityNormal {
		doc, err := mimemsg.FromMessage(msg)
		if err != nil {
			return nil, err
		}
		return &Request{Raw: &RawRequest{
			Source:               msg.From().String(),
			Destinations:         emails(msg.AllRecipients()),
			Document:             doc,
			ConfigurationSetName: configSet,
			Tags:                 tags,
		}}, nil
	}

	input := &ses.SendEmailInput{
		Source: aws.String(msg.From().String()),
		Destination: &types.Destination{
			ToAddresses: formatted(msg.To()),
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject()),
				Charset: aws.String(core.DefaultCharset),
			},
			Body: &types.Body{},
		},
		ConfigurationSetName: configSet,
		Tags:                 tags,
	}

	// Add CC addresses if present
	if cc := msg.Cc(); len(cc) > 0 {
		input.Destination.CcAddresses = formatted(cc)
	}

	// Add BCC addresses if present
	if bcc := msg.Bcc(); len(bcc) > 0 {
		input.Destination.BccAddresses = formatted(bcc)
	}

	if replyTo := msg.ReplyTo(); len(replyTo) > 0 {
		input.ReplyToAddresses = formatted(replyTo)
	}

	if body := msg.PlainTextBody(); body != nil {
		input.Message.Body.Text = &types.Content{
			Data:    aws.String(body.Content),
			Charset: aws.String(body.Charset),
		}
	}
	if body := msg.HTMLBody(); body != nil {
		input.Message.Body.Html = &types.Content{
			Data:    aws.String(body.Content),
			Charset: aws.String(body.Charset),
		}
	}

	return &Request{Simple: input}, nil
}

// Send sends a single email using AWS SES.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	if p.client == nil {
		return nil, core.ErrProviderNotConfigured
	}
	if msg == nil {
		return nil, core.ErrNilMessage
	}

	req, err := p.CreateProviderMessage(msg)
	if err != nil {
		return core.NewFailureResult(p.Name(), core.ErrorKindInvalidMessage, err), nil
	}

	if req.Simple != nil {
		output, err := p.client.SendEmail(ctx, req.Simple)
		if err != nil {
			return p.failure(err), nil
		}
		return core.NewSuccessResult(p.Name(), aws.ToString(output.MessageId), output), nil
	}

	var buf bytes.Buffer
	if _, err := req.Raw.Document.Render(&buf); err != nil {
		return core.NewFailureResult(p.Name(), core.ErrorKindInvalidMessage, err), nil
	}

	output, err := p.client.SendRawEmail(ctx, &ses.SendRawEmailInput{
		Source:               aws.String(req.Raw.Source),
		Destinations:         req.Raw.Destinations,
		RawMessage:           &types.RawMessage{Data: buf.Bytes()},
		ConfigurationSetName: req.Raw.ConfigurationSetName,
		Tags:                 req.Raw.Tags,
	})
	if err != nil {
		return p.failure(err), nil
	}
	return core.NewSuccessResult(p.Name(), aws.ToString(output.MessageId), output), nil
}

// SendMultiple sends emails individually. SES has no batch send for distinct
// messages.
func (p *Provider) SendMultiple(ctx context.Context, msgs []*core.Message) ([]*core.SendResult, error) {
	if p.client == nil {
		return nil, core.ErrProviderNotConfigured
	}
	return core.SendEach(ctx, msgs, p.concurrency, p.Send)
}

func (p *Provider) failure(err error) *core.SendResult {
	kind := core.KindForError(err)
	status := 0

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
		kind = core.KindForStatus(status)
	}

	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		kind = core.ErrorKindRejected
	}

	event := p.logger.Warn().Err(err).Str("kind", string(kind))
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		event = event.Str("code", apiErr.ErrorCode())
	}
	event.Msg("ses send failed")

	return core.NewFailureResult(p.Name(), kind, fmt.Errorf("failed to send email: %w", err)).WithStatus(status, nil)
}

func (p *Provider) configurationSet(msg *core.Message) (*string, error) {
	set, ok, err := core.EdpValue[string](msg, EdpDataConfigurationSet)
	if err != nil {
		return nil, err
	}
	if ok && set != "" {
		return aws.String(set), nil
	}
	if p.options.ConfigurationSet != "" {
		return aws.String(p.options.ConfigurationSet), nil
	}
	return nil, nil
}

// messageTags returns the EdpData tags sorted by name.
func messageTags(msg *core.Message) ([]types.MessageTag, error) {
	tags, ok, err := core.EdpValue[map[string]string](msg, EdpDataTags)
	if err != nil || !ok {
		return nil, err
	}

	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]types.MessageTag, 0, len(names))
	for _, name := range names {
		out = append(out, types.MessageTag{
			Name:  aws.String(name),
			Value: aws.String(tags[name]),
		})
	}
	return out, nil
}

// formatted converts core.Address slice to string slice.
func formatted(addresses []core.Address) []string {
	result := make([]string, len(addresses))
	for i, addr := range addresses {
		result[i] = addr.String()
	}
	return result
}

func emails(addresses []core.Address) []string {
	result := make([]string, len(addresses))
	for i, addr := range addresses {
		result[i] = addr.Email()
	}
	return result
}
