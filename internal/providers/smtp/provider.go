package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lattiq/emailnet/internal/core"
	"github.com/lattiq/emailnet/internal/mimemsg"
)

// EdpDataServerOptions overrides the server settings for one message.
// The value is a *ServerOptions or ServerOptions.
const EdpDataServerOptions core.EdpDataKey = "smtp:server_options"

// errAuthNotOffered is returned when credentials are configured but the server
// does not advertise AUTH. The message is never sent anonymously.
var errAuthNotOffered = errors.New("smtp: server does not offer authentication")

// Dialer abstracts net.Dialer to simplify testing.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Envelope is the native SMTP message: envelope addresses plus the MIME document.
type Envelope struct {
	From       string
	Recipients []string
	Document   *mimemsg.Document
	Server     *ServerOptions
}

// Option configures the provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithDialer swaps the network dialer used to reach the server.
func WithDialer(d Dialer) Option {
	return func(p *Provider) {
		if d != nil {
			p.dialer = d
		}
	}
}

// WithConcurrency sets how many messages SendMultiple delivers at once.
func WithConcurrency(n int) Option {
	return func(p *Provider) {
		p.concurrency = n
	}
}

// Provider implements core.Provider for SMTP servers and pickup directories.
type Provider struct {
	server      ServerOptions
	logger      zerolog.Logger
	dialer      Dialer
	concurrency int
	configured  bool
}

// NewProvider validates opts and creates a new SMTP provider.
func NewProvider(opts Options, options ...Option) (*Provider, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		server:      *opts.Server,
		logger:      zerolog.Nop(),
		dialer:      &net.Dialer{},
		concurrency: 1,
		configured:  true,
	}
	for _, opt := range options {
		opt(p)
	}

	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// CreateProviderMessage projects msg onto an Envelope.
func (p *Provider) CreateProviderMessage(msg *core.Message) (*Envelope, error) {
	if msg == nil {
		return nil, core.ErrNilMessage
	}
	if msg.From().IsZero() {
		return nil, errors.New("smtp: message has no sender")
	}

	server, err := p.serverFor(msg)
	if err != nil {
		return nil, err
	}

	doc, err := mimemsg.FromMessage(msg)
	if err != nil {
		return nil, err
	}

	recipients := make([]string, 0, len(msg.AllRecipients()))
	for _, addr := range msg.AllRecipients() {
		recipients = append(recipients, addr.Email())
	}

	return &Envelope{
		From:       msg.From().Email(),
		Recipients: recipients,
		Document:   doc,
		Server:     server,
	}, nil
}

// Send delivers one message.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	if !p.configured {
		return nil, core.ErrProviderNotConfigured
	}
	if msg == nil {
		return nil, core.ErrNilMessage
	}

	env, err := p.CreateProviderMessage(msg)
	if err != nil {
		return core.NewFailureResult(p.Name(), core.ErrorKindInvalidMessage, err), nil
	}

	var buf bytes.Buffer
	messageID, err := env.Document.Render(&buf)
	if err != nil {
		return core.NewFailureResult(p.Name(), core.ErrorKindInvalidMessage, err), nil
	}

	if env.Server.method() == DeliveryPickupDirectory {
		return p.writePickup(env, messageID, buf.Bytes()), nil
	}
	return p.deliver(ctx, env, messageID, buf.Bytes()), nil
}

// SendMultiple sends each message and returns the results in input order.
func (p *Provider) SendMultiple(ctx context.Context, msgs []*core.Message) ([]*core.SendResult, error) {
	if !p.configured {
		return nil, core.ErrProviderNotConfigured
	}
	return core.SendEach(ctx, msgs, p.concurrency, p.Send)
}

// serverFor returns the server settings for msg, honoring an EdpData override.
func (p *Provider) serverFor(msg *core.Message) (*ServerOptions, error) {
	raw, ok := msg.LookupEdpData(EdpDataServerOptions)
	if !ok {
		server := p.server
		return &server, nil
	}

	var override ServerOptions
	switch v := raw.(type) {
	case *ServerOptions:
		if v == nil {
			return nil, fmt.Errorf("%w: %s is nil", core.ErrInvalidEdpData, EdpDataServerOptions)
		}
		override = *v
	case ServerOptions:
		override = v
	default:
		return nil, fmt.Errorf("%w: %s expects ServerOptions, got %T", core.ErrInvalidEdpData, EdpDataServerOptions, raw)
	}

	if err := override.Validate(); err != nil {
		return nil, err
	}
	return &override, nil
}

func (p *Provider) writePickup(env *Envelope, messageID string, data []byte) *core.SendResult {
	path := filepath.Join(env.Server.PickupDirectory, uuid.NewString()+".eml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		p.logger.Error().Err(err).Str("path", path).Msg("failed to write pickup file")
		return core.NewFailureResult(p.Name(), core.ErrorKindTransport, err)
	}

	p.logger.Debug().Str("path", path).Str("message_id", messageID).Msg("message written to pickup directory")
	return core.NewSuccessResult(p.Name(), messageID, path)
}

func (p *Provider) deliver(ctx context.Context, env *Envelope, messageID string, data []byte) *core.SendResult {
	server := env.Server
	if server.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, server.Timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(server.Host, strconv.Itoa(server.Port))
	if err := p.transmit(ctx, addr, env, data); err != nil {
		kind, code := classify(err)
		p.logger.Warn().Err(err).Str("addr", addr).Str("kind", string(kind)).Msg("smtp delivery failed")
		return core.NewFailureResult(p.Name(), kind, err).WithStatus(code, nil)
	}

	p.logger.Debug().Str("addr", addr).Str("message_id", messageID).Msg("message delivered")
	return core.NewSuccessResult(p.Name(), messageID, nil)
}

func (p *Provider) transmit(ctx context.Context, addr string, env *Envelope, data []byte) error {
	server := env.Server
	tlsConfig := &tls.Config{
		ServerName:         server.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: server.SkipTLSVerify, // #nosec G402 -- opt-in for development servers
	}

	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if server.UseTLS {
		conn = tls.Client(conn, tlsConfig)
	}

	c, err := smtp.NewClient(conn, server.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if err := c.Hello(server.helloName()); err != nil {
		return err
	}

	if !server.UseTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return err
			}
		}
	}

	if server.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errAuthNotOffered
		}
		if err := c.Auth(smtp.PlainAuth("", server.Username, server.Password, server.Host)); err != nil {
			return err
		}
	}

	if err := c.Mail(env.From); err != nil {
		return err
	}
	for _, rcpt := range env.Recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return c.Quit()
}

// classify maps a transport error onto an error kind and status code.
func classify(err error) (core.ErrorKind, int) {
	if errors.Is(err, errAuthNotOffered) {
		return core.ErrorKindAuthFailed, 0
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch {
		case tpErr.Code == 530 || tpErr.Code == 534 || tpErr.Code == 535:
			return core.ErrorKindAuthFailed, tpErr.Code
		case tpErr.Code >= 500:
			return core.ErrorKindRejected, tpErr.Code
		default:
			return core.ErrorKindTransport, tpErr.Code
		}
	}

	return core.KindForError(err), 0
}
