package smtp

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiq/emailnet/internal/core"
)

// fakeServer speaks just enough SMTP to accept or reject messages.
type fakeServer struct {
	ln     net.Listener
	reject string

	mu       sync.Mutex
	messages []string
}

func startFakeServer(t *testing.T, reject string) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{ln: ln, reject: reject}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 fake ESMTP")

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			_ = tp.PrintfLine("250 fake")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			_ = tp.PrintfLine("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			if s.reject != "" && strings.Contains(line, s.reject) {
				_ = tp.PrintfLine("550 no such user")
				continue
			}
			_ = tp.PrintfLine("250 OK")
		case cmd == "DATA":
			_ = tp.PrintfLine("354 go ahead")
			data, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.messages = append(s.messages, string(data))
			s.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case cmd == "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 not implemented")
		}
	}
}

type countingDialer struct {
	calls atomic.Int32
	err   error
}

func (d *countingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	var nd net.Dialer
	return nd.DialContext(ctx, network, address)
}

func pickupProvider(t *testing.T, dir string) *Provider {
	t.Helper()
	p, err := NewProvider(Options{Server: &ServerOptions{
		DeliveryMethod:  DeliveryPickupDirectory,
		PickupDirectory: dir,
	}})
	require.NoError(t, err)
	return p
}

func emlFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.eml"))
	require.NoError(t, err)
	return files
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantField string
	}{
		{name: "nil server", opts: Options{}, wantField: "Server"},
		{name: "network without host", opts: Options{Server: &ServerOptions{Port: 25}}, wantField: "Host"},
		{name: "network without port", opts: Options{Server: &ServerOptions{Host: "mail.example.com"}}, wantField: "Port"},
		{name: "port out of range", opts: Options{Server: &ServerOptions{Host: "mail.example.com", Port: 70000}}, wantField: "Port"},
		{name: "pickup without directory", opts: Options{Server: &ServerOptions{DeliveryMethod: DeliveryPickupDirectory}}, wantField: "PickupDirectory"},
		{name: "unknown method", opts: Options{Server: &ServerOptions{DeliveryMethod: "pigeon"}}, wantField: "DeliveryMethod"},
		{name: "network", opts: Options{Server: &ServerOptions{Host: "mail.example.com", Port: 587}}},
		{name: "pickup needs no host", opts: Options{Server: &ServerOptions{DeliveryMethod: DeliveryPickupDirectory, PickupDirectory: "/tmp"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var optErr *core.RequiredOptionValueNotSpecifiedError
			require.ErrorAs(t, err, &optErr)
			assert.Equal(t, tt.wantField, optErr.Field)
			assert.ErrorIs(t, err, core.ErrRequiredOptionValueNotSpecified)

			_, err = NewProvider(tt.opts)
			assert.ErrorIs(t, err, core.ErrRequiredOptionValueNotSpecified)
		})
	}
}

func TestSend_PickupDirectory(t *testing.T) {
	dir := t.TempDir()
	p := pickupProvider(t, dir)

	msg, err := core.Compose().From("a@x.com").To("b@x.com").WithSubject("s").WithPlainTextContent("hi").Build()
	require.NoError(t, err)

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "smtp", result.Provider)
	assert.NotEmpty(t, result.MessageID)

	files := emlFiles(t, dir)
	require.Len(t, files, 1)
	assert.Equal(t, files[0], result.RawResponse)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "Subject: s")
	assert.Contains(t, string(data), "hi")
}

func TestSend_EdpDataOverridesServer(t *testing.T) {
	dialer := &countingDialer{}
	p, err := NewProvider(Options{Server: &ServerOptions{Host: "127.0.0.1", Port: 1}}, WithDialer(dialer))
	require.NoError(t, err)

	dir := t.TempDir()
	msg, err := core.Compose().
		From("a@x.com").
		To("b@x.com").
		PassEdpData(core.EdpData{Key: EdpDataServerOptions, Value: &ServerOptions{
			DeliveryMethod:  DeliveryPickupDirectory,
			PickupDirectory: dir,
		}}).
		Build()
	require.NoError(t, err)

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, emlFiles(t, dir), 1)
	assert.Zero(t, dialer.calls.Load())
}

func TestSend_InvalidEdpData(t *testing.T) {
	p := pickupProvider(t, t.TempDir())

	tests := []struct {
		name  string
		value any
	}{
		{"wrong type", "not options"},
		{"invalid override", ServerOptions{Port: 25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := core.Compose().
				From("a@x.com").
				To("b@x.com").
				PassEdpData(core.EdpData{Key: EdpDataServerOptions, Value: tt.value}).
				Build()
			require.NoError(t, err)

			result, err := p.Send(context.Background(), msg)
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, core.ErrorKindInvalidMessage, result.Error.Kind)
		})
	}
}

func TestSend_Attachments(t *testing.T) {
	dir := t.TempDir()
	p := pickupProvider(t, dir)

	filePath := filepath.Join(t.TempDir(), "invoice.pdf")
	require.NoError(t, os.WriteFile(filePath, []byte("%PDF-1.4"), 0o600))

	msg, err := core.Compose().
		From("a@x.com").
		To("b@x.com").
		WithSubject("with files").
		WithPlainTextContent("see attached").
		IncludeAttachment(core.NewBase64Attachment("hello.txt", base64.StdEncoding.EncodeToString([]byte("hello")))).
		IncludeAttachment(core.NewFilePathAttachment(filePath)).
		Build()
	require.NoError(t, err)

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, result.Success)

	files := emlFiles(t, dir)
	require.Len(t, files, 1)
	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()

	mr, err := mail.CreateReader(f)
	require.NoError(t, err)

	got := map[string]string{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if h, ok := part.Header.(*mail.AttachmentHeader); ok {
			name, _ := h.Filename()
			b, _ := io.ReadAll(part.Body)
			got[name] = string(b)
		}
	}

	assert.Equal(t, map[string]string{"hello.txt": "hello", "invoice.pdf": "%PDF-1.4"}, got)
}

func TestCreateProviderMessage_Pure(t *testing.T) {
	dir := t.TempDir()
	dialer := &countingDialer{}
	p, err := NewProvider(Options{Server: &ServerOptions{
		DeliveryMethod:  DeliveryPickupDirectory,
		PickupDirectory: dir,
	}}, WithDialer(dialer))
	require.NoError(t, err)

	msg, err := core.Compose().
		From("a@x.com", "Sender").
		To("b@x.com").
		Cc("c@x.com").
		Bcc("d@x.com").
		WithSubject("s").
		WithHTMLContent("<p>hi</p>").
		WithHeader("X-Tag", "1").
		IncludeAttachment(core.NewBytesAttachment("a.bin", []byte{0, 1})).
		Build()
	require.NoError(t, err)

	first, err := p.CreateProviderMessage(msg)
	require.NoError(t, err)
	second, err := p.CreateProviderMessage(msg)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "a@x.com", first.From)
	assert.Equal(t, []string{"b@x.com", "c@x.com", "d@x.com"}, first.Recipients)
	assert.Empty(t, emlFiles(t, dir))
	assert.Zero(t, dialer.calls.Load())
}

func TestSend_ProgrammerErrors(t *testing.T) {
	p := pickupProvider(t, t.TempDir())

	_, err := p.Send(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrNilMessage)

	_, err = p.CreateProviderMessage(nil)
	assert.ErrorIs(t, err, core.ErrNilMessage)

	msg, err := core.Compose().From("a@x.com").To("b@x.com").Build()
	require.NoError(t, err)

	var zero Provider
	_, err = zero.Send(context.Background(), msg)
	assert.ErrorIs(t, err, core.ErrProviderNotConfigured)
	_, err = zero.SendMultiple(context.Background(), []*core.Message{msg})
	assert.ErrorIs(t, err, core.ErrProviderNotConfigured)
}

func TestSend_MissingSender(t *testing.T) {
	p := pickupProvider(t, t.TempDir())

	msg, err := core.Compose().To("b@x.com").Build()
	require.NoError(t, err)

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, core.ErrorKindInvalidMessage, result.Error.Kind)
}

func TestSend_Network(t *testing.T) {
	server := startFakeServer(t, "")
	p, err := NewProvider(Options{Server: &ServerOptions{Host: "127.0.0.1", Port: server.port()}})
	require.NoError(t, err)

	msg, err := core.Compose().From("a@x.com").To("b@x.com").WithSubject("over the wire").WithPlainTextContent("hi").Build()
	require.NoError(t, err)

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, result.Success, "%v", result.Error)
	assert.NotEmpty(t, result.MessageID)

	received := server.received()
	require.Len(t, received, 1)
	assert.Contains(t, received[0], "Subject: over the wire")
}

func TestSend_CredentialsWithoutAuthSupport(t *testing.T) {
	server := startFakeServer(t, "")
	p, err := NewProvider(Options{Server: &ServerOptions{
		Host:     "127.0.0.1",
		Port:     server.port(),
		Username: "user",
		Password: "secret",
	}})
	require.NoError(t, err)

	msg, err := core.Compose().From("a@x.com").To("b@x.com").WithSubject("secret").Build()
	require.NoError(t, err)

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, core.ErrorKindAuthFailed, result.Error.Kind)
	assert.Empty(t, server.received())
}

func TestSendMultiple_IsolatesFailures(t *testing.T) {
	server := startFakeServer(t, "bad@x.com")
	p, err := NewProvider(Options{Server: &ServerOptions{Host: "127.0.0.1", Port: server.port()}}, WithConcurrency(2))
	require.NoError(t, err)

	var msgs []*core.Message
	for _, to := range []string{"one@x.com", "bad@x.com", "three@x.com"} {
		msg, err := core.Compose().From("a@x.com").To(to).WithSubject(to).Build()
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}

	results, err := p.SendMultiple(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, core.ErrorKindRejected, results[1].Error.Kind)
	assert.Equal(t, 550, results[1].Error.StatusCode)
	assert.True(t, results[2].Success)
	assert.Len(t, server.received(), 2)
}

func TestSendMultiple_MissingAttachment(t *testing.T) {
	dir := t.TempDir()
	p := pickupProvider(t, dir)

	var msgs []*core.Message
	for i := 0; i < 3; i++ {
		c := core.Compose().From("a@x.com").To("b@x.com")
		if i == 1 {
			c.IncludeAttachment(core.NewFilePathAttachment(filepath.Join(dir, "missing.pdf")))
		}
		msg, err := c.Build()
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}

	results, err := p.SendMultiple(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.Equal(t, core.ErrorKindInvalidMessage, results[1].Error.Kind)
	assert.True(t, results[2].Success)
	assert.Len(t, emlFiles(t, dir), 2)
}

func TestSend_DialFailure(t *testing.T) {
	dialer := &countingDialer{err: errors.New("connection refused")}
	p, err := NewProvider(Options{Server: &ServerOptions{Host: "mail.example.com", Port: 25}}, WithDialer(dialer))
	require.NoError(t, err)

	msg, err := core.Compose().From("a@x.com").To("b@x.com").Build()
	require.NoError(t, err)

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, core.ErrorKindTransport, result.Error.Kind)
	assert.Equal(t, int32(1), dialer.calls.Load())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err      error
		wantKind core.ErrorKind
		wantCode int
	}{
		{&textproto.Error{Code: 535, Msg: "bad credentials"}, core.ErrorKindAuthFailed, 535},
		{&textproto.Error{Code: 550, Msg: "no such user"}, core.ErrorKindRejected, 550},
		{&textproto.Error{Code: 421, Msg: "try later"}, core.ErrorKindTransport, 421},
		{context.DeadlineExceeded, core.ErrorKindTimeout, 0},
		{errAuthNotOffered, core.ErrorKindAuthFailed, 0},
		{errors.New("eof"), core.ErrorKindTransport, 0},
	}

	for _, tt := range tests {
		kind, code := classify(tt.err)
		assert.Equal(t, tt.wantKind, kind, tt.err.Error())
		assert.Equal(t, tt.wantCode, code)
	}
}
