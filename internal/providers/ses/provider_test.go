package ses

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiq/emailnet/internal/core"
)

type fakeSES struct {
	mu     sync.Mutex
	simple []*ses.SendEmailInput
	raw    []*ses.SendRawEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.simple = append(f.simple, in)
	return &ses.SendEmailOutput{MessageId: aws.String("simple-id")}, nil
}

func (f *fakeSES) SendRawEmail(_ context.Context, in *ses.SendRawEmailInput, _ ...func(*ses.Options)) (*ses.SendRawEmailOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.raw = append(f.raw, in)
	return &ses.SendRawEmailOutput{MessageId: aws.String("raw-id")}, nil
}

func newTestProvider(t *testing.T, api API) *Provider {
	t.Helper()
	p, err := NewProvider(Options{Region: "us-east-1", ConfigurationSet: "default-set"}, WithClient(api))
	require.NoError(t, err)
	return p
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantField string
	}{
		{"missing region", Options{}, "Region"},
		{"access key without secret", Options{Region: "eu-west-1", AccessKeyID: "AKIA"}, "SecretAccessKey"},
		{"valid", Options{Region: "eu-west-1"}, ""},
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
		})
	}
}

func TestNewProvider_StaticCredentials(t *testing.T) {
	p, err := NewProvider(Options{
		Region:          "us-east-1",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		Endpoint:        "http://localhost:4566",
	})
	require.NoError(t, err)
	assert.NotNil(t, p.client)
	assert.Equal(t, "ses", p.Name())
}

func TestCreateProviderMessage_Simple(t *testing.T) {
	p := newTestProvider(t, &fakeSES{})

	msg, err := core.Compose().
		From("from@example.com", "Sender").
		To("to@example.com").
		Cc("cc@example.com").
		Bcc("bcc@example.com").
		ReplyTo("reply@example.com").
		WithSubject("hello").
		WithPlainTextContent("plain").
		WithHTMLContent("<p>html</p>").
		PassEdpData(core.EdpData{Key: EdpDataTags, Value: map[string]string{"b": "2", "a": "1"}}).
		Build()
	require.NoError(t, err)

	req, err := p.CreateProviderMessage(msg)
	require.NoError(t, err)
	require.NotNil(t, req.Simple)
	assert.Nil(t, req.Raw)

	in := req.Simple
	assert.Equal(t, "Sender <from@example.com>", aws.ToString(in.Source))
	assert.Equal(t, []string{"to@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, []string{"cc@example.com"}, in.Destination.CcAddresses)
	assert.Equal(t, []string{"bcc@example.com"}, in.Destination.BccAddresses)
	assert.Equal(t, []string{"reply@example.com"}, in.ReplyToAddresses)
	assert.Equal(t, "plain", aws.ToString(in.Message.Body.Text.Data))
	assert.Equal(t, "<p>html</p>", aws.ToString(in.Message.Body.Html.Data))
	assert.Equal(t, "default-set", aws.ToString(in.ConfigurationSetName))
	require.Len(t, in.Tags, 2)
	assert.Equal(t, "a", aws.ToString(in.Tags[0].Name))
	assert.Equal(t, "b", aws.ToString(in.Tags[1].Name))

	again, err := p.CreateProviderMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, req, again)
}

func TestSend_Raw(t *testing.T) {
	api := &fakeSES{}
	p := newTestProvider(t, api)

	msg, err := core.Compose().
		From("from@example.com").
		To("to@example.com").
		Bcc("bcc@example.com").
		WithSubject("with attachment").
		WithPlainTextContent("see attached").
		IncludeAttachment(core.NewBytesAttachment("a.txt", []byte("hello"))).
		PassEdpData(core.EdpData{Key: EdpDataConfigurationSet, Value: "override-set"}).
		Build()
	require.NoError(t, err)

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "raw-id", result.MessageID)

	require.Len(t, api.raw, 1)
	in := api.raw[0]
	assert.Equal(t, []string{"to@example.com", "bcc@example.com"}, in.Destinations)
	assert.Equal(t, "override-set", aws.ToString(in.ConfigurationSetName))
	data := string(in.RawMessage.Data)
	assert.Contains(t, data, "Subject: with attachment")
	assert.Contains(t, data, "a.txt")
	assert.False(t, strings.Contains(data, "bcc@example.com"))
}

func TestSend_Simple(t *testing.T) {
	api := &fakeSES{}
	p := newTestProvider(t, api)

	msg, err := core.Compose().From("from@example.com").To("to@example.com").WithPlainTextContent("hi").Build()
	require.NoError(t, err)

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "simple-id", result.MessageID)
	assert.Len(t, api.simple, 1)
}

func TestSend_Failures(t *testing.T) {
	msg, err := core.Compose().From("from@example.com").To("to@example.com").WithPlainTextContent("hi").Build()
	require.NoError(t, err)

	t.Run("message rejected", func(t *testing.T) {
		p := newTestProvider(t, &fakeSES{err: &types.MessageRejected{Message: aws.String("Email address is not verified")}})
		result, err := p.Send(context.Background(), msg)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, core.ErrorKindRejected, result.Error.Kind)
	})

	t.Run("deadline", func(t *testing.T) {
		p := newTestProvider(t, &fakeSES{err: context.DeadlineExceeded})
		result, err := p.Send(context.Background(), msg)
		require.NoError(t, err)
		assert.Equal(t, core.ErrorKindTimeout, result.Error.Kind)
	})

	t.Run("other", func(t *testing.T) {
		p := newTestProvider(t, &fakeSES{err: errors.New("connection reset")})
		result, err := p.Send(context.Background(), msg)
		require.NoError(t, err)
		assert.Equal(t, core.ErrorKindTransport, result.Error.Kind)
	})
}

func TestSendMultiple_InvalidEdpData(t *testing.T) {
	api := &fakeSES{}
	p := newTestProvider(t, api)

	good, err := core.Compose().From("from@example.com").To("to@example.com").WithPlainTextContent("hi").Build()
	require.NoError(t, err)
	bad, err := core.Compose().
		From("from@example.com").
		To("to@example.com").
		PassEdpData(core.EdpData{Key: EdpDataTags, Value: []string{"not", "a", "map"}}).
		Build()
	require.NoError(t, err)

	results, err := p.SendMultiple(context.Background(), []*core.Message{good, bad})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, core.ErrorKindInvalidMessage, results[1].Error.Kind)
	assert.ErrorIs(t, results[1].Error, core.ErrInvalidEdpData)
}

func TestSend_ProgrammerErrors(t *testing.T) {
	var zero Provider
	_, err := zero.Send(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrProviderNotConfigured)

	p := newTestProvider(t, &fakeSES{})
	_, err = p.Send(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrNilMessage)
}
