package mailgun

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiq/emailnet/internal/core"
)

type fakeAPI struct {
	mu       sync.Mutex
	paths    []string
	forms    []url.Values
	mime     []string
	status   int
	username string
	password string
}

func startFakeAPI(t *testing.T, status int) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") && !strings.HasSuffix(r.URL.Path, "/messages.mime") {
			http.NotFound(w, r)
			return
		}
		_ = r.FormValue("to")

		api.mu.Lock()
		api.paths = append(api.paths, r.URL.Path)
		api.forms = append(api.forms, r.Form)
		if r.MultipartForm != nil {
			for _, fh := range r.MultipartForm.File["message"] {
				f, err := fh.Open()
				if err == nil {
					data, _ := io.ReadAll(f)
					f.Close()
					api.mime = append(api.mime, string(data))
				}
			}
		}
		api.username, api.password, _ = r.BasicAuth()
		api.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(api.status)
		if api.status == http.StatusOK {
			_, _ = w.Write([]byte(`{"id":"<20240101.1@mg.example.com>","message":"Queued. Thank you."}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"rejected"}`))
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func testMessage(t *testing.T, configure ...func(*core.MessageComposer)) *core.Message {
	t.Helper()
	c := core.Compose().
		From("from@example.com").
		To("one@example.com").
		To("two@example.com").
		Cc("cc@example.com").
		WithSubject("hello").
		WithPlainTextContent("plain").
		WithHTMLContent("<p>html</p>").
		WithPriority(core.PriorityHigh)
	for _, fn := range configure {
		fn(c)
	}
	msg, err := c.Build()
	require.NoError(t, err)
	return msg
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantField string
	}{
		{"missing key", Options{Domain: "mg.example.com"}, "APIKey"},
		{"missing domain", Options{APIKey: "key"}, "Domain"},
		{"first failure wins", Options{}, "APIKey"},
		{"base without version", Options{APIKey: "key", Domain: "mg.example.com", BaseURL: "https://api.eu.mailgun.net"}, "BaseURL"},
		{"relative base", Options{APIKey: "key", Domain: "mg.example.com", BaseURL: "api.eu.mailgun.net/v3"}, "BaseURL"},
		{"valid", Options{APIKey: "key", Domain: "mg.example.com"}, ""},
		{"valid eu base", Options{APIKey: "key", Domain: "mg.example.com", BaseURL: "https://api.eu.mailgun.net/v3"}, ""},
		{"trailing slash", Options{APIKey: "key", Domain: "mg.example.com", BaseURL: "https://api.eu.mailgun.net/v3/"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.opts)
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

func newTestProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	p, err := NewProvider(Options{APIKey: "key", Domain: "mg.example.com", BaseURL: srv.URL + "/v3"})
	require.NoError(t, err)
	return p
}

func TestSend_Success(t *testing.T) {
	api, srv := startFakeAPI(t, http.StatusOK)
	p := newTestProvider(t, srv)

	msg := testMessage(t, func(c *core.MessageComposer) {
		c.PassEdpData(core.EdpData{Key: EdpDataTags, Value: []string{"welcome"}})
	})

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, "<20240101.1@mg.example.com>", result.MessageID)
	assert.Equal(t, "Queued. Thank you.", result.RawResponse)

	require.Len(t, api.forms, 1)
	assert.Equal(t, "/v3/mg.example.com/messages", api.paths[0])
	form := api.forms[0]
	assert.Equal(t, "hello", form.Get("subject"))
	to := strings.Join(form["to"], ",")
	assert.Contains(t, to, "one@example.com")
	assert.Contains(t, to, "two@example.com")
	assert.Equal(t, "<p>html</p>", form.Get("html"))
	assert.Equal(t, []string{"welcome"}, form["o:tag"])
	assert.Equal(t, "1", form.Get("h:X-Priority"))
	assert.Equal(t, "api", api.username)
	assert.Equal(t, "key", api.password)
}

func TestSend_AttachmentsKeepContentType(t *testing.T) {
	api, srv := startFakeAPI(t, http.StatusOK)
	p := newTestProvider(t, srv)

	msg := testMessage(t, func(c *core.MessageComposer) {
		c.Bcc("hidden@example.com")
		c.IncludeAttachment(core.NewBytesAttachment("report.dat", []byte("a,b"), core.WithContentType("text/csv")))
		c.PassEdpData(core.EdpData{Key: EdpDataTags, Value: []string{"reports"}})
	})

	native, err := p.CreateProviderMessage(msg)
	require.NoError(t, err)
	assert.Empty(t, native.BufferAttachments())

	result, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, result.Success, "%v", result.Error)

	require.Len(t, api.paths, 1)
	assert.Equal(t, "/v3/mg.example.com/messages.mime", api.paths[0])
	form := api.forms[0]
	assert.ElementsMatch(t,
		[]string{"one@example.com", "two@example.com", "cc@example.com", "hidden@example.com"}, form["to"])
	assert.Equal(t, []string{"reports"}, form["o:tag"])

	require.Len(t, api.mime, 1)
	doc := api.mime[0]
	assert.Contains(t, doc, "Subject: hello")
	assert.Contains(t, doc, "X-Priority: 1")
	assert.Contains(t, doc, "Content-Type: text/csv")
	assert.Contains(t, doc, "report.dat")
	assert.NotContains(t, doc, "hidden@example.com")
}

func TestSend_Rejected(t *testing.T) {
	_, srv := startFakeAPI(t, http.StatusBadRequest)
	p := newTestProvider(t, srv)

	result, err := p.Send(context.Background(), testMessage(t))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, core.ErrorKindRejected, result.Error.Kind)
	assert.Equal(t, http.StatusBadRequest, result.Error.StatusCode)
}

func TestSend_InvalidMessage(t *testing.T) {
	api, srv := startFakeAPI(t, http.StatusOK)
	p := newTestProvider(t, srv)

	noBody, err := core.Compose().From("from@example.com").To("to@example.com").Build()
	require.NoError(t, err)
	badTags := testMessage(t, func(c *core.MessageComposer) {
		c.PassEdpData(core.EdpData{Key: EdpDataTags, Value: "welcome"})
	})

	results, err := p.SendMultiple(context.Background(), []*core.Message{noBody, testMessage(t), badTags})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, core.ErrorKindInvalidMessage, results[0].Error.Kind)
	assert.True(t, results[1].Success)
	assert.Equal(t, core.ErrorKindInvalidMessage, results[2].Error.Kind)
	assert.Len(t, api.forms, 1)
}

func TestSend_ProgrammerErrors(t *testing.T) {
	var zero Provider
	_, err := zero.Send(context.Background(), testMessage(t))
	assert.ErrorIs(t, err, core.ErrProviderNotConfigured)

	p, err := NewProvider(Options{APIKey: "key", Domain: "mg.example.com"})
	require.NoError(t, err)
	_, err = p.Send(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrNilMessage)
	_, err = p.CreateProviderMessage(nil)
	assert.ErrorIs(t, err, core.ErrNilMessage)
}
