// Package mimemsg projects a core.Message onto an RFC 5322 document and
// renders it with go-message. SMTP and SES raw sends share it.
package mimemsg

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/lattiq/emailnet/internal/core"
)

// Body is a text part.
type Body struct {
	Content string
	Charset string
}

// Document is the deterministic MIME projection of a message. Date and
// Message-ID are added only when rendering.
type Document struct {
	From        *mail.Address
	To          []*mail.Address
	Cc          []*mail.Address
	ReplyTo     []*mail.Address
	Subject     string
	Headers     []core.HeaderField
	Text        *Body
	HTML        *Body
	Attachments []core.ResolvedAttachment
}

// FromMessage builds a Document from msg, reading attachment content.
// Bcc recipients are left out of the document; they only belong in the envelope.
func FromMessage(msg *core.Message) (*Document, error) {
	attachments, err := core.ResolveAttachments(msg)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		To:          convert(msg.To()),
		Cc:          convert(msg.Cc()),
		ReplyTo:     convert(msg.ReplyTo()),
		Subject:     msg.Subject(),
		Attachments: attachments,
	}

	if from := msg.From(); !from.IsZero() {
		doc.From = &mail.Address{Name: from.Name(), Address: from.Email()}
	}

	doc.Headers = append(doc.Headers, core.PriorityHeaders(msg.Priority())...)
	doc.Headers = append(doc.Headers, core.SortedHeaders(msg)...)

	if b := msg.PlainTextBody(); b != nil {
		doc.Text = &Body{Content: b.Content, Charset: b.Charset}
	}
	if b := msg.HTMLBody(); b != nil {
		doc.HTML = &Body{Content: b.Content, Charset: b.Charset}
	}

	return doc, nil
}

// Header builds the top-level header without Date or Message-ID.
func (d *Document) Header() mail.Header {
	var h mail.Header
	if d.From != nil {
		h.SetAddressList("From", []*mail.Address{d.From})
	}
	h.SetAddressList("To", d.To)
	if len(d.Cc) > 0 {
		h.SetAddressList("Cc", d.Cc)
	}
	if len(d.ReplyTo) > 0 {
		h.SetAddressList("Reply-To", d.ReplyTo)
	}
	h.SetSubject(d.Subject)
	for _, f := range d.Headers {
		h.Set(f.Name, f.Value)
	}
	return h
}

// Render writes the document to w, adding Date and a generated Message-ID when
// the custom headers do not carry them. It returns the Message-ID.
func (d *Document) Render(w io.Writer) (string, error) {
	h := d.Header()
	if !h.Has("Date") {
		h.SetDate(time.Now())
	}

	messageID, err := h.MessageID()
	if err != nil || messageID == "" {
		messageID = uuid.NewString() + "@" + d.domain()
		h.SetMessageID(messageID)
	}

	if len(d.Attachments) == 0 {
		if err := d.writeBodies(w, h); err != nil {
			return "", err
		}
		return messageID, nil
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return "", fmt.Errorf("create mime writer: %w", err)
	}

	if d.Text != nil || d.HTML != nil {
		iw, err := mw.CreateInline()
		if err != nil {
			return "", fmt.Errorf("create inline part: %w", err)
		}
		if err := writeParts(iw, d.Text, d.HTML); err != nil {
			return "", err
		}
		if err := iw.Close(); err != nil {
			return "", err
		}
	}

	for _, att := range d.Attachments {
		var ah mail.AttachmentHeader
		ah.SetContentType(att.ContentType, nil)
		ah.SetFilename(att.FileName)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return "", fmt.Errorf("create attachment %s: %w", att.FileName, err)
		}
		if _, err := aw.Write(att.Data); err != nil {
			return "", fmt.Errorf("write attachment %s: %w", att.FileName, err)
		}
		if err := aw.Close(); err != nil {
			return "", err
		}
	}

	if err := mw.Close(); err != nil {
		return "", err
	}
	return messageID, nil
}

// writeBodies writes a message without attachments.
func (d *Document) writeBodies(w io.Writer, h mail.Header) error {
	if d.Text != nil && d.HTML != nil {
		iw, err := mail.CreateInlineWriter(w, h)
		if err != nil {
			return fmt.Errorf("create inline writer: %w", err)
		}
		if err := writeParts(iw, d.Text, d.HTML); err != nil {
			return err
		}
		return iw.Close()
	}

	body, mediaType := d.Text, "text/plain"
	if body == nil && d.HTML != nil {
		body, mediaType = d.HTML, "text/html"
	}
	if body == nil {
		body = &Body{Charset: core.DefaultCharset}
	}

	h.SetContentType(mediaType, map[string]string{"charset": charset(body)})
	bw, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return fmt.Errorf("create body writer: %w", err)
	}
	if _, err := io.WriteString(bw, body.Content); err != nil {
		return err
	}
	return bw.Close()
}

func writeParts(iw *mail.InlineWriter, text, html *Body) error {
	parts := []struct {
		body      *Body
		mediaType string
	}{
		{text, "text/plain"},
		{html, "text/html"},
	}

	for _, p := range parts {
		if p.body == nil {
			continue
		}
		var ih mail.InlineHeader
		ih.SetContentType(p.mediaType, map[string]string{"charset": charset(p.body)})
		pw, err := iw.CreatePart(ih)
		if err != nil {
			return fmt.Errorf("create %s part: %w", p.mediaType, err)
		}
		if _, err := io.WriteString(pw, p.body.Content); err != nil {
			return err
		}
		if err := pw.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) domain() string {
	if d.From != nil {
		if at := strings.LastIndex(d.From.Address, "@"); at >= 0 {
			return d.From.Address[at+1:]
		}
	}
	return "localhost"
}

func charset(b *Body) string {
	if b.Charset == "" {
		return core.DefaultCharset
	}
	return b.Charset
}

func convert(addrs []core.Address) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &mail.Address{Name: a.Name(), Address: a.Email()})
	}
	return out
}
