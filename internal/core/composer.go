package core

import (
	"maps"
	"slices"
	"strings"
)

// MessageComposer accumulates message fields through chained calls and
// produces a Message with Build. A composer is meant for a single message.
//
// Address parsing errors do not break the chain; the first one is reported by Build.
type MessageComposer struct {
	subject        string
	plainText      *MessageBody
	html           *MessageBody
	lastBody       *MessageBody
	pendingCharset string
	from           Address
	to             addressSet
	cc             addressSet
	bcc            addressSet
	replyTo        addressSet
	attachments    []Attachment
	headers        map[string]string
	priority       Priority
	edpData        []EdpData
	err            error
}

// From sets the sender.
func (c *MessageComposer) From(address string, displayName ...string) *MessageComposer {
	if addr, ok := c.parse(address, displayName); ok {
		c.from = addr
	}
	return c
}

// To adds a primary recipient.
func (c *MessageComposer) To(address string, displayName ...string) *MessageComposer {
	if addr, ok := c.parse(address, displayName); ok {
		c.to = c.to.add(addr)
	}
	return c
}

// Cc adds a carbon copy recipient.
func (c *MessageComposer) Cc(address string, displayName ...string) *MessageComposer {
	if addr, ok := c.parse(address, displayName); ok {
		c.cc = c.cc.add(addr)
	}
	return c
}

// Bcc adds a blind carbon copy recipient.
func (c *MessageComposer) Bcc(address string, displayName ...string) *MessageComposer {
	if addr, ok := c.parse(address, displayName); ok {
		c.bcc = c.bcc.add(addr)
	}
	return c
}

// ReplyTo adds a reply-to address.
func (c *MessageComposer) ReplyTo(address string, displayName ...string) *MessageComposer {
	if addr, ok := c.parse(address, displayName); ok {
		c.replyTo = c.replyTo.add(addr)
	}
	return c
}

// WithSubject sets the subject.
func (c *MessageComposer) WithSubject(subject string) *MessageComposer {
	c.subject = subject
	return c
}

// WithPlainTextContent sets the plain-text body.
func (c *MessageComposer) WithPlainTextContent(content string) *MessageComposer {
	c.plainText = &MessageBody{Content: content, Charset: c.charset()}
	c.lastBody = c.plainText
	return c
}

// WithHTMLContent sets the HTML body.
func (c *MessageComposer) WithHTMLContent(content string) *MessageComposer {
	c.html = &MessageBody{Content: content, Charset: c.charset()}
	c.lastBody = c.html
	return c
}

// SetCharsetTo sets the charset of the most recently set body. Called before
// any body is set, it applies to both bodies once they are set.
func (c *MessageComposer) SetCharsetTo(charset string) *MessageComposer {
	if c.lastBody != nil {
		c.lastBody.Charset = charset
		return c
	}
	c.pendingCharset = charset
	return c
}

// WithHeader adds a custom header. The last value for a key wins.
func (c *MessageComposer) WithHeader(key, value string) *MessageComposer {
	if c.headers == nil {
		c.headers = make(map[string]string)
	}
	c.headers[key] = value
	return c
}

// WithPriority sets the message priority.
func (c *MessageComposer) WithPriority(priority Priority) *MessageComposer {
	c.priority = priority
	return c
}

// IncludeAttachment adds an attachment. Nil attachments are ignored.
func (c *MessageComposer) IncludeAttachment(attachment Attachment) *MessageComposer {
	if attachment != nil {
		c.attachments = append(c.attachments, attachment)
	}
	return c
}

// PassEdpData adds provider-specific data.
func (c *MessageComposer) PassEdpData(data EdpData) *MessageComposer {
	c.edpData = append(c.edpData, data)
	return c
}

// Build validates the accumulated fields and returns the message.
// It fails with the first address parsing error, or with
// MissingRecipientError when no To recipient was added.
func (c *MessageComposer) Build() (*Message, error) {
	if c.err != nil {
		return nil, c.err
	}
	if len(c.to) == 0 {
		return nil, &MissingRecipientError{}
	}

	headers := maps.Clone(c.headers)
	if headers == nil {
		headers = make(map[string]string)
	}

	return &Message{
		subject:     c.subject,
		plainText:   cloneBody(c.plainText),
		html:        cloneBody(c.html),
		from:        c.from,
		to:          slices.Clone(c.to),
		cc:          slices.Clone(c.cc),
		bcc:         slices.Clone(c.bcc),
		replyTo:     slices.Clone(c.replyTo),
		attachments: slices.Clone(c.attachments),
		headers:     headers,
		priority:    c.priority,
		edpData:     slices.Clone(c.edpData),
	}, nil
}

func (c *MessageComposer) charset() string {
	if c.pendingCharset != "" {
		return c.pendingCharset
	}
	return DefaultCharset
}

func (c *MessageComposer) parse(address string, displayName []string) (Address, bool) {
	addr, err := ParseAddress(strings.TrimSpace(address), displayName...)
	if err != nil {
		if c.err == nil {
			c.err = err
		}
		return Address{}, false
	}
	return addr, true
}
