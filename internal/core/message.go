package core

import (
	"maps"
	"slices"
	"sync"
)

// DefaultCharset is used for bodies when no charset was set.
const DefaultCharset = "utf-8"

// Priority defines the priority level of a message.
type Priority int

const (
	// PriorityNormal is the default priority.
	PriorityNormal Priority = iota

	// PriorityLow indicates low priority email (marketing, newsletters).
	PriorityLow

	// PriorityHigh indicates high priority email (alerts, notifications).
	PriorityHigh
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// MessageBody is a body part and its character set.
type MessageBody struct {
	Content string
	Charset string
}

// EdpDataKey identifies a provider-specific EdpData payload.
// Each provider package declares the keys it understands.
type EdpDataKey string

// EdpData passes provider-specific data through a generic Message.
// Providers honor the keys they own and ignore the rest.
type EdpData struct {
	Key   EdpDataKey
	Value any
}

// Message is an immutable email description, produced by MessageComposer.
// The only field that may change after Build is an unset sender, which the
// dispatch layer fills in once from its configured default.
type Message struct {
	subject     string
	plainText   *MessageBody
	html        *MessageBody
	from        Address
	fromMu      sync.RWMutex
	to          addressSet
	cc          addressSet
	bcc         addressSet
	replyTo     addressSet
	attachments []Attachment
	headers     map[string]string
	priority    Priority
	edpData     []EdpData
}

// Compose starts composing a new message.
func Compose() *MessageComposer {
	return &MessageComposer{}
}

// Subject returns the subject, empty when none was set.
func (m *Message) Subject() string {
	return m.subject
}

// PlainTextBody returns a copy of the plain-text body, or nil.
func (m *Message) PlainTextBody() *MessageBody {
	return cloneBody(m.plainText)
}

// HTMLBody returns a copy of the HTML body, or nil.
func (m *Message) HTMLBody() *MessageBody {
	return cloneBody(m.html)
}

// From returns the sender; the zero Address when unset.
func (m *Message) From() Address {
	m.fromMu.RLock()
	defer m.fromMu.RUnlock()
	return m.from
}

// To returns the primary recipients. Never empty.
func (m *Message) To() []Address {
	return slices.Clone(m.to)
}

// Cc returns the carbon copy recipients.
func (m *Message) Cc() []Address {
	return nonNil(m.cc)
}

// Bcc returns the blind carbon copy recipients.
func (m *Message) Bcc() []Address {
	return nonNil(m.bcc)
}

// ReplyTo returns the reply-to addresses.
func (m *Message) ReplyTo() []Address {
	return nonNil(m.replyTo)
}

// Attachments returns the attachments in the order they were included.
func (m *Message) Attachments() []Attachment {
	if m.attachments == nil {
		return []Attachment{}
	}
	return slices.Clone(m.attachments)
}

// Headers returns a copy of the custom headers.
func (m *Message) Headers() map[string]string {
	return maps.Clone(m.headers)
}

// Priority returns the message priority.
func (m *Message) Priority() Priority {
	return m.priority
}

// EdpData returns the provider data entries in the order they were passed.
func (m *Message) EdpData() []EdpData {
	if m.edpData == nil {
		return []EdpData{}
	}
	return slices.Clone(m.edpData)
}

// LookupEdpData returns the value of the last entry with the given key.
func (m *Message) LookupEdpData(key EdpDataKey) (any, bool) {
	for i := len(m.edpData) - 1; i >= 0; i-- {
		if m.edpData[i].Key == key {
			return m.edpData[i].Value, true
		}
	}
	return nil, false
}

// HasAttachments returns true if the message has any attachments.
func (m *Message) HasAttachments() bool {
	return len(m.attachments) > 0
}

// AllRecipients returns To, Cc and Bcc combined.
func (m *Message) AllRecipients() []Address {
	all := make([]Address, 0, len(m.to)+len(m.cc)+len(m.bcc))
	all = append(all, m.to...)
	all = append(all, m.cc...)
	all = append(all, m.bcc...)
	return all
}

// BackfillFrom sets the sender of msg if, and only if, it is unset. A set
// sender never changes again. It reports whether the sender is set afterwards.
// Safe to call concurrently with itself and with Message.From.
func BackfillFrom(msg *Message, from Address) bool {
	msg.fromMu.Lock()
	defer msg.fromMu.Unlock()

	if msg.from.IsZero() && !from.IsZero() {
		msg.from = from
	}
	return !msg.from.IsZero()
}

func cloneBody(b *MessageBody) *MessageBody {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

func nonNil(s addressSet) []Address {
	if s == nil {
		return []Address{}
	}
	return slices.Clone(s)
}
