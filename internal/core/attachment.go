package core

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Attachment is a file attached to a message. Content is materialized lazily,
// when a provider projects the message, so unsent attachments are never read.
type Attachment interface {
	// FileName is the name of the file as it will appear in the email.
	FileName() string

	// ContentType is the MIME type; detected from the file name when not given.
	ContentType() string

	// Content returns the attachment bytes.
	Content() ([]byte, error)
}

// AttachmentOption customizes an attachment at construction.
type AttachmentOption func(*attachmentMeta)

// WithFileName overrides the file name shown to the recipient.
func WithFileName(name string) AttachmentOption {
	return func(m *attachmentMeta) {
		m.fileName = name
	}
}

// WithContentType sets an explicit MIME type.
func WithContentType(contentType string) AttachmentOption {
	return func(m *attachmentMeta) {
		m.contentType = contentType
	}
}

type attachmentMeta struct {
	fileName    string
	contentType string
}

func newMeta(fileName string, opts []AttachmentOption) attachmentMeta {
	m := attachmentMeta{fileName: fileName}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m attachmentMeta) FileName() string {
	return m.fileName
}

func (m attachmentMeta) ContentType() string {
	return DetectContentType(m.fileName, m.contentType)
}

// FilePathAttachment reads its content from the local filesystem.
type FilePathAttachment struct {
	attachmentMeta
	path string
}

// NewFilePathAttachment creates an attachment backed by the file at path.
// The file name defaults to the base name of path.
func NewFilePathAttachment(path string, opts ...AttachmentOption) *FilePathAttachment {
	return &FilePathAttachment{
		attachmentMeta: newMeta(filepath.Base(path), opts),
		path:           path,
	}
}

// Path returns the file location.
func (a *FilePathAttachment) Path() string {
	return a.path
}

// Content reads the file.
func (a *FilePathAttachment) Content() ([]byte, error) {
	data, err := os.ReadFile(filepath.Clean(a.path))
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", a.path, err)
	}
	return data, nil
}

// Base64Attachment carries base64-encoded content.
type Base64Attachment struct {
	attachmentMeta
	encoded string
}

// NewBase64Attachment creates an attachment from a base64 string.
func NewBase64Attachment(fileName, encoded string, opts ...AttachmentOption) *Base64Attachment {
	return &Base64Attachment{
		attachmentMeta: newMeta(fileName, opts),
		encoded:        encoded,
	}
}

// Content decodes the payload.
func (a *Base64Attachment) Content() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(a.encoded))
	if err != nil {
		return nil, fmt.Errorf("decode attachment %s: %w", a.fileName, err)
	}
	return data, nil
}

// BytesAttachment carries raw bytes.
type BytesAttachment struct {
	attachmentMeta
	data []byte
}

// NewBytesAttachment creates an attachment from a byte payload. The payload is copied.
func NewBytesAttachment(fileName string, data []byte, opts ...AttachmentOption) *BytesAttachment {
	return &BytesAttachment{
		attachmentMeta: newMeta(fileName, opts),
		data:           append([]byte(nil), data...),
	}
}

// Content returns a copy of the payload.
func (a *BytesAttachment) Content() ([]byte, error) {
	return append([]byte(nil), a.data...), nil
}

// DetectContentType returns explicit when set, otherwise a MIME type guessed
// from the file name extension.
func DetectContentType(fileName, explicit string) string {
	if explicit != "" {
		return explicit
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".txt":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

// ResolvedAttachment is an attachment whose content has been read.
type ResolvedAttachment struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ResolveAttachments materializes every attachment of msg, in order.
func ResolveAttachments(msg *Message) ([]ResolvedAttachment, error) {
	if len(msg.attachments) == 0 {
		return nil, nil
	}

	out := make([]ResolvedAttachment, 0, len(msg.attachments))
	for _, att := range msg.attachments {
		data, err := att.Content()
		if err != nil {
			return nil, err
		}
		out = append(out, ResolvedAttachment{
			FileName:    att.FileName(),
			ContentType: att.ContentType(),
			Data:        data,
		})
	}
	return out, nil
}
