package core

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachment_Content(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("pdf data"), 0o600))

	fileAtt := NewFilePathAttachment(path)
	assert.Equal(t, "report.pdf", fileAtt.FileName())
	assert.Equal(t, "application/pdf", fileAtt.ContentType())
	data, err := fileAtt.Content()
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf data"), data)

	b64 := NewBase64Attachment("note.txt", base64.StdEncoding.EncodeToString([]byte("hello")))
	assert.Equal(t, "text/plain", b64.ContentType())
	data, err = b64.Content()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	raw := []byte{1, 2, 3}
	bytesAtt := NewBytesAttachment("blob", raw, WithContentType("application/x-custom"), WithFileName("blob.bin"))
	raw[0] = 9
	assert.Equal(t, "blob.bin", bytesAtt.FileName())
	assert.Equal(t, "application/x-custom", bytesAtt.ContentType())
	data, err = bytesAtt.Content()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestAttachment_ContentErrors(t *testing.T) {
	_, err := NewFilePathAttachment(filepath.Join(t.TempDir(), "missing.txt")).Content()
	assert.Error(t, err)

	_, err = NewBase64Attachment("bad.bin", "%%%").Content()
	assert.Error(t, err)
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "image/png", DetectContentType("logo.PNG", ""))
	assert.Equal(t, "application/octet-stream", DetectContentType("archive.tar.xz", ""))
	assert.Equal(t, "text/calendar", DetectContentType("invite.ics", "text/calendar"))
}
