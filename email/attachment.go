package email

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// MaxAttachmentSize is the largest attachment accepted, measured before
// base64 encoding (10 MiB).
const MaxAttachmentSize = 10 * 1024 * 1024

const defaultContentType = "application/octet-stream"

// Attachment is a file payload carried by an OutboundBody. Content is held
// base64 encoded, ready for the wire.
type Attachment struct {
	name        string
	contentType string
	content     string
	contentID   string
	size        int
}

// NewAttachment builds an attachment from in-memory content. An empty
// contentType is inferred from the extension of name.
func NewAttachment(name, contentType string, data []byte) (Attachment, error) {
	if name == "" {
		return Attachment{}, &AttachmentError{Name: name, Err: ErrAttachmentName}
	}
	if len(data) == 0 {
		return Attachment{}, &AttachmentError{Name: name, Err: ErrAttachmentEmpty}
	}
	if len(data) > MaxAttachmentSize {
		return Attachment{}, &AttachmentError{
			Name: name,
			Err:  fmt.Errorf("%w: %d bytes, max %d", ErrAttachmentTooLarge, len(data), MaxAttachmentSize),
		}
	}

	if contentType == "" {
		contentType = contentTypeFor(name)
	}

	return Attachment{
		name:        name,
		contentType: contentType,
		content:     base64.StdEncoding.EncodeToString(data),
		size:        len(data),
	}, nil
}

// AttachmentFromFile reads path and builds an attachment named name. When
// name is empty the file's base name is used.
func AttachmentFromFile(name, path string) (Attachment, error) {
	if name == "" {
		name = filepath.Base(path)
	}
	if strings.ContainsAny(name, `/\`) {
		return Attachment{}, &AttachmentError{
			Name: name,
			Err:  fmt.Errorf("%w: must not contain path separators", ErrAttachmentName),
		}
	}

	// Stat first so an oversized file is never read into memory.
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Attachment{}, &AttachmentError{Name: name, Err: fmt.Errorf("%w: %s", ErrAttachmentNotFound, path)}
		}
		return Attachment{}, &AttachmentError{Name: name, Err: fmt.Errorf("failed to stat attachment: %w", err)}
	}
	if info.IsDir() {
		return Attachment{}, &AttachmentError{Name: name, Err: fmt.Errorf("%w: %s is a directory", ErrAttachmentNotFound, path)}
	}
	if info.Size() > MaxAttachmentSize {
		return Attachment{}, &AttachmentError{
			Name: name,
			Err:  fmt.Errorf("%w: %d bytes, max %d", ErrAttachmentTooLarge, info.Size(), MaxAttachmentSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, &AttachmentError{Name: name, Err: fmt.Errorf("failed to read attachment: %w", err)}
	}

	return NewAttachment(name, "", data)
}

// WithContentID returns a copy of a referenced from HTML bodies as
// "cid:<id>" for inline images.
func (a Attachment) WithContentID(id string) Attachment {
	a.contentID = id
	return a
}

// Name returns the display name of the attachment.
func (a Attachment) Name() string { return a.name }

// ContentType returns the MIME type of the attachment.
func (a Attachment) ContentType() string { return a.contentType }

// Content returns the base64 encoded payload.
func (a Attachment) Content() string { return a.content }

// ContentID returns the inline content id, empty for regular attachments.
func (a Attachment) ContentID() string { return a.contentID }

// Size returns the payload size in bytes before encoding.
func (a Attachment) Size() int { return a.size }

// Decode returns the raw payload bytes.
func (a Attachment) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.content)
}

// contentTypeFor infers a MIME type from the extension of name.
func contentTypeFor(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return defaultContentType
	}
	if ct := mime.TypeByExtension(strings.ToLower(ext)); ct != "" {
		return ct
	}
	return defaultContentType
}
