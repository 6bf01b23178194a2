package email

import (
	"errors"
	"fmt"
)

// Validation sentinels. They are always wrapped in a *ValidationError, so
// match them with errors.Is.
var (
	ErrInvalidAddress     = errors.New("invalid email address")
	ErrMissingBody        = errors.New("html body or text body is required")
	ErrTooManyAttachments = errors.New("too many attachments")
	ErrTooManyRecipients  = errors.New("too many recipients")
	ErrMessageTooLarge    = errors.New("message exceeds maximum size")
	ErrInvalidMetadata    = errors.New("metadata must be a JSON object")
	ErrEmptyTag           = errors.New("tag must not be empty")
	ErrTagTooLong         = errors.New("tag is too long")
	ErrInvalidTrackLinks  = errors.New("invalid track links value")
	ErrBuilderUsed        = errors.New("builder already built")
)

// Attachment sentinels, wrapped in an *AttachmentError.
var (
	ErrAttachmentNotFound = errors.New("attachment file not found")
	ErrAttachmentEmpty    = errors.New("attachment content is empty")
	ErrAttachmentTooLarge = errors.New("attachment exceeds maximum size")
	ErrAttachmentName     = errors.New("invalid attachment name")
)

// ValidationError reports a message field that failed validation. It is
// raised before any network call and is never worth retrying.
type ValidationError struct {
	Field  string
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Field, e.Err, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error, format string, args ...any) *ValidationError {
	return &ValidationError{
		Field:  field,
		Detail: fmt.Sprintf(format, args...),
		Err:    err,
	}
}

// AttachmentError reports an attachment that could not be loaded or encoded.
type AttachmentError struct {
	Name string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %q: %v", e.Name, e.Err)
}

func (e *AttachmentError) Unwrap() error {
	return e.Err
}
