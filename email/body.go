// Package email holds the validated building blocks of an outbound message:
// addresses, attachments and the immutable OutboundBody produced by Builder.
package email

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/segmentio/encoding/json"
	"go.uber.org/multierr"
)

// Limits mirroring the Postmark API documentation.
const (
	MaxRecipients  = 50
	MaxAttachments = 50
	MaxMessageSize = 10 * 1024 * 1024
	MaxTagLength   = 1000
)

// OutboundBody is a single validated message. It is immutable once built;
// accessors return copies of slice fields.
type OutboundBody struct {
	to          Address
	cc          []Address
	bcc         []Address
	replyTo     *Address
	subject     string
	htmlBody    string
	textBody    string
	tag         string
	metadata    []byte
	trackOpens  bool
	trackLinks  TrackLinks
	attachments []Attachment
}

// To returns the primary recipient.
func (b *OutboundBody) To() Address { return b.to }

// Cc returns a copy of the carbon-copy recipients.
func (b *OutboundBody) Cc() []Address { return append([]Address(nil), b.cc...) }

// Bcc returns a copy of the blind carbon-copy recipients.
func (b *OutboundBody) Bcc() []Address { return append([]Address(nil), b.bcc...) }

// Subject returns the subject line, possibly empty.
func (b *OutboundBody) Subject() string { return b.subject }

// HTMLBody returns the HTML part, or "" when only text was set.
func (b *OutboundBody) HTMLBody() string { return b.htmlBody }

// TextBody returns the plain text part, or "" when only HTML was set.
func (b *OutboundBody) TextBody() string { return b.textBody }

// Tag returns the message tag, or "" when unset.
func (b *OutboundBody) Tag() string { return b.tag }

// TrackOpens reports whether open tracking is requested.
func (b *OutboundBody) TrackOpens() bool { return b.trackOpens }

// TrackLinks returns the link tracking mode. It defaults to TrackLinksNone.
func (b *OutboundBody) TrackLinks() TrackLinks { return b.trackLinks }

// ReplyTo returns the reply-to address and whether one was set.
func (b *OutboundBody) ReplyTo() (Address, bool) {
	if b.replyTo == nil {
		return Address{}, false
	}
	return *b.replyTo, true
}

// Metadata returns the metadata JSON object, or nil when unset.
func (b *OutboundBody) Metadata() []byte {
	if b.metadata == nil {
		return nil
	}
	return append([]byte(nil), b.metadata...)
}

// Attachments returns the attachments in the order they were added.
func (b *OutboundBody) Attachments() []Attachment {
	return append([]Attachment(nil), b.attachments...)
}

// RecipientCount is the number of To, Cc and Bcc addresses combined.
func (b *OutboundBody) RecipientCount() int {
	return 1 + len(b.cc) + len(b.bcc)
}

// Builder assembles an OutboundBody. The recipient is fixed by NewBuilder;
// every other field is optional. Setters validate their own input and any
// failure is reported by Build. A Builder builds exactly once.
type Builder struct {
	body  OutboundBody
	err   error
	built bool
}

// NewBuilder starts a message addressed to to.
func NewBuilder(to Address) *Builder {
	b := &Builder{
		body: OutboundBody{
			to:         to,
			trackLinks: TrackLinksNone,
		},
	}
	if to.IsZero() {
		b.err = multierr.Append(b.err, invalid("to", ErrInvalidAddress, "recipient is required"))
	}
	return b
}

// Subject sets the subject line.
func (b *Builder) Subject(s string) *Builder {
	b.body.subject = s
	return b
}

// HTMLBody sets the HTML part.
func (b *Builder) HTMLBody(s string) *Builder {
	b.body.htmlBody = s
	return b
}

// TextBody sets the plain text part.
func (b *Builder) TextBody(s string) *Builder {
	b.body.textBody = s
	return b
}

// Cc sets the carbon-copy recipients. Duplicates are dropped.
func (b *Builder) Cc(addrs ...Address) *Builder {
	b.body.cc = b.uniqueAddresses("cc", addrs)
	return b
}

// Bcc sets the blind carbon-copy recipients. Duplicates are dropped.
func (b *Builder) Bcc(addrs ...Address) *Builder {
	b.body.bcc = b.uniqueAddresses("bcc", addrs)
	return b
}

// ReplyTo sets the Reply-To address.
func (b *Builder) ReplyTo(addr Address) *Builder {
	if addr.IsZero() {
		b.err = multierr.Append(b.err, invalid("reply_to", ErrInvalidAddress, "address is empty"))
		return b
	}
	b.body.replyTo = &addr
	return b
}

// Tag sets the message tag. A tag, when set, must be non-empty.
func (b *Builder) Tag(tag string) *Builder {
	switch {
	case tag == "":
		b.err = multierr.Append(b.err, invalid("tag", ErrEmptyTag, "tag was set to an empty string"))
	case utf8.RuneCountInString(tag) > MaxTagLength:
		b.err = multierr.Append(b.err, invalid("tag", ErrTagTooLong, "max %d characters", MaxTagLength))
	default:
		b.body.tag = tag
	}
	return b
}

// Metadata attaches custom key/value data. v must encode to a JSON object,
// typically a map[string]any or a struct.
func (b *Builder) Metadata(v any) *Builder {
	data, err := json.Marshal(v)
	if err != nil {
		b.err = multierr.Append(b.err, invalid("metadata", ErrInvalidMetadata, "%v", err))
		return b
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		b.err = multierr.Append(b.err, invalid("metadata", ErrInvalidMetadata, "got %s", preview(data)))
		return b
	}

	b.body.metadata = data
	return b
}

// TrackOpens enables or disables open tracking.
func (b *Builder) TrackOpens(on bool) *Builder {
	b.body.trackOpens = on
	return b
}

// TrackLinks sets the link tracking mode. Unknown modes fail Build.
func (b *Builder) TrackLinks(t TrackLinks) *Builder {
	if !t.Valid() {
		b.err = multierr.Append(b.err, invalid("track_links", ErrInvalidTrackLinks, "%q", string(t)))
		return b
	}
	b.body.trackLinks = t
	return b
}

// Attach appends attachments in order.
func (b *Builder) Attach(atts ...Attachment) *Builder {
	for i, a := range atts {
		if a.content == "" {
			b.err = multierr.Append(b.err, &AttachmentError{
				Name: a.name,
				Err:  fmt.Errorf("%w: attachment[%d] was not constructed", ErrAttachmentEmpty, i),
			})
			continue
		}
		b.body.attachments = append(b.body.attachments, a)
	}
	return b
}

// Build checks cross-field rules and returns the finished message. Setter
// failures and cross-field failures are reported together.
func (b *Builder) Build() (*OutboundBody, error) {
	if b.built {
		return nil, invalid("builder", ErrBuilderUsed, "create a new builder per message")
	}
	b.built = true

	err := b.err
	body := b.body

	if body.htmlBody == "" && body.textBody == "" {
		err = multierr.Append(err, invalid("body", ErrMissingBody, "set HTMLBody or TextBody"))
	}

	if n := body.RecipientCount(); n > MaxRecipients {
		err = multierr.Append(err, invalid("recipients", ErrTooManyRecipients, "%d, max %d", n, MaxRecipients))
	}

	if n := len(body.attachments); n > MaxAttachments {
		err = multierr.Append(err, invalid("attachments", ErrTooManyAttachments, "%d, max %d", n, MaxAttachments))
	}

	var total int
	for _, a := range body.attachments {
		total += a.size
	}
	if total > MaxMessageSize {
		err = multierr.Append(err, invalid("attachments", ErrMessageTooLarge, "%d bytes, max %d", total, MaxMessageSize))
	}

	if err != nil {
		return nil, err
	}

	return &body, nil
}

func (b *Builder) uniqueAddresses(field string, addrs []Address) []Address {
	if len(addrs) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(addrs))
	out := make([]Address, 0, len(addrs))
	for i, a := range addrs {
		if a.IsZero() {
			b.err = multierr.Append(b.err, invalid(field, ErrInvalidAddress, "%s[%d] is empty", field, i))
			continue
		}
		if _, ok := seen[a.value]; ok {
			continue
		}
		seen[a.value] = struct{}{}
		out = append(out, a)
	}
	return out
}

// preview shortens data for error messages.
func preview(data []byte) string {
	const limit = 32
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
