// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/shineum/postmark-lite/email"
)

const separator = "========================================\n"

// Provider prints email messages in a human-readable format. It is the
// dry-run backend: nothing leaves the machine.
type Provider struct {
	sender email.Address
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New(sender email.Address) *Provider {
	return &Provider{sender: sender, writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(sender email.Address, w io.Writer) *Provider {
	return &Provider{sender: sender, writer: w}
}

// Send prints the message and returns a locally generated message ID.
func (p *Provider) Send(_ context.Context, msg *email.OutboundBody) (string, error) {
	id := uuid.NewString()

	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "Message-ID: %s\n", id)
	fmt.Fprintf(&b, "From: %s\n", p.sender)
	fmt.Fprintf(&b, "To: %s\n", msg.To())

	if cc := msg.Cc(); len(cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", joinAddresses(cc))
	}
	if bcc := msg.Bcc(); len(bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", joinAddresses(bcc))
	}
	if replyTo, ok := msg.ReplyTo(); ok {
		fmt.Fprintf(&b, "Reply-To: %s\n", replyTo)
	}

	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject())

	if msg.Tag() != "" {
		fmt.Fprintf(&b, "Tag: %s\n", msg.Tag())
	}
	if md := msg.Metadata(); md != nil {
		fmt.Fprintf(&b, "Metadata: %s\n", md)
	}
	fmt.Fprintf(&b, "Tracking: opens=%t links=%s\n", msg.TrackOpens(), msg.TrackLinks())

	b.WriteString("Body:\n")

	body := msg.TextBody()
	if body == "" {
		body = msg.HTMLBody()
	}
	b.WriteString(body + "\n")

	if atts := msg.Attachments(); len(atts) > 0 {
		names := make([]string, 0, len(atts))
		for _, att := range atts {
			names = append(names, fmt.Sprintf("%s (%s)", att.Name(), formatSize(att.Size())))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(names, ", "))
	}

	b.WriteString(separator)

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return "", fmt.Errorf("failed to write message: %w", err)
	}

	return id, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

func joinAddresses(addrs []email.Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
