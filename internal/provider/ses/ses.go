// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/postmark-lite/email"
	"github.com/shineum/postmark-lite/retry"
)

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          email.Address
	MaxRetries      int
}

// SESProvider sends emails via the AWS SES v2 API.
type SESProvider struct {
	sender email.Address
	client SendEmailAPI
	retry  retry.Policy
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	p := NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg))
	p.retry.MaxRetries = cfg.MaxRetries
	return p, nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(sender email.Address, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender: sender,
		client: client,
		retry:  retry.DefaultPolicy(),
	}
}

// Send delivers an email message via AWS SES v2 and returns the SES
// message ID. Messages with attachments are sent as raw MIME; everything
// else uses the SES simple format.
func (s *SESProvider) Send(ctx context.Context, body *email.OutboundBody) (string, error) {
	var input *sesv2.SendEmailInput

	if len(body.Attachments()) > 0 {
		raw, err := buildRawMessage(s.sender, body)
		if err != nil {
			return "", fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			Content: &types.EmailContent{
				Raw: &types.RawMessage{
					Data: raw,
				},
			},
		}
	} else {
		input = buildSimpleInput(s.sender, body)
	}

	attempts := s.retry.Attempts()

	var (
		lastErr   error
		lastDelay time.Duration
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := max(s.retry.Backoff(attempt-1), lastDelay)
			lastDelay = delay
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"max_attempts", attempts,
				"delay", delay,
			)
			if err := s.retry.Wait(ctx, delay); err != nil {
				return "", fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		out, err := s.client.SendEmail(ctx, input)
		if err == nil {
			return aws.ToString(out.MessageId), nil
		}

		lastErr = err
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
	}

	return "", fmt.Errorf("SES API request failed after %d attempts: %w", attempts, lastErr)
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

func addressStrings(addrs []email.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

// buildSimpleInput creates a SES SendEmailInput for emails without attachments.
func buildSimpleInput(sender email.Address, msg *email.OutboundBody) *sesv2.SendEmailInput {
	body := &types.Body{}

	if msg.HTMLBody() != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HTMLBody()),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.TextBody() != "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.TextBody()),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender.String()),
		Destination: &types.Destination{
			ToAddresses:  []string{msg.To().String()},
			CcAddresses:  addressStrings(msg.Cc()),
			BccAddresses: addressStrings(msg.Bcc()),
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject()),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}

	if replyTo, ok := msg.ReplyTo(); ok {
		input.ReplyToAddresses = []string{replyTo.String()}
	}

	return input
}

// buildRawMessage constructs a raw MIME message for emails with attachments.
// Bcc recipients are not written to the headers.
func buildRawMessage(sender email.Address, msg *email.OutboundBody) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", sender)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To())
	if cc := msg.Cc(); len(cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(addressStrings(cc), ", "))
	}
	if replyTo, ok := msg.ReplyTo(); ok {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", replyTo)
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject()))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	bodyHeader := make(textproto.MIMEHeader)
	if msg.HTMLBody() != "" {
		bodyHeader.Set("Content-Type", "text/html; charset=UTF-8")
		part, err := writer.CreatePart(bodyHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create body part: %w", err)
		}
		if _, err := part.Write([]byte(msg.HTMLBody())); err != nil {
			return nil, fmt.Errorf("failed to write body part: %w", err)
		}
	} else {
		bodyHeader.Set("Content-Type", "text/plain; charset=UTF-8")
		part, err := writer.CreatePart(bodyHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create body part: %w", err)
		}
		if _, err := part.Write([]byte(msg.TextBody())); err != nil {
			return nil, fmt.Errorf("failed to write body part: %w", err)
		}
	}

	for _, att := range msg.Attachments() {
		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", att.ContentType())
		attHeader.Set("Content-Transfer-Encoding", "base64")

		filename := mime.QEncoding.Encode("UTF-8", att.Name())
		if cid := att.ContentID(); cid != "" {
			attHeader.Set("Content-ID", "<"+strings.TrimPrefix(cid, "cid:")+">")
			attHeader.Set("Content-Disposition", fmt.Sprintf("inline; filename=%s", filename))
		} else {
			attHeader.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
		}

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write([]byte(wrapBase64(att.Content()))); err != nil {
			return nil, fmt.Errorf("failed to write attachment %q: %w", att.Name(), err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), nil
}

// wrapBase64 breaks base64 text into 76-character lines per RFC 2045.
func wrapBase64(encoded string) string {
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}
