package postmark

import (
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/shineum/postmark-lite/email"
)

// sendEmailRequest is the JSON body of POST /email and one element of the
// POST /email/batch array.
type sendEmailRequest struct {
	From        string           `json:"From"`
	To          string           `json:"To"`
	Cc          string           `json:"Cc,omitempty"`
	Bcc         string           `json:"Bcc,omitempty"`
	ReplyTo     string           `json:"ReplyTo,omitempty"`
	Subject     string           `json:"Subject"`
	HtmlBody    string           `json:"HtmlBody,omitempty"`
	TextBody    string           `json:"TextBody,omitempty"`
	Tag         string           `json:"Tag,omitempty"`
	Metadata    json.RawMessage  `json:"Metadata,omitempty"`
	TrackOpens  bool             `json:"TrackOpens"`
	TrackLinks  string           `json:"TrackLinks"`
	Attachments []wireAttachment `json:"Attachments,omitempty"`
}

type wireAttachment struct {
	Name        string `json:"Name"`
	Content     string `json:"Content"`
	ContentType string `json:"ContentType"`
	ContentID   string `json:"ContentID,omitempty"`
}

// sendEmailResponse is returned for a single send and per element of a batch.
type sendEmailResponse struct {
	To          string `json:"To"`
	SubmittedAt string `json:"SubmittedAt"`
	MessageID   string `json:"MessageID"`
	ErrorCode   int    `json:"ErrorCode"`
	Message     string `json:"Message"`
}

// apiErrorResponse is the body Postmark sends with a non-2xx status.
type apiErrorResponse struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// SendReceipt confirms that Postmark accepted a message.
type SendReceipt struct {
	To          string
	MessageID   string
	SubmittedAt time.Time
	Message     string
}

func newSendEmailRequest(body *email.OutboundBody, from email.Address) sendEmailRequest {
	req := sendEmailRequest{
		From:       from.String(),
		To:         body.To().String(),
		Cc:         email.JoinAddresses(body.Cc()),
		Bcc:        email.JoinAddresses(body.Bcc()),
		Subject:    body.Subject(),
		HtmlBody:   body.HTMLBody(),
		TextBody:   body.TextBody(),
		Tag:        body.Tag(),
		Metadata:   body.Metadata(),
		TrackOpens: body.TrackOpens(),
		TrackLinks: body.TrackLinks().String(),
	}

	if replyTo, ok := body.ReplyTo(); ok {
		req.ReplyTo = replyTo.String()
	}

	for _, a := range body.Attachments() {
		req.Attachments = append(req.Attachments, wireAttachment{
			Name:        a.Name(),
			Content:     a.Content(),
			ContentType: a.ContentType(),
			ContentID:   a.ContentID(),
		})
	}

	return req
}

// result maps a per-message response onto a receipt or an API error.
// Postmark reports per-message failures with HTTP 200 and a non-zero code.
func (r sendEmailResponse) result(statusCode, attempts int) (*SendReceipt, error) {
	if r.ErrorCode != 0 {
		return nil, &SendError{
			Kind:       KindAPI,
			StatusCode: statusCode,
			ErrorCode:  r.ErrorCode,
			Message:    r.Message,
			Attempts:   attempts,
		}
	}

	receipt := &SendReceipt{
		To:        r.To,
		MessageID: r.MessageID,
		Message:   r.Message,
	}
	if t, err := time.Parse(time.RFC3339Nano, r.SubmittedAt); err == nil {
		receipt.SubmittedAt = t
	}
	return receipt, nil
}
