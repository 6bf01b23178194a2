// Package postmark adapts the Postmark client to the Provider interface.
package postmark

import (
	"context"

	"github.com/shineum/postmark-lite/email"
	"github.com/shineum/postmark-lite/internal/provider"
	pm "github.com/shineum/postmark-lite/postmark"
)

// Sender is the subset of *pm.Client used by the provider.
type Sender interface {
	Send(ctx context.Context, body *email.OutboundBody) (*pm.SendReceipt, error)
	SendBatch(ctx context.Context, bodies []*email.OutboundBody) (pm.BatchResults, error)
}

// Provider delivers messages through the Postmark API.
type Provider struct {
	client Sender
}

var _ provider.BatchProvider = (*Provider)(nil)

// New wraps a Postmark client.
func New(client Sender) *Provider {
	return &Provider{client: client}
}

// Send delivers one message and returns the Postmark MessageID.
func (p *Provider) Send(ctx context.Context, body *email.OutboundBody) (string, error) {
	receipt, err := p.client.Send(ctx, body)
	if err != nil {
		return "", err
	}
	return receipt.MessageID, nil
}

// SendBatch delivers bodies through the batch endpoint.
func (p *Provider) SendBatch(ctx context.Context, bodies []*email.OutboundBody) ([]provider.Result, error) {
	batch, err := p.client.SendBatch(ctx, bodies)

	results := make([]provider.Result, len(batch))
	for i, r := range batch {
		results[i].Err = r.Err
		if r.Receipt != nil {
			results[i].MessageID = r.Receipt.MessageID
		}
	}
	return results, err
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "postmark"
}
