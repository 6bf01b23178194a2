// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/postmark-lite/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider delivers validated messages to its target service
// (Postmark, AWS SES, stdout). The From address is fixed when the provider
// is constructed.
type Provider interface {
	// Send delivers one message and returns the backend's message ID.
	Send(ctx context.Context, body *email.OutboundBody) (string, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// Result is the outcome for one message of SendAll.
type Result struct {
	MessageID string
	Err       error
}

// BatchProvider is implemented by backends that can submit many messages
// in few requests.
type BatchProvider interface {
	Provider

	// SendBatch returns one Result per body, in input order.
	SendBatch(ctx context.Context, bodies []*email.OutboundBody) ([]Result, error)
}

// SendAll delivers bodies through p, using SendBatch when p supports it and
// falling back to one Send per message otherwise. It stops early only when
// ctx ends.
func SendAll(ctx context.Context, p Provider, bodies []*email.OutboundBody) ([]Result, error) {
	if bp, ok := p.(BatchProvider); ok {
		return bp.SendBatch(ctx, bodies)
	}

	results := make([]Result, len(bodies))
	for i, body := range bodies {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(results); j++ {
				results[j].Err = err
			}
			return results, err
		}
		results[i].MessageID, results[i].Err = p.Send(ctx, body)
	}
	return results, nil
}
