package postmark

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shineum/postmark-lite/email"
	"github.com/shineum/postmark-lite/retry"
)

const testToken = "server-token-0f9e8d7c"

// sleepRecorder records backoff delays instead of sleeping.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func (r *sleepRecorder) Reset() {
	r.mu.Lock()
	r.delays = nil
	r.mu.Unlock()
}

func testPolicy(maxRetries int, rec *sleepRecorder) retry.Policy {
	return retry.Policy{
		MaxRetries: maxRetries,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Jitter:     retry.NoJitter,
		Sleep:      rec.Sleep,
	}
}

func newTestBuilder(t *testing.T, baseURL string, policy retry.Policy) *ClientBuilder {
	t.Helper()
	return NewClientBuilder().
		BaseURL(baseURL).
		Sender(mustAddress(t, "sender@example.com")).
		ServerToken(NewServerToken(testToken)).
		RetryPolicy(policy).
		Logger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestClient(t *testing.T, baseURL string, policy retry.Policy) *Client {
	t.Helper()
	c, err := newTestBuilder(t, baseURL, policy).Build()
	require.NoError(t, err)
	return c
}

func mustAddress(t *testing.T, raw string) email.Address {
	t.Helper()
	addr, err := email.ParseAddress(raw)
	require.NoError(t, err)
	return addr
}

func testBody(t *testing.T, to string) *email.OutboundBody {
	t.Helper()
	body, err := email.NewBuilder(mustAddress(t, to)).
		Subject("Hello").
		TextBody("Hello there").
		Build()
	require.NoError(t, err)
	return body
}
