// Package postmark sends email.OutboundBody messages through the Postmark
// HTTP API, one at a time or in batches of up to 500.
package postmark

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/shineum/postmark-lite/email"
	"github.com/shineum/postmark-lite/retry"
)

const (
	// DefaultBaseURL is the public Postmark API endpoint.
	DefaultBaseURL = "https://api.postmarkapp.com"

	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 10 * time.Second

	// DefaultConcurrency is the number of batch chunks in flight at once.
	DefaultConcurrency = 1

	maxConcurrency = 64
)

const (
	tokenHeader = "X-Postmark-Server-Token"
	emailPath   = "email"
	batchPath   = "batch"
)

// Client is an immutable Postmark API client. It is safe for concurrent use.
type Client struct {
	sender      email.Address
	token       ServerToken
	baseURL     string
	emailURL    string
	batchURL    string
	httpClient  *http.Client
	timeout     time.Duration
	retry       retry.Policy
	concurrency int
	logger      *slog.Logger
}

// String describes the client without the server token.
func (c *Client) String() string {
	return fmt.Sprintf("postmark.Client{base_url=%s sender=%s token=%s}", c.baseURL, c.sender, c.token)
}

// GoString matches String so %#v never prints the token.
func (c *Client) GoString() string { return c.String() }

// Sender returns the default From address.
func (c *Client) Sender() email.Address { return c.sender }

// ClientBuilder configures a Client. Zero values fall back to defaults.
type ClientBuilder struct {
	baseURL     string
	sender      email.Address
	token       ServerToken
	httpClient  *http.Client
	timeout     time.Duration
	policy      retry.Policy
	concurrency int
	logger      *slog.Logger
}

// NewClientBuilder starts a builder with the default base URL, timeout,
// retry policy and concurrency.
func NewClientBuilder() *ClientBuilder {
	return &ClientBuilder{
		baseURL:     DefaultBaseURL,
		timeout:     DefaultTimeout,
		policy:      retry.DefaultPolicy(),
		concurrency: DefaultConcurrency,
	}
}

// BaseURL overrides the API root, DefaultBaseURL unless set.
func (b *ClientBuilder) BaseURL(u string) *ClientBuilder {
	b.baseURL = u
	return b
}

// Sender sets the From address used for every message.
func (b *ClientBuilder) Sender(addr email.Address) *ClientBuilder {
	b.sender = addr
	return b
}

// ServerToken sets the token sent in the X-Postmark-Server-Token header.
func (b *ClientBuilder) ServerToken(t ServerToken) *ClientBuilder {
	b.token = t
	return b
}

// Timeout bounds each HTTP attempt, not the whole retry sequence.
func (b *ClientBuilder) Timeout(d time.Duration) *ClientBuilder {
	b.timeout = d
	return b
}

// MaxRetries sets how many times a transient failure is retried (0 to 10).
func (b *ClientBuilder) MaxRetries(n int) *ClientBuilder {
	b.policy.MaxRetries = n
	return b
}

// RetryPolicy replaces the whole retry policy, MaxRetries included.
func (b *ClientBuilder) RetryPolicy(p retry.Policy) *ClientBuilder {
	b.policy = p
	return b
}

// HTTPClient sets the underlying HTTP client. Per-attempt timeouts are
// applied through the request context, so its own Timeout may stay zero.
func (b *ClientBuilder) HTTPClient(c *http.Client) *ClientBuilder {
	b.httpClient = c
	return b
}

// Concurrency sets how many batch chunks SendBatch posts at once.
func (b *ClientBuilder) Concurrency(n int) *ClientBuilder {
	b.concurrency = n
	return b
}

// Logger sets the logger; slog.Default is used when nil.
func (b *ClientBuilder) Logger(l *slog.Logger) *ClientBuilder {
	b.logger = l
	return b
}

// builderConfig is the validated view of a ClientBuilder.
type builderConfig struct {
	BaseURL     string `validate:"required,url"`
	Sender      string `validate:"required"`
	Token       string `validate:"required"`
	MaxRetries  int    `validate:"gte=0,lte=10"`
	Concurrency int    `validate:"gte=1"`
}

// Build validates the configuration and returns the client. Every failure
// wraps ErrConfig.
func (b *ClientBuilder) Build() (*Client, error) {
	conf := builderConfig{
		BaseURL:     b.baseURL,
		Sender:      b.sender.String(),
		Token:       b.token.Expose(),
		MaxRetries:  b.policy.MaxRetries,
		Concurrency: b.concurrency,
	}
	if err := validator.New().Struct(conf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if b.timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %s", ErrConfig, b.timeout)
	}

	base, err := url.Parse(b.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base url: %v", ErrConfig, err)
	}

	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := b.concurrency
	if concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}

	return &Client{
		sender:      b.sender,
		token:       b.token,
		baseURL:     base.String(),
		emailURL:    base.JoinPath(emailPath).String(),
		batchURL:    base.JoinPath(emailPath, batchPath).String(),
		httpClient:  httpClient,
		timeout:     b.timeout,
		retry:       b.policy,
		concurrency: concurrency,
		logger:      logger.With("component", "postmark"),
	}, nil
}
