package postmark

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"

	"github.com/shineum/postmark-lite/email"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 4 << 20

// maxErrorMessage truncates non-JSON error bodies.
const maxErrorMessage = 512

// Send delivers one message. Transport failures, timeouts, 429 and 5xx
// responses are retried according to the client's policy; any other
// failure is returned immediately. Errors from the API are *SendError.
func (c *Client) Send(ctx context.Context, body *email.OutboundBody) (*SendReceipt, error) {
	if err := checkBody(body); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(newSendEmailRequest(body, c.sender))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	log := c.logger.With("request_id", uuid.NewString())
	log.Debug("sending email",
		"recipients", body.RecipientCount(),
		"attachments", len(body.Attachments()),
	)

	var resp sendEmailResponse
	status, attempts, err := c.post(ctx, log, c.emailURL, payload, &resp)
	if err != nil {
		return nil, err
	}

	receipt, err := resp.result(status, attempts)
	if err != nil {
		log.Warn("email rejected", "error", err)
		return nil, err
	}

	log.Debug("email accepted", "message_id", receipt.MessageID, "attempts", attempts)
	return receipt, nil
}

// checkBody rejects messages that were not produced by email.Builder.
func checkBody(body *email.OutboundBody) error {
	if body == nil {
		return &email.ValidationError{Field: "body", Detail: "message is nil", Err: email.ErrMissingBody}
	}
	if body.To().IsZero() {
		return &email.ValidationError{Field: "to", Detail: "recipient is required", Err: email.ErrInvalidAddress}
	}
	if body.HTMLBody() == "" && body.TextBody() == "" {
		return &email.ValidationError{Field: "body", Detail: "set HTMLBody or TextBody", Err: email.ErrMissingBody}
	}
	return nil
}

// post sends payload to endpoint, retrying transient failures, and decodes
// a 2xx response into out. It returns the final status code and the number
// of attempts made.
func (c *Client) post(ctx context.Context, log *slog.Logger, endpoint string, payload []byte, out any) (int, int, error) {
	attempts := c.retry.Attempts()

	var (
		lastErr   *SendError
		lastDelay time.Duration
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			// Delays never shrink between retries, whatever the jitter.
			delay := max(c.retryDelay(lastErr, attempt-1), lastDelay)
			lastDelay = delay
			log.Info("retrying Postmark request",
				"attempt", attempt,
				"max_attempts", attempts,
				"status", lastErr.StatusCode,
				"delay", delay,
			)
			if err := c.retry.Wait(ctx, delay); err != nil {
				return 0, attempt - 1, contextError(err, attempt-1)
			}
		}

		status, sendErr := c.doRequest(ctx, endpoint, payload, out)
		if sendErr == nil {
			return status, attempt, nil
		}
		sendErr.Attempts = attempt

		if ctx.Err() != nil {
			return 0, attempt, contextError(ctx.Err(), attempt)
		}
		if !sendErr.Retryable() {
			return 0, attempt, sendErr
		}

		log.Warn("transient Postmark error",
			"attempt", attempt,
			"kind", sendErr.Kind.String(),
			"status", sendErr.StatusCode,
			"error", sendErr.Message,
		)
		lastErr = sendErr
	}

	return 0, attempts, lastErr
}

// retryDelay honors Retry-After on 429 and falls back to exponential backoff.
func (c *Client) retryDelay(lastErr *SendError, retryNum int) time.Duration {
	if lastErr != nil && lastErr.Kind == KindRateLimited && lastErr.RetryAfter > 0 {
		return c.retry.Clamp(lastErr.RetryAfter)
	}
	return c.retry.Backoff(retryNum)
}

// doRequest performs a single HTTP attempt under the per-attempt timeout.
func (c *Client) doRequest(ctx context.Context, endpoint string, payload []byte, out any) (int, *SendError) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, &SendError{Kind: KindTransport, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, c.token.Expose())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, c.transportError(attemptCtx, "HTTP request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, c.transportError(attemptCtx, "failed to read response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(body, out); err != nil {
			return 0, &SendError{
				Kind:       KindAPI,
				StatusCode: resp.StatusCode,
				Message:    "failed to decode response",
				Err:        fmt.Errorf("%w: %v", ErrDecodeResponse, err),
			}
		}
		return resp.StatusCode, nil
	}

	return 0, classifyError(resp.StatusCode, body, resp.Header.Get("Retry-After"), time.Now())
}

func (c *Client) transportError(attemptCtx context.Context, msg string, err error) *SendError {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &SendError{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("no response within %s", c.timeout),
			Err:     err,
		}
	}
	return &SendError{Kind: KindTransport, Message: msg, Err: err}
}

// contextError reports a caller cancellation or deadline.
func contextError(err error, attempts int) *SendError {
	kind := KindTransport
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &SendError{
		Kind:     kind,
		Message:  "context done before delivery",
		Attempts: attempts,
		Err:      err,
	}
}

// classifyError maps a non-2xx response onto a SendError.
func classifyError(statusCode int, body []byte, retryAfter string, now time.Time) *SendError {
	err := &SendError{
		Kind:       KindAPI,
		StatusCode: statusCode,
	}

	var apiErr apiErrorResponse
	if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && (apiErr.Message != "" || apiErr.ErrorCode != 0) {
		err.ErrorCode = apiErr.ErrorCode
		err.Message = apiErr.Message
	} else {
		err.Message = truncate(strings.TrimSpace(string(body)), maxErrorMessage)
	}
	if err.Message == "" {
		err.Message = http.StatusText(statusCode)
	}

	if statusCode == http.StatusTooManyRequests {
		err.Kind = KindRateLimited
		err.RetryAfter = parseRetryAfter(retryAfter, now)
	}

	return err
}

// parseRetryAfter accepts delay-seconds or an HTTP date. Unparseable or past
// values yield zero, which means "use backoff".
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
