package postmark

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinels matched by (*SendError).Is, so errors.Is(err, ErrTimeout) works
// on any SendError of that kind.
var (
	ErrTransport   = errors.New("postmark: transport error")
	ErrTimeout     = errors.New("postmark: request timed out")
	ErrAPI         = errors.New("postmark: api error")
	ErrRateLimited = errors.New("postmark: rate limited")
)

var (
	// ErrConfig wraps every ClientBuilder.Build failure.
	ErrConfig = errors.New("postmark: invalid client configuration")

	// ErrDecodeResponse is wrapped when a success response cannot be decoded.
	ErrDecodeResponse = errors.New("postmark: failed to decode response")

	// ErrUnexpectedResponse is wrapped when a batch response does not line
	// up with the request.
	ErrUnexpectedResponse = errors.New("postmark: unexpected batch response")
)

// Kind classifies a SendError.
type Kind int

const (
	KindTransport Kind = iota + 1
	KindTimeout
	KindAPI
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindAPI:
		return "api"
	case KindRateLimited:
		return "rate_limited"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SendError is returned by Send and reported per message by SendBatch.
type SendError struct {
	Kind Kind

	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int

	// ErrorCode and Message are the values reported by Postmark.
	ErrorCode int
	Message   string

	// RetryAfter is the server requested delay on a 429, if any.
	RetryAfter time.Duration

	// Attempts is how many requests were made before giving up.
	Attempts int

	Err error
}

func (e *SendError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	switch {
	case e.StatusCode != 0 && e.ErrorCode != 0:
		return fmt.Sprintf("postmark %s error (HTTP %d, code %d): %s", e.Kind, e.StatusCode, e.ErrorCode, msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("postmark %s error (HTTP %d): %s", e.Kind, e.StatusCode, msg)
	default:
		return fmt.Sprintf("postmark %s error: %s", e.Kind, msg)
	}
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *SendError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrAPI:
		return e.Kind == KindAPI
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	}
	return false
}

// Retryable reports whether another attempt could succeed: connection
// failures, timeouts, 429 and 5xx responses.
func (e *SendError) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindTimeout, KindRateLimited:
		return true
	case KindAPI:
		return e.StatusCode >= http.StatusInternalServerError
	}
	return false
}

// IsUnauthorized reports a rejected server token.
func (e *SendError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}
