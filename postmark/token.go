package postmark

import (
	"fmt"
	"io"
	"log/slog"
)

const redacted = "[REDACTED]"

// ServerToken is the Postmark server API token. Every textual rendering of it
// (fmt verbs, JSON, YAML, slog) is redacted; Expose is the only way to read
// the secret and is used solely when setting the request header.
type ServerToken struct {
	value string
}

// NewServerToken wraps a raw server token.
func NewServerToken(raw string) ServerToken {
	return ServerToken{value: raw}
}

// Expose returns the raw token.
func (t ServerToken) Expose() string { return t.value }

// IsZero reports whether no token was provided.
func (t ServerToken) IsZero() bool { return t.value == "" }

// String and GoString never reveal the token.
func (t ServerToken) String() string   { return redacted }
func (t ServerToken) GoString() string { return redacted }

// Format redacts the token for every fmt verb.
func (t ServerToken) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

// MarshalText keeps the token out of JSON and YAML output.
func (t ServerToken) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// LogValue implements slog.LogValuer.
func (t ServerToken) LogValue() slog.Value {
	return slog.StringValue(redacted)
}
