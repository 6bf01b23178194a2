package email

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"lukechampine.com/blake3"
)

// Address is a syntactically valid email address. The zero value is not a
// valid address; ParseAddress is the only way to obtain one.
type Address struct {
	value string
}

// ParseAddress validates raw and wraps it as an Address. Casing is preserved
// and surrounding whitespace is rejected rather than trimmed.
func ParseAddress(raw string) (Address, error) {
	if raw == "" {
		return Address{}, invalid("address", ErrInvalidAddress, "value is empty")
	}

	if strings.IndexFunc(raw, unicode.IsSpace) >= 0 {
		return Address{}, invalid("address", ErrInvalidAddress, "%q contains whitespace", raw)
	}

	if strings.Count(raw, "@") != 1 {
		return Address{}, invalid("address", ErrInvalidAddress, "%q must contain exactly one '@'", raw)
	}

	local, domain, _ := strings.Cut(raw, "@")
	if local == "" {
		return Address{}, invalid("address", ErrInvalidAddress, "%q has an empty local part", raw)
	}

	if err := checkDomain(domain); err != nil {
		return Address{}, invalid("address", ErrInvalidAddress, "%q %v", raw, err)
	}

	return Address{value: raw}, nil
}

// ParseAddresses parses every value, stopping at the first invalid one.
func ParseAddresses(raw ...string) ([]Address, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	out := make([]Address, 0, len(raw))
	for i, r := range raw {
		addr, err := ParseAddress(r)
		if err != nil {
			return nil, fmt.Errorf("address[%d]: %w", i, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func checkDomain(domain string) error {
	switch {
	case domain == "":
		return fmt.Errorf("has an empty domain")
	case !strings.Contains(domain, "."):
		return fmt.Errorf("domain must contain a '.'")
	case strings.HasPrefix(domain, "."), strings.HasSuffix(domain, "."):
		return fmt.Errorf("domain must not start or end with '.'")
	case strings.Contains(domain, ".."):
		return fmt.Errorf("domain contains an empty label")
	}
	return nil
}

// String returns the address exactly as it was parsed.
func (a Address) String() string {
	return a.value
}

// Hash returns the hex-encoded BLAKE3-256 digest of the address, suitable
// as a stable key that does not reveal the address itself.
func (a Address) Hash() string {
	sum := blake3.Sum256([]byte(a.value))
	return hex.EncodeToString(sum[:])
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool {
	return a.value == ""
}

// JoinAddresses renders addrs as a comma separated list, the form the
// Postmark API expects for To, Cc and Bcc.
func JoinAddresses(addrs []Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.value
	}
	return strings.Join(parts, ",")
}
