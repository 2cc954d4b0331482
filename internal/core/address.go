package core

import (
	"mime"
	"net/mail"
	"strings"
)

// Address is an immutable email address with an optional display name.
// The zero value is an unset address.
type Address struct {
	name  string
	email string
}

// ParseAddress parses an RFC 5322 address such as "user@example.com" or
// "User <user@example.com>". A non-empty displayName overrides any name found in the input.
func ParseAddress(address string, displayName ...string) (Address, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return Address{}, &InvalidAddressFormatError{Input: address}
	}

	parsed, err := mail.ParseAddress(trimmed)
	if err != nil {
		return Address{}, &InvalidAddressFormatError{Input: address, Cause: err}
	}

	// net/mail accepts "user@" forms in some obsolete syntaxes.
	at := strings.LastIndex(parsed.Address, "@")
	if at <= 0 || at == len(parsed.Address)-1 {
		return Address{}, &InvalidAddressFormatError{Input: address}
	}

	addr := Address{name: parsed.Name, email: parsed.Address}
	if len(displayName) > 0 && strings.TrimSpace(displayName[0]) != "" {
		addr.name = strings.TrimSpace(displayName[0])
	}
	return addr, nil
}

// MustParseAddress is like ParseAddress but panics on error.
// Intended for constants and tests.
func MustParseAddress(address string, displayName ...string) Address {
	addr, err := ParseAddress(address, displayName...)
	if err != nil {
		panic(err)
	}
	return addr
}

// Name returns the display name, which may be empty.
func (a Address) Name() string {
	return a.name
}

// Email returns the bare address, e.g. "user@example.com".
func (a Address) Email() string {
	return a.email
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.email == ""
}

// String returns the formatted email address.
// If a name is present, returns "Name <email@domain.com>"
// Otherwise returns just "email@domain.com"
func (a Address) String() string {
	if a.name != "" {
		return mime.QEncoding.Encode("UTF-8", a.name) + " <" + a.email + ">"
	}
	return a.email
}

// key is the identity used for set semantics.
func (a Address) key() string {
	return strings.ToLower(a.email)
}

// addressSet is an insertion-ordered set of addresses.
type addressSet []Address

func (s addressSet) add(a Address) addressSet {
	for _, existing := range s {
		if existing.key() == a.key() {
			return s
		}
	}
	return append(s, a)
}
