// Package model holds the core value types shared across the broker and
// worker: WireGuard public keys, domains, and the key-exchange request they
// compose into.
package model

import (
	"errors"
	"regexp"
)

// ErrInvalidKey is returned when a string does not match the WireGuard
// public key shape.
var ErrInvalidKey = errors.New("invalid wireguard public key")

// pubkeyPattern matches a standard-base64 encoded 32-byte Curve25519 key:
// 42 free characters followed by a final base64 group whose bit-pattern a
// real key's last byte can actually produce, then the "=" padding.
var pubkeyPattern = regexp.MustCompile(`^[A-Za-z0-9+/]{42}[AEIMQUYcgkosw480]=$`)

// PublicKey is a validated WireGuard public key, always exactly 44
// characters and matching pubkeyPattern.
type PublicKey string

// String implements fmt.Stringer.
func (k PublicKey) String() string { return string(k) }

// ParsePublicKey validates s against the WireGuard public key shape.
func ParsePublicKey(s string) (PublicKey, error) {
	if !pubkeyPattern.MatchString(s) {
		return "", ErrInvalidKey
	}
	return PublicKey(s), nil
}

// IsValidPublicKey reports whether s is a syntactically valid public key,
// without allocating a PublicKey value. Useful in hot validation paths.
func IsValidPublicKey(s string) bool {
	return pubkeyPattern.MatchString(s)
}
