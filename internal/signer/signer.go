// Package signer loads the Ed25519 key used to sign v3 Parker responses
// and signs response bytes with it, grounded on original_source's Python
// signer module. Ed25519 signing key material may arrive in one
// of three textual encodings: raw 32-byte hex, raw 32-byte base64, or a
// 104-byte signify-framed base64 blob.
package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// signifyFrameLen is the length of a signify secret-key blob: a fixed
// header, then the 32-byte seed and 32-byte public half of the key.
const signifyFrameLen = 104

// Signer signs byte strings with a fixed Ed25519 private key.
type Signer struct {
	key ed25519.PrivateKey
}

// Load decodes encodedKey in whichever of the supported formats matches,
// and returns a Signer ready to sign responses. It is meant to be called
// once at startup — a missing or malformed signing key when
// parker.enabled should abort the process.
func Load(encodedKey string) (*Signer, error) {
	seed, err := decodeSeed(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("loading broker signing key: %w", err)
	}
	return &Signer{key: ed25519.NewKeyFromSeed(seed)}, nil
}

func decodeSeed(encoded string) ([]byte, error) {
	raw, err := decodeKeyBytes(encoded)
	if err != nil {
		return nil, err
	}

	switch len(raw) {
	case signifyFrameLen:
		// struct enckey { pkalg[2] kdfalg[2] kdfrounds[4] salt[16] checksum[8]
		// keynum[8] seckey[64] }; seckey holds seed[32] || pubkey[32], and we
		// only want the seed, i.e. bytes[-64:-32].
		return raw[len(raw)-64 : len(raw)-32], nil
	case ed25519.SeedSize:
		return raw, nil
	default:
		return nil, fmt.Errorf("unexpected signing key length %d (want %d or %d)", len(raw), ed25519.SeedSize, signifyFrameLen)
	}
}

func decodeKeyBytes(encoded string) ([]byte, error) {
	if raw, err := hex.DecodeString(encoded); err == nil {
		return raw, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("signing key is neither valid hex nor valid base64")
}

// Sign returns the base64-encoded Ed25519 signature over data.
func (s *Signer) Sign(data []byte) string {
	sig := ed25519.Sign(s.key, data)
	return base64.StdEncoding.EncodeToString(sig)
}

// PublicKey returns the signer's public half, useful for diagnostics.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}
