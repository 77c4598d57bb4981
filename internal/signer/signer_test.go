package signer

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestLoad_HexSeed(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	seed := priv.Seed()

	s, err := Load(hex.EncodeToString(seed))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sig := s.Sign([]byte("hello"))
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		t.Fatalf("signature not valid base64: %v", err)
	}
	if !ed25519.Verify(pub, []byte("hello"), raw) {
		t.Fatal("signature did not verify against the original public key")
	}
}

func TestLoad_Base64Seed(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	seed := priv.Seed()

	s, err := Load(base64.StdEncoding.EncodeToString(seed))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil {
		t.Fatal("expected non-nil signer")
	}
}

func TestLoad_SignifyFrame(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	seed := priv.Seed()

	// Build a minimal 104-byte signify-style secret key blob:
	// 2+2+4+16+8+8 = 40 bytes of header, then seckey = seed(32) || pubkey(32).
	frame := make([]byte, 104)
	copy(frame[40:72], seed)
	copy(frame[72:104], pub)

	s, err := Load(base64.StdEncoding.EncodeToString(frame))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sig := s.Sign([]byte("parker"))
	raw, _ := base64.StdEncoding.DecodeString(sig)
	if !ed25519.Verify(pub, []byte("parker"), raw) {
		t.Fatal("signify-derived signer did not produce a verifiable signature")
	}
	if !bytes.Equal(s.PublicKey(), pub) {
		t.Error("expected recovered public key to match original")
	}
}

func TestLoad_InvalidKey(t *testing.T) {
	if _, err := Load("not-hex-not-base64!!"); err == nil {
		t.Fatal("expected error for malformed key")
	}
	if _, err := Load(hex.EncodeToString([]byte("too-short"))); err == nil {
		t.Fatal("expected error for wrong-length key")
	}
}
