// Package ipam defines the pluggable IPv6 prefix allocator used by the v3
// Parker endpoint. The broker depends only on this interface; jsonfile
// and netbox provide the two concrete backends selected by parker.ipam
// at startup: no runtime reflection, compile-time selection via
// configuration.
package ipam

import (
	"context"
	"errors"
	"net/netip"
)

// ErrAllocatorExhausted is returned when a backend cannot find or create a
// free prefix of the requested length under its parent prefix.
var ErrAllocatorExhausted = errors.New("ipam: no free prefix available")

// Allocator assigns, persists, and refreshes per-key IPv6 prefixes.
type Allocator interface {
	// GetOrAllocatePrefix returns the existing prefix recorded for pubkey,
	// allocating a new one from the parent prefix if none exists yet.
	GetOrAllocatePrefix(ctx context.Context, pubkey string) (netip.Prefix, error)

	// UpdatePrefix refreshes backend-side bookkeeping (e.g. last-seen
	// timestamp, selected concentrators) for an already-allocated prefix.
	// Backends that keep no such metadata may treat this as a no-op.
	UpdatePrefix(ctx context.Context, pubkey string, selectedConcentrators []string) error

	// ReleasePrefix returns pubkey's prefix to the free pool. IPv6 prefix
	// assignments are never reclaimed automatically, so callers are not
	// expected to invoke this in the current feature set; both backends
	// may return ErrNotSupported.
	ReleasePrefix(ctx context.Context, pubkey string) error
}

// ErrNotSupported is returned by backend operations intentionally left
// unimplemented, mirroring the Python backends' NotImplementedError.
var ErrNotSupported = errors.New("ipam: operation not supported by this backend")
