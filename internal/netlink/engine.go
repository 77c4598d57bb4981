// Package netlink implements the worker's peer-install and stale-peer
// kernel operations, grounded on the vishvananda/netlink +
// wgctrl platform-split pattern (getployz-ployz's infra/wireguard/kernel,
// grimm-is-glacic's internal/vpn/wireguard.go).
// The real implementation lives in engine_linux.go behind a linux build
// tag; engine_stub.go serves every other platform so the module still
// builds (and its pure helpers still test) on a developer's laptop.
package netlink

import (
	"context"
	"time"

	"wgkex/internal/model"
)

// WireGuardClient is one desired peer-install or peer-removal operation.
type WireGuardClient struct {
	PublicKey model.PublicKey
	Domain    model.Domain
	Remove    bool
}

// OpResult captures the outcome of each of the three kernel operations
// SyncPeer performs. A failure in one step must not short-circuit the
// others, so all three are attempted and recorded independently.
type OpResult struct {
	PeerErr  error
	RouteErr error
	FDBErr   error
}

// AnyError reports whether any of the three operations failed.
func (r OpResult) AnyError() bool {
	return r.PeerErr != nil || r.RouteErr != nil || r.FDBErr != nil
}

// DeviceData is what get_device_data(iface) reads off a live WireGuard
// interface.
type DeviceData struct {
	Port        int
	PublicKey   string
	LinkAddress string
}

// Engine performs the kernel-level peer lifecycle and introspection
// operations the worker needs.
type Engine interface {
	// SyncPeer installs or removes client's WireGuard peer, route, and
	// bridge FDB entry, in that order.
	SyncPeer(ctx context.Context, client WireGuardClient) OpResult

	// DeviceData reads the listen port, public key, and link address of
	// the WireGuard interface for domain.
	DeviceData(ctx context.Context, domain model.Domain) (DeviceData, error)

	// ConnectedPeerCount returns the number of peers on domain's
	// interface whose last handshake is within handshakeWindow.
	ConnectedPeerCount(ctx context.Context, domain model.Domain, handshakeWindow time.Duration) (int, error)

	// StalePeers returns the public keys of peers on domain's interface
	// whose last handshake is older than maxAge (or who have never
	// handshaked).
	StalePeers(ctx context.Context, domain model.Domain, maxAge time.Duration) ([]model.PublicKey, error)
}
