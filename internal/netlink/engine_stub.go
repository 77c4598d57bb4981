//go:build !linux

package netlink

import (
	"context"
	"fmt"
	"time"

	"wgkex/internal/model"
)

// StubEngine errors on every kernel operation. It exists so the module
// builds and its platform-independent packages test on non-Linux
// development machines; only engine_linux.go is meant to run in
// production.
type StubEngine struct{}

// NewEngine returns the non-Linux stub engine. domains is accepted only to
// match the linux build's signature; the stub never inspects it.
func NewEngine(_ *model.DomainTable) Engine {
	return &StubEngine{}
}

var errUnsupportedPlatform = fmt.Errorf("netlink: WireGuard kernel operations are only supported on linux")

func (s *StubEngine) SyncPeer(_ context.Context, _ WireGuardClient) OpResult {
	return OpResult{PeerErr: errUnsupportedPlatform, RouteErr: errUnsupportedPlatform, FDBErr: errUnsupportedPlatform}
}

func (s *StubEngine) DeviceData(_ context.Context, _ model.Domain) (DeviceData, error) {
	return DeviceData{}, errUnsupportedPlatform
}

func (s *StubEngine) ConnectedPeerCount(_ context.Context, _ model.Domain, _ time.Duration) (int, error) {
	return 0, errUnsupportedPlatform
}

func (s *StubEngine) StalePeers(_ context.Context, _ model.Domain, _ time.Duration) ([]model.PublicKey, error) {
	return nil, errUnsupportedPlatform
}
