// Package httpapi implements the broker's HTTP surface: the v1/v2/v3
// key-exchange endpoints and the liveness/readiness probes. Grounded on
// a gin router/handler split (internal/server, internal/handler),
// generalized from a single-resource CRUD API to the three key-exchange
// flows this system requires.
package httpapi

import (
	"time"

	"wgkex/internal/allowlist"
	"wgkex/internal/balancer"
	"wgkex/internal/blacklist"
	"wgkex/internal/fleet"
	"wgkex/internal/ipam"
	"wgkex/internal/model"
	"wgkex/internal/signer"
)

// Publisher is the slice of *bus.BrokerClient the HTTP handlers depend on;
// an interface so handler tests can substitute a fake instead of a live
// MQTT connection (mirrors a handler/service interface split).
type Publisher interface {
	PublishPeerInstall(domain string, pubkey string) error
	PublishParkerAnnouncement(payload []byte) error
}

// ParkerConfig holds the static parts of the v3 endpoint unrelated to a
// specific request: whether it is enabled and the fixed 464XLAT CLAT
// subnet. Concentrators are chosen per request from the Registry.
type ParkerConfig struct {
	Enabled bool
	Range4  string
}

// Handler wires every broker dependency the v1/v2/v3 endpoints need. It
// holds no package-level state; every field is passed in explicitly at
// construction.
type Handler struct {
	Domains   *model.DomainTable
	Allowlist *allowlist.Manager // nil disables allow-list enforcement
	Blacklist *blacklist.Blacklist
	Registry  *fleet.Registry
	Selector  *balancer.Selector
	Bus       Publisher
	IPAM      ipam.Allocator // nil when parker is disabled
	Signer    *signer.Signer // nil when parker is disabled
	Parker    ParkerConfig
	Now       func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
