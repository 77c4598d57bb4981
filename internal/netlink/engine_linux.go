//go:build linux

package netlink

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	vnetlink "github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgkex/internal/logger"
	"wgkex/internal/model"
)

// peerKeepalive matches the original worker's pyroute2 WireGuard peer
// configuration.
const peerKeepalive = 15 * time.Second

// KernelEngine is the Linux implementation of Engine, grounded on
// vishvananda/netlink + wgctrl (see getployz-ployz's
// infra/wireguard/kernel and grimm-is-glacic's internal/vpn/wireguard.go).
type KernelEngine struct {
	domains *model.DomainTable
}

// NewEngine returns the Linux kernel engine.
func NewEngine(domains *model.DomainTable) Engine {
	return &KernelEngine{domains: domains}
}

func (e *KernelEngine) ifaces(domain model.Domain) (wgIface, vxIface string, err error) {
	wgIface, ok := e.domains.WireguardInterface(domain)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", model.ErrUnknownDomain, domain)
	}
	vxIface, ok = e.domains.BridgeInterface(domain)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", model.ErrUnknownDomain, domain)
	}
	return wgIface, vxIface, nil
}

// SyncPeer implements Engine. The ordering (peer, then route, then FDB)
// and "record but don't short-circuit" error handling follow the
// ordering and behavior of original_source's link_handler.
func (e *KernelEngine) SyncPeer(ctx context.Context, client WireGuardClient) OpResult {
	var result OpResult

	wgIface, vxIface, err := e.ifaces(client.Domain)
	if err != nil {
		return OpResult{PeerErr: err, RouteErr: err, FDBErr: err}
	}

	lladdrPrefix := model.LLAddrPrefix(client.PublicKey)

	result.PeerErr = e.syncPeer(wgIface, client.PublicKey, lladdrPrefix, client.Remove)
	result.RouteErr = e.syncRoute(wgIface, lladdrPrefix, client.Remove)
	result.FDBErr = e.syncFDB(vxIface, lladdrPrefix.Addr(), client.Remove)

	return result
}

func (e *KernelEngine) syncPeer(wgIface string, pubkey model.PublicKey, lladdr netip.Prefix, remove bool) error {
	key, err := wgtypes.ParseKey(string(pubkey))
	if err != nil {
		return fmt.Errorf("parsing peer public key: %w", err)
	}

	client, err := wgctrl.New()
	if err != nil {
		return fmt.Errorf("creating wireguard client: %w", err)
	}
	defer client.Close()

	ka := peerKeepalive
	peerCfg := wgtypes.PeerConfig{
		PublicKey:                   key,
		Remove:                      remove,
		ReplaceAllowedIPs:           true,
		AllowedIPs:                  []net.IPNet{prefixToIPNet(lladdr)},
		PersistentKeepaliveInterval: &ka,
	}

	cfg := wgtypes.Config{Peers: []wgtypes.PeerConfig{peerCfg}}
	if err := client.ConfigureDevice(wgIface, cfg); err != nil {
		return fmt.Errorf("configuring peer on %s: %w", wgIface, err)
	}
	return nil
}

func (e *KernelEngine) syncRoute(wgIface string, lladdr netip.Prefix, remove bool) error {
	link, err := vnetlink.LinkByName(wgIface)
	if err != nil {
		return fmt.Errorf("finding interface %s: %w", wgIface, err)
	}

	route := &vnetlink.Route{
		LinkIndex: link.Attrs().Index,
		Dst:       ptrIPNet(prefixToIPNet(lladdr)),
		Scope:     vnetlink.SCOPE_LINK,
	}

	if remove {
		if err := vnetlink.RouteDel(route); err != nil {
			return fmt.Errorf("removing route on %s: %w", wgIface, err)
		}
		return nil
	}
	if err := vnetlink.RouteReplace(route); err != nil {
		return fmt.Errorf("installing route on %s: %w", wgIface, err)
	}
	return nil
}

// syncFDB appends or removes a bridge FDB entry for lladdr on vxIface.
// Ideally the entry would also carry a nested NDA_IFINDEX pointing at the
// WireGuard interface (a "via" next-hop device); the vishvananda/netlink
// Neigh type this module depends on does not expose
// that nested attribute, so only the primary vxIface attachment is set
// here (documented as a known gap in DESIGN.md).
func (e *KernelEngine) syncFDB(vxIface string, lladdr netip.Addr, remove bool) error {
	link, err := vnetlink.LinkByName(vxIface)
	if err != nil {
		return fmt.Errorf("finding interface %s: %w", vxIface, err)
	}

	neigh := &vnetlink.Neigh{
		LinkIndex:    link.Attrs().Index,
		Family:       unix.AF_BRIDGE,
		State:        vnetlink.NUD_PERMANENT,
		Flags:        vnetlink.NTF_SELF,
		HardwareAddr: net.HardwareAddr{0, 0, 0, 0, 0, 0},
		IP:           lladdr.AsSlice(),
	}

	if remove {
		if err := vnetlink.NeighDel(neigh); err != nil {
			return fmt.Errorf("removing fdb entry on %s: %w", vxIface, err)
		}
		return nil
	}
	if err := vnetlink.NeighAppend(neigh); err != nil {
		return fmt.Errorf("appending fdb entry on %s: %w", vxIface, err)
	}
	return nil
}

// DeviceData implements Engine.
func (e *KernelEngine) DeviceData(_ context.Context, domain model.Domain) (DeviceData, error) {
	wgIface, _, err := e.ifaces(domain)
	if err != nil {
		return DeviceData{}, err
	}

	client, err := wgctrl.New()
	if err != nil {
		return DeviceData{}, fmt.Errorf("creating wireguard client: %w", err)
	}
	defer client.Close()

	dev, err := client.Device(wgIface)
	if err != nil {
		return DeviceData{}, fmt.Errorf("inspecting device %s: %w", wgIface, err)
	}

	link, err := vnetlink.LinkByName(wgIface)
	if err != nil {
		return DeviceData{}, fmt.Errorf("finding interface %s: %w", wgIface, err)
	}
	addrs, err := vnetlink.AddrList(link, vnetlink.FAMILY_ALL)
	if err != nil {
		return DeviceData{}, fmt.Errorf("listing addresses on %s: %w", wgIface, err)
	}

	linkAddress := ""
	if len(addrs) > 0 {
		linkAddress = addrs[0].IPNet.String()
	}

	return DeviceData{
		Port:        dev.ListenPort,
		PublicKey:   dev.PublicKey.String(),
		LinkAddress: linkAddress,
	}, nil
}

// ConnectedPeerCount implements Engine.
func (e *KernelEngine) ConnectedPeerCount(_ context.Context, domain model.Domain, window time.Duration) (int, error) {
	wgIface, _, err := e.ifaces(domain)
	if err != nil {
		return 0, err
	}

	handshakes, err := e.readHandshakes(wgIface)
	if err != nil {
		return 0, err
	}
	return evaluateConnected(handshakes, time.Now(), window), nil
}

// StalePeers implements Engine.
func (e *KernelEngine) StalePeers(_ context.Context, domain model.Domain, maxAge time.Duration) ([]model.PublicKey, error) {
	wgIface, _, err := e.ifaces(domain)
	if err != nil {
		return nil, err
	}

	handshakes, err := e.readHandshakes(wgIface)
	if err != nil {
		return nil, err
	}
	return evaluateStale(handshakes, time.Now(), maxAge), nil
}

// readHandshakes reads the device peer list. If the read fails for any
// reason (a kernel dump interrupted by a concurrent change among them), it
// is retried exactly once and the second failure is propagated.
func (e *KernelEngine) readHandshakes(wgIface string) (map[model.PublicKey]time.Time, error) {
	read := func() (map[model.PublicKey]time.Time, error) {
		client, err := wgctrl.New()
		if err != nil {
			return nil, fmt.Errorf("creating wireguard client: %w", err)
		}
		defer client.Close()

		dev, err := client.Device(wgIface)
		if err != nil {
			return nil, fmt.Errorf("inspecting device %s: %w", wgIface, err)
		}

		out := make(map[model.PublicKey]time.Time, len(dev.Peers))
		for _, p := range dev.Peers {
			out[model.PublicKey(p.PublicKey.String())] = p.LastHandshakeTime
		}
		return out, nil
	}

	handshakes, err := read()
	if err != nil {
		logger.L().Sugar().Warnf("retrying interrupted wireguard device read on %s: %v", wgIface, err)
		handshakes, err = read()
	}
	return handshakes, err
}

func ptrIPNet(n net.IPNet) *net.IPNet { return &n }

// prefixToIPNet converts a netip.Prefix to the net.IPNet shape the
// vishvananda/netlink and wgctrl APIs expect.
func prefixToIPNet(p netip.Prefix) net.IPNet {
	addr := p.Addr()
	return net.IPNet{
		IP:   addr.AsSlice(),
		Mask: net.CIDRMask(p.Bits(), addr.BitLen()),
	}
}
