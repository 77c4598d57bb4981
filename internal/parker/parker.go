// Package parker builds and signs the v3 "Parker" key-exchange response:
// a 464XLAT-aware prefix assignment signed with the broker's Ed25519 key.
// Grounded on original_source's Python ParkerQuery/ParkerResponse
// dataclasses; field names and the JSON shape are kept identical so that
// existing Parker-family nodes parse the response unchanged.
package parker

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"wgkex/internal/model"
)

// maxMTU is the hard ceiling applied to the caller-supplied v6mtu.
const maxMTU = 1375

// defaultMTU is used when a query omits v6mtu.
const defaultMTU = 1280

// Query is the validated v3 request.
type Query struct {
	V6MTU  int
	Pubkey model.PublicKey
	Nonce  string
}

// NewQuery validates raw query parameters the way ParkerQuery.__init__
// does: pubkey must be a syntactically valid WireGuard public key, v6mtu
// defaults to 1280 when absent or non-positive.
func NewQuery(v6mtu int, pubkey, nonce string) (Query, error) {
	key, err := model.ParsePublicKey(pubkey)
	if err != nil {
		return Query{}, fmt.Errorf("invalid pubkey: %w", err)
	}
	if v6mtu <= 0 {
		v6mtu = defaultMTU
	}
	return Query{V6MTU: v6mtu, Pubkey: key, Nonce: nonce}, nil
}

// Concentrator mirrors one entry of the response's concentrators array.
type Concentrator struct {
	Address4 string `json:"address4"`
	Address6 string `json:"address6"`
	Endpoint string `json:"endpoint"`
	PubKey   string `json:"pubkey"`
	ID       uint32 `json:"id"`
}

// Response is the unsigned JSON response body. Field order matches the
// source dataclass, not that it's meaningful to JSON readers, but it
// keeps a byte-for-byte diff against the original shape legible.
type Response struct {
	Nonce                 string         `json:"nonce"`
	Time                  int64          `json:"time"`
	ID                    string         `json:"id"`
	MTU                   int            `json:"mtu"`
	Address6              string         `json:"address6"`
	Concentrators         []Concentrator `json:"concentrators"`
	SelectedConcentrators string         `json:"selected_concentrators"`
	Range6                string         `json:"range6"`
	XlatRange6            string         `json:"xlat_range6"`
	Range4                string         `json:"range4"`
	Address4              string         `json:"address4"`
	WGKeepalive           int            `json:"wg_keepalive"`
	Retry                 int            `json:"retry"`
}

// SplitPrefix splits a /63 allocated by IPAM into its node-side range6 and
// its adjacent xlat_range6. Any other prefix length is rejected with an
// error.
func SplitPrefix(allocated netip.Prefix) (range6, xlatRange6 netip.Prefix, err error) {
	if allocated.Bits() != 63 {
		return netip.Prefix{}, netip.Prefix{}, fmt.Errorf("expected a /63 allocation, got /%d", allocated.Bits())
	}
	base := allocated.Masked().Addr()
	range6 = netip.PrefixFrom(base, 64)

	addrBytes := base.As16()
	addrBytes[7] |= 1 // flip the bit that distinguishes the second /64 of the /63
	xlatRange6 = netip.PrefixFrom(netip.AddrFrom16(addrBytes), 64)
	return range6, xlatRange6, nil
}

// FirstHost returns the first usable host address of prefix (network
// address + 1), matching the Python allocator's address4/address6
// derivation.
func FirstHost(prefix netip.Prefix) netip.Addr {
	return prefix.Masked().Addr().Next()
}

// BuildParams collects everything BuildResponse needs beyond the query
// itself.
type BuildParams struct {
	Range6        netip.Prefix
	XlatRange6    netip.Prefix
	Range4        string // fixed 464XLAT CLAT subnet, e.g. "10.80.99.0/22"
	Concentrators []Concentrator
	Now           time.Time
}

// BuildResponse constructs the unsigned v3 response object for q.
func BuildResponse(q Query, p BuildParams) (Response, error) {
	range4, err := netip.ParsePrefix(p.Range4)
	if err != nil {
		return Response{}, fmt.Errorf("invalid configured range4 %q: %w", p.Range4, err)
	}

	mtu := q.V6MTU
	if mtu > maxMTU {
		mtu = maxMTU
	}

	return Response{
		Nonce:                 q.Nonce,
		Time:                  p.Now.UTC().Unix(),
		ID:                    string(q.Pubkey),
		MTU:                   mtu,
		Address6:              FirstHost(p.Range6).String(),
		Concentrators:         p.Concentrators,
		SelectedConcentrators: "1",
		Range6:                p.Range6.String(),
		XlatRange6:            p.XlatRange6.String(),
		Range4:                p.Range4,
		Address4:              FirstHost(range4).String(),
		WGKeepalive:           25,
		Retry:                 120,
	}, nil
}

// Encode renders resp as UTF-8 JSON followed by a single newline, the
// exact byte sequence the Ed25519 signature is computed over.
func Encode(resp Response) ([]byte, error) {
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(body, '\n'), nil
}

// PublishPayload is the JSON published to parker/wireguard/all.
type PublishPayload struct {
	PublicKey string  `json:"PublicKey"`
	Range6    string  `json:"Range6"`
	Keepalive *string `json:"Keepalive"`
}

// NewPublishPayload builds the parker/wireguard/all announcement for a
// freshly (re)assigned range6.
func NewPublishPayload(pubkey model.PublicKey, range6 netip.Prefix) PublishPayload {
	return PublishPayload{PublicKey: string(pubkey), Range6: range6.String(), Keepalive: nil}
}
