package model

import (
	"crypto/md5" //nolint:gosec // fingerprinting, not a security boundary; matches original_source derivation
	"fmt"
	"net/netip"
)

// MAC2EUI64 converts a 6-byte MAC address into its modified EUI-64 form.
// Ground truth: original_source/wgkex/common/utils.go's mac2eui64.
func MAC2EUI64(mac [6]byte) [8]byte {
	var eui [8]byte
	eui[0] = mac[0] | 0x02 // universal/local bit, matches the Python's `| 2`
	eui[1] = mac[1]
	eui[2] = mac[2]
	eui[3] = 0xff
	eui[4] = 0xfe
	eui[5] = mac[3]
	eui[6] = mac[4]
	eui[7] = mac[5]
	return eui
}

// LLAddr derives the deterministic IPv6 link-local address for a public
// key: lladdr(pubkey) = mac2eui64("02:"+first-5-bytes(md5(pubkey||"\n")), fe80::/10).
// The MD5 digest is a pure fingerprinting hash here, not a security
// boundary — it only has to be a stable, collision-resistant-enough mapping
// from key to a 5-byte MAC suffix, derived byte for byte so link-local
// addresses remain stable across rewrites.
func LLAddr(pubkey PublicKey) netip.Addr {
	sum := md5.Sum([]byte(string(pubkey) + "\n")) //nolint:gosec
	var mac [6]byte
	mac[0] = 0x02
	copy(mac[1:], sum[:5])

	eui := MAC2EUI64(mac)

	var addrBytes [16]byte
	addrBytes[0] = 0xfe
	addrBytes[1] = 0x80
	copy(addrBytes[8:], eui[:])

	return netip.AddrFrom16(addrBytes)
}

// LLAddrPrefix returns the /128 route/peer-allowed-ip prefix for pubkey.
func LLAddrPrefix(pubkey PublicKey) netip.Prefix {
	return netip.PrefixFrom(LLAddr(pubkey), 128)
}

// FormatMAC renders a 6-byte MAC in the conventional colon-separated form.
func FormatMAC(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}
