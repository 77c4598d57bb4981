package netlink

import (
	"time"

	"wgkex/internal/model"
)

// evaluateConnected counts handshakes within window — a peer with a zero
// (never handshaked) time is never counted as connected.
func evaluateConnected(handshakes map[model.PublicKey]time.Time, now time.Time, window time.Duration) int {
	count := 0
	for _, ts := range handshakes {
		if ts.IsZero() {
			continue
		}
		if now.Sub(ts) <= window {
			count++
		}
	}
	return count
}

// evaluateStale returns the keys whose handshake is older than maxAge, or
// who have never handshaked at all.
func evaluateStale(handshakes map[model.PublicKey]time.Time, now time.Time, maxAge time.Duration) []model.PublicKey {
	var stale []model.PublicKey
	for key, ts := range handshakes {
		if ts.IsZero() || now.Sub(ts) > maxAge {
			stale = append(stale, key)
		}
	}
	return stale
}
