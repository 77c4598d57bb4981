package netlink

import (
	"testing"
	"time"

	"wgkex/internal/model"
)

func TestEvaluateConnected_SkipsNeverHandshaked(t *testing.T) {
	now := time.Now()
	handshakes := map[model.PublicKey]time.Time{
		"recent": now.Add(-time.Minute),
		"old":    now.Add(-time.Hour),
		"never":  {},
	}
	got := evaluateConnected(handshakes, now, 3*time.Minute)
	if got != 1 {
		t.Fatalf("expected 1 connected peer, got %d", got)
	}
}

func TestEvaluateConnected_WindowBoundaryInclusive(t *testing.T) {
	now := time.Now()
	handshakes := map[model.PublicKey]time.Time{
		"exact": now.Add(-3 * time.Minute),
	}
	if got := evaluateConnected(handshakes, now, 3*time.Minute); got != 1 {
		t.Fatalf("expected boundary handshake to count as connected, got %d", got)
	}
}

func TestEvaluateStale_NeverHandshakedIsStale(t *testing.T) {
	now := time.Now()
	handshakes := map[model.PublicKey]time.Time{
		"never": {},
	}
	stale := evaluateStale(handshakes, now, 3*time.Hour)
	if len(stale) != 1 || stale[0] != "never" {
		t.Fatalf("expected never-handshaked peer to be stale, got %v", stale)
	}
}

func TestEvaluateStale_RecentIsNotStale(t *testing.T) {
	now := time.Now()
	handshakes := map[model.PublicKey]time.Time{
		"recent": now.Add(-time.Minute),
	}
	if stale := evaluateStale(handshakes, now, 3*time.Hour); len(stale) != 0 {
		t.Fatalf("expected no stale peers, got %v", stale)
	}
}

func TestEvaluateStale_OlderThanMaxAge(t *testing.T) {
	now := time.Now()
	handshakes := map[model.PublicKey]time.Time{
		"stale":   now.Add(-4 * time.Hour),
		"healthy": now.Add(-2 * time.Hour),
	}
	stale := evaluateStale(handshakes, now, 3*time.Hour)
	if len(stale) != 1 || stale[0] != "stale" {
		t.Fatalf("expected only the 4h-old peer to be stale, got %v", stale)
	}
}
