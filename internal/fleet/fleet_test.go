package fleet

import (
	"sync"
	"testing"

	"wgkex/internal/model"
)

func TestRegistry_OnlineAndMetrics(t *testing.T) {
	r := New()
	worker := model.WorkerId("gw01")
	domain := model.Domain("ffmuc_welt")

	if r.IsOnline(worker, domain) {
		t.Fatal("unregistered worker must not be online")
	}

	r.SetOnline(worker)
	r.UpdateMetric(worker, domain, "connected_peers", 20)

	if !r.IsOnline(worker, domain) {
		t.Fatal("expected worker to be online with non-negative connected_peers")
	}
	if got := r.PeerCount(worker); got != 20 {
		t.Errorf("expected peer count 20, got %d", got)
	}
	if got := r.TotalPeerCount(); got != 20 {
		t.Errorf("expected total peer count 20, got %d", got)
	}
}

func TestRegistry_NegativeConnectedPeersMeansOffline(t *testing.T) {
	r := New()
	worker := model.WorkerId("gw01")
	domain := model.Domain("ffmuc_welt")

	r.SetOnline(worker)
	r.UpdateMetric(worker, domain, "connected_peers", -1)

	if r.IsOnline(worker, domain) {
		t.Fatal("expected negative connected_peers to mark worker offline for that domain")
	}
	if r.IsOnline(worker, "") != true {
		t.Fatal("expected the worker-level online flag to remain true")
	}
}

func TestRegistry_PeerCountIgnoresNegatives(t *testing.T) {
	r := New()
	worker := model.WorkerId("gw01")
	r.UpdateMetric(worker, "ffmuc_welt", "connected_peers", 10)
	r.UpdateMetric(worker, "ffmuc_nord", "connected_peers", -1)

	if got := r.PeerCount(worker); got != 10 {
		t.Errorf("expected peer count 10 (negatives ignored), got %d", got)
	}
}

func TestRegistry_BumpConnectedPeers(t *testing.T) {
	r := New()
	worker := model.WorkerId("gw01")
	domain := model.Domain("ffmuc_welt")
	r.UpdateMetric(worker, domain, "connected_peers", 19)
	r.BumpConnectedPeers(worker, domain, 1)
	if got := r.PeerCount(worker); got != 20 {
		t.Errorf("expected peer count 20 after bump, got %d", got)
	}
}

func TestRegistry_Endpoint(t *testing.T) {
	r := New()
	worker := model.WorkerId("gw01")
	domain := model.Domain("ffmuc_welt")

	if _, ok := r.Endpoint(worker, domain); ok {
		t.Fatal("expected no endpoint before PutEndpoint")
	}
	ep := WorkerEndpoint{ExternalAddress: "203.0.113.1", Port: 51820, PublicKey: "k", LinkAddress: "fe80::1"}
	r.PutEndpoint(worker, domain, ep)
	got, ok := r.Endpoint(worker, domain)
	if !ok || got != ep {
		t.Fatalf("expected endpoint %+v, got %+v (ok=%v)", ep, got, ok)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	worker := model.WorkerId("gw01")
	domain := model.Domain("ffmuc_welt")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.BumpConnectedPeers(worker, domain, 1)
		}()
		go func() {
			defer wg.Done()
			_ = r.PeerCount(worker)
			_ = r.IsOnline(worker, domain)
		}()
	}
	wg.Wait()
	if got := r.PeerCount(worker); got != 100 {
		t.Errorf("expected peer count 100 after concurrent bumps, got %d", got)
	}
}
