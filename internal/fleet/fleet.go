// Package fleet holds the broker's live view of the worker fleet: per-worker
// online status, per-domain peer metrics, and published endpoint
// descriptors. The registry is fed by bus message handlers
// and read by HTTP handlers concurrently, so every accessor takes its own
// lock rather than exposing the underlying maps.
package fleet

import (
	"sync"

	"wgkex/internal/model"
)

// WorkerEndpoint is the connection descriptor a worker publishes once per
// domain on connect.
type WorkerEndpoint struct {
	ExternalAddress string `json:"external_address"`
	Port            int    `json:"port"`
	PublicKey       string `json:"public_key"`
	LinkAddress     string `json:"link_address"`
}

// WorkerMetrics is one worker's online flag and per-domain metric set.
type WorkerMetrics struct {
	mu         sync.RWMutex
	online     bool
	domainData map[model.Domain]map[string]int64
}

func newWorkerMetrics() *WorkerMetrics {
	return &WorkerMetrics{domainData: map[model.Domain]map[string]int64{}}
}

// connectedPeersMetric is the canonical metric name tracked per domain.
const connectedPeersMetric = "connected_peers"

// IsOnline reports liveness. With a domain given, it additionally requires
// that domain's connected_peers metric to be non-negative: a negative
// count is a reliable self-eviction signal even if the worker's status
// flag has not yet caught up.
func (m *WorkerMetrics) IsOnline(domain model.Domain) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if domain == "" {
		return m.online
	}
	return m.online && m.domainData[domain][connectedPeersMetric] >= 0
}

// PeerCount returns Σ max(0, connected_peers[d]) over all domains.
func (m *WorkerMetrics) PeerCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, metrics := range m.domainData {
		if v := metrics[connectedPeersMetric]; v > 0 {
			total += v
		}
	}
	return total
}

func (m *WorkerMetrics) setMetric(domain model.Domain, name string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domainData[domain]
	if !ok {
		d = map[string]int64{}
		m.domainData[domain] = d
	}
	d[name] = value
}

func (m *WorkerMetrics) bumpMetric(domain model.Domain, name string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domainData[domain]
	if !ok {
		d = map[string]int64{}
		m.domainData[domain] = d
	}
	d[name] += delta
}

func (m *WorkerMetrics) setOnline(v bool) {
	m.mu.Lock()
	m.online = v
	m.mu.Unlock()
}

type endpointKey struct {
	worker model.WorkerId
	domain model.Domain
}

// Registry is the broker's concurrency-safe worker fleet map.
type Registry struct {
	mu        sync.RWMutex
	workers   map[model.WorkerId]*WorkerMetrics
	endpoints map[endpointKey]WorkerEndpoint
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		workers:   map[model.WorkerId]*WorkerMetrics{},
		endpoints: map[endpointKey]WorkerEndpoint{},
	}
}

func (r *Registry) metricsFor(worker model.WorkerId) *WorkerMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	wm, ok := r.workers[worker]
	if !ok {
		wm = newWorkerMetrics()
		r.workers[worker] = wm
	}
	return wm
}

// UpdateMetric records a metric value published by a worker for a domain.
func (r *Registry) UpdateMetric(worker model.WorkerId, domain model.Domain, name string, value int64) {
	r.metricsFor(worker).setMetric(domain, name, value)
}

// BumpConnectedPeers applies an advisory local delta to a worker's
// connected_peers metric for domain, used to optimistically reflect a
// just-made selection before the bus confirms it.
func (r *Registry) BumpConnectedPeers(worker model.WorkerId, domain model.Domain, delta int64) {
	r.metricsFor(worker).bumpMetric(domain, connectedPeersMetric, delta)
}

// SetOnline marks a worker as live.
func (r *Registry) SetOnline(worker model.WorkerId) {
	r.metricsFor(worker).setOnline(true)
}

// SetOffline marks a worker as no longer live.
func (r *Registry) SetOffline(worker model.WorkerId) {
	r.metricsFor(worker).setOnline(false)
}

// IsOnline reports whether worker is online, optionally scoped to domain.
func (r *Registry) IsOnline(worker model.WorkerId, domain model.Domain) bool {
	r.mu.RLock()
	wm, ok := r.workers[worker]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return wm.IsOnline(domain)
}

// PeerCount returns a worker's total peer count across domains.
func (r *Registry) PeerCount(worker model.WorkerId) int64 {
	r.mu.RLock()
	wm, ok := r.workers[worker]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return wm.PeerCount()
}

// TotalPeerCount sums PeerCount across the whole fleet.
func (r *Registry) TotalPeerCount() int64 {
	r.mu.RLock()
	workers := make([]*WorkerMetrics, 0, len(r.workers))
	for _, wm := range r.workers {
		workers = append(workers, wm)
	}
	r.mu.RUnlock()

	var total int64
	for _, wm := range workers {
		total += wm.PeerCount()
	}
	return total
}

// PutEndpoint records a worker's published endpoint descriptor for domain.
func (r *Registry) PutEndpoint(worker model.WorkerId, domain model.Domain, ep WorkerEndpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[endpointKey{worker, domain}] = ep
}

// Endpoint returns a worker's endpoint descriptor for domain, if known.
func (r *Registry) Endpoint(worker model.WorkerId, domain model.Domain) (WorkerEndpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[endpointKey{worker, domain}]
	return ep, ok
}

// Workers returns the ids of every worker currently known to the
// registry (online or not); callers filter by IsOnline/domain as needed.
func (r *Registry) Workers() []model.WorkerId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.WorkerId, 0, len(r.workers))
	for w := range r.workers {
		out = append(out, w)
	}
	return out
}
