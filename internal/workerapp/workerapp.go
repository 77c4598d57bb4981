// Package workerapp assembles the worker process's dependency graph and
// supervised task set from a loaded Config: one bus client, one netlink
// engine, one peer-install consumer, and one metrics/stale-flush pair per
// configured domain, all stopped by a single Close call signaling a
// shared exit channel.
package workerapp

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"wgkex/internal/bus"
	"wgkex/internal/config"
	"wgkex/internal/fleet"
	"wgkex/internal/logger"
	"wgkex/internal/model"
	"wgkex/internal/netlink"
	"wgkex/internal/queue"
)

// Runtime holds every live dependency and background goroutine the worker
// process owns. main() calls Run to start the supervised tasks and Close
// to stop them and report offline.
type Runtime struct {
	Bus    *bus.WorkerClient
	Engine netlink.Engine

	self     string
	domains  []model.Domain
	cfg      config.WorkerRuntime
	installQ *queue.UniqueQueue

	stop chan struct{}
	wg   sync.WaitGroup
}

// Build connects the bus client, resolves this worker's identity, and
// wires the netlink engine. It does not start the background loops; call
// Run for that.
func Build(cfg *config.Config) (*Runtime, error) {
	self := cfg.Worker.ExternalName
	if self == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		self = host
	}

	domains := cfg.DomainTable.Domains()
	engine := netlink.NewEngine(cfg.DomainTable)
	installQ := queue.New()

	busClient, err := bus.NewWorkerClient(cfg.MQTT, self, domains, installQ)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		Bus:      busClient,
		Engine:   engine,
		self:     self,
		domains:  domains,
		cfg:      cfg.Worker,
		installQ: installQ,
		stop:     make(chan struct{}),
	}
	busClient.SetEndpointSource(r.endpointDescriptor)
	return r, nil
}

func (r *Runtime) endpointDescriptor(domain model.Domain) (any, error) {
	data, err := r.Engine.DeviceData(context.Background(), domain)
	if err != nil {
		return nil, err
	}
	return fleet.WorkerEndpoint{
		ExternalAddress: r.self,
		Port:            data.Port,
		PublicKey:       data.PublicKey,
		LinkAddress:     data.LinkAddress,
	}, nil
}

// Run starts the peer-install consumer and, for every configured domain,
// the periodic metrics loop and stale-peer flusher. It returns
// immediately; the loops run until Close is called.
func (r *Runtime) Run() {
	r.wg.Add(1)
	go r.installLoop()

	for _, d := range r.domains {
		domain := d
		r.wg.Add(2)
		go r.metricsLoop(domain)
		go r.staleFlushLoop(domain)
	}
}

func (r *Runtime) installLoop() {
	defer r.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stop
		cancel()
	}()

	for {
		item, ok := r.installQ.Take(ctx)
		if !ok {
			return
		}
		result := r.Engine.SyncPeer(ctx, netlink.WireGuardClient{
			PublicKey: item.Pubkey,
			Domain:    item.Domain,
		})
		if result.AnyError() {
			logger.L().Warn("peer install finished with errors",
				zap.String("domain", string(item.Domain)),
				zap.Error(firstErr(result)),
			)
		}
	}
}

func firstErr(r netlink.OpResult) error {
	if r.PeerErr != nil {
		return r.PeerErr
	}
	if r.RouteErr != nil {
		return r.RouteErr
	}
	return r.FDBErr
}

func (r *Runtime) metricsLoop(domain model.Domain) {
	defer r.wg.Done()
	interval := time.Duration(r.cfg.MetricsIntervalS) * time.Second
	connectedWindow := time.Duration(r.cfg.ConnectedHandshakeS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			if err := r.Bus.PublishConnectedPeers(domain, -1); err != nil {
				logger.L().Error("publishing self-eviction metric", zap.String("domain", string(domain)), zap.Error(err))
			}
			return
		case <-ticker.C:
			count, err := r.Engine.ConnectedPeerCount(context.Background(), domain, connectedWindow)
			if err != nil {
				logger.L().Error("reading connected peer count", zap.String("domain", string(domain)), zap.Error(err))
				continue
			}
			if err := r.Bus.PublishConnectedPeers(domain, int64(count)); err != nil {
				logger.L().Error("publishing connected peer count", zap.String("domain", string(domain)), zap.Error(err))
			}
		}
	}
}

func (r *Runtime) staleFlushLoop(domain model.Domain) {
	defer r.wg.Done()
	interval := time.Duration(r.cfg.CleanupIntervalS) * time.Second
	maxAge := time.Duration(r.cfg.StaleHandshakeS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.flushOnce(domain, maxAge)
		}
	}
}

func (r *Runtime) flushOnce(domain model.Domain, maxAge time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.L().Error("stale-peer flush panicked, continuing", zap.String("domain", string(domain)), zap.Any("recover", rec))
		}
	}()

	ctx := context.Background()
	stale, err := r.Engine.StalePeers(ctx, domain, maxAge)
	if err != nil {
		logger.L().Error("listing stale peers", zap.String("domain", string(domain)), zap.Error(err))
		return
	}
	for _, pubkey := range stale {
		result := r.Engine.SyncPeer(ctx, netlink.WireGuardClient{
			PublicKey: pubkey,
			Domain:    domain,
			Remove:    true,
		})
		if result.AnyError() {
			logger.L().Warn("removing stale peer finished with errors",
				zap.String("domain", string(domain)),
				zap.String("pubkey", string(pubkey)),
				zap.Error(firstErr(result)),
			)
		}
	}
}

// Close signals every background loop to stop, waits for them, and
// publishes offline status before disconnecting.
func (r *Runtime) Close() {
	close(r.stop)
	r.wg.Wait()
	r.Bus.Shutdown()
}
