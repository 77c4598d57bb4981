// Package brokerapp assembles the broker's dependency graph from a loaded
// Config into a single Runtime value: no process-wide singletons beyond
// main, every dependency passed explicitly.
package brokerapp

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/gin-gonic/gin"

	"wgkex/internal/allowlist"
	"wgkex/internal/balancer"
	"wgkex/internal/blacklist"
	"wgkex/internal/bus"
	"wgkex/internal/config"
	"wgkex/internal/fleet"
	"wgkex/internal/httpapi"
	"wgkex/internal/ipam"
	"wgkex/internal/ipam/jsonfile"
	"wgkex/internal/ipam/netbox"
	"wgkex/internal/model"
	"wgkex/internal/signer"
)

// Runtime holds every live dependency the broker process owns. main() is
// responsible for starting r.Router and calling r.Close on shutdown.
type Runtime struct {
	Registry *fleet.Registry
	Bus      *bus.BrokerClient
	Router   *gin.Engine

	allowlist *allowlist.Manager
	blacklist *blacklist.Blacklist
}

// Build wires up every broker dependency from cfg: the fleet registry, the
// pub/sub client, the allow/deny-list managers, the optional Parker IPAM
// backend and signer, the load balancer, and finally the HTTP router.
func Build(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	registry := fleet.New()

	busClient, err := bus.NewBrokerClient(cfg.MQTT, registry, cfg.DomainTable)
	if err != nil {
		return nil, fmt.Errorf("connecting to mqtt broker: %w", err)
	}

	var allowMgr *allowlist.Manager
	if cfg.Allowlist.Path != "" {
		reload := time.Duration(cfg.Allowlist.ReloadIntervalS) * time.Second
		allowMgr, err = allowlist.New(cfg.Allowlist.Path, reload)
		if err != nil {
			busClient.Close()
			return nil, fmt.Errorf("loading allow-list: %w", err)
		}
	}

	var denyList *blacklist.Blacklist
	if cfg.Blacklist.Path != "" {
		denyList, err = blacklist.New(cfg.Blacklist.Path, true)
		if err != nil {
			busClient.Close()
			return nil, fmt.Errorf("loading deny-list: %w", err)
		}
	}

	weights := balancer.WeightTable{}
	for name, w := range cfg.Workers {
		weights[model.WorkerId(name)] = balancer.Weight{Weight: w.Weight, PoP: w.PoP}
	}
	selector := balancer.New(registry, weights)

	var (
		allocator  ipam.Allocator
		signerImpl *signer.Signer
	)
	if cfg.Parker.Enabled {
		signerImpl, err = signer.Load(cfg.BrokerSigningKey)
		if err != nil {
			busClient.Close()
			return nil, fmt.Errorf("loading broker signing key: %w", err)
		}

		allocator, err = buildAllocator(ctx, cfg)
		if err != nil {
			busClient.Close()
			return nil, err
		}
	}

	h := &httpapi.Handler{
		Domains:   cfg.DomainTable,
		Allowlist: allowMgr,
		Blacklist: denyList,
		Registry:  registry,
		Selector:  selector,
		Bus:       busClient,
		IPAM:      allocator,
		Signer:    signerImpl,
		Parker: httpapi.ParkerConfig{
			Enabled: cfg.Parker.Enabled,
			Range4:  cfg.Parker.Range4,
		},
	}

	return &Runtime{
		Registry:  registry,
		Bus:       busClient,
		Router:    httpapi.NewRouter(h),
		allowlist: allowMgr,
		blacklist: denyList,
	}, nil
}

func buildAllocator(ctx context.Context, cfg *config.Config) (ipam.Allocator, error) {
	switch cfg.Parker.IPAM {
	case "netbox":
		return netbox.New(ctx, netbox.Config{
			BaseURL:      cfg.Parker.Netbox.BaseURL,
			Token:        cfg.Parker.Netbox.Token,
			ParentCIDR:   cfg.Parker.Netbox.ParentCIDR,
			CreatedByID:  cfg.Parker.Netbox.CreatedByID,
			PrefixLength: cfg.Parker.Prefixes.IPv6.Length,
			HTTPClient:   http.DefaultClient,
		})
	default:
		parent, err := netip.ParsePrefix(cfg.Parker.JSON.ParentPrefix)
		if err != nil {
			return nil, fmt.Errorf("parsing parker.json.parent_prefix: %w", err)
		}
		return jsonfile.New(cfg.Parker.JSON.Path, parent, cfg.Parker.Prefixes.IPv6.Length)
	}
}

// Close releases every background resource the runtime started.
func (r *Runtime) Close() {
	r.Bus.Close()
	if r.allowlist != nil {
		r.allowlist.Stop()
	}
	if r.blacklist != nil {
		r.blacklist.Stop()
	}
}
