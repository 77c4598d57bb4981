package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wgkex/internal/domain"
	"wgkex/internal/fleet"
	"wgkex/internal/logger"
	"wgkex/internal/model"
	"wgkex/internal/parker"
)

// GetV3KeyExchange implements the signed Parker prefix endpoint: allocate
// a prefix, split it, announce it, build and sign the response, and
// write the concatenated bytes back as text/plain.
func (h *Handler) GetV3KeyExchange(c *gin.Context) {
	if !h.Parker.Enabled || h.IPAM == nil || h.Signer == nil {
		c.JSON(http.StatusInternalServerError, domain.NewErrorResponse("parker is not enabled on this broker"))
		return
	}

	v6mtu, _ := strconv.Atoi(c.Query("v6mtu"))
	q, err := parker.NewQuery(v6mtu, c.Query("pubkey"), c.Query("nonce"))
	if err != nil {
		c.JSON(http.StatusBadRequest, domain.NewErrorResponse("not a valid WireGuard public key"))
		return
	}

	ctx := c.Request.Context()
	allocated, err := h.IPAM.GetOrAllocatePrefix(ctx, string(q.Pubkey))
	if err != nil {
		logger.L().Error("allocating ipv6 prefix", zap.Error(err))
		c.JSON(http.StatusInternalServerError, domain.NewErrorResponse(domain.GenericInternalMessage))
		return
	}

	range6, xlatRange6, err := parker.SplitPrefix(allocated)
	if err != nil {
		logger.L().Error("splitting allocated prefix", zap.Error(err))
		c.JSON(http.StatusInternalServerError, domain.NewErrorResponse(domain.GenericInternalMessage))
		return
	}

	announcement, err := json.Marshal(parker.NewPublishPayload(q.Pubkey, range6))
	if err != nil {
		c.JSON(http.StatusInternalServerError, domain.NewErrorResponse(domain.GenericInternalMessage))
		return
	}
	if err := h.Bus.PublishParkerAnnouncement(announcement); err != nil {
		logger.L().Error("publishing parker announcement", zap.Error(err))
		c.JSON(http.StatusInternalServerError, domain.NewErrorResponse(domain.GenericInternalMessage))
		return
	}

	resp, err := parker.BuildResponse(q, parker.BuildParams{
		Range6:        range6,
		XlatRange6:    xlatRange6,
		Range4:        h.Parker.Range4,
		Concentrators: h.concentrators(),
		Now:           h.now(),
	})
	if err != nil {
		logger.L().Error("building parker response", zap.Error(err))
		c.JSON(http.StatusInternalServerError, domain.NewErrorResponse(domain.GenericInternalMessage))
		return
	}

	encoded, err := parker.Encode(resp)
	if err != nil {
		c.JSON(http.StatusInternalServerError, domain.NewErrorResponse(domain.GenericInternalMessage))
		return
	}

	signature := h.Signer.Sign(encoded)
	c.Data(http.StatusOK, "text/plain", append(encoded, []byte(signature)...))
}

// concentrators picks the least-loaded online worker across the whole
// fleet (v3 requests carry no domain, unlike v1/v2) and exposes one of its
// published endpoints as the single Parker concentrator: the first one
// found while walking the configured domains, whose order is not defined.
// This resolves
// an ambiguity left unspecified by the domain-less v3 selection
// requirement; see DESIGN.md.
func (h *Handler) concentrators() []parker.Concentrator {
	var (
		best    model.WorkerId
		bestHas bool
		bestN   int64
	)
	for _, w := range h.Registry.Workers() {
		if !h.Registry.IsOnline(w, "") {
			continue
		}
		n := h.Registry.PeerCount(w)
		if !bestHas || n < bestN || (n == bestN && w < best) {
			best, bestHas, bestN = w, true, n
		}
	}
	if !bestHas {
		return nil
	}

	var ep fleet.WorkerEndpoint
	found := false
	for _, d := range h.Domains.Domains() {
		if e, ok := h.Registry.Endpoint(best, d); ok {
			ep, found = e, true
			break
		}
	}
	if !found {
		return nil
	}

	return []parker.Concentrator{{
		Address4: "",
		Address6: ep.LinkAddress,
		Endpoint: ep.ExternalAddress,
		PubKey:   ep.PublicKey,
		ID:       1,
	}}
}
