package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wgkex/internal/domain"
	"wgkex/internal/logger"
)

// v2Endpoint mirrors the v2 response's Endpoint object.
type v2Endpoint struct {
	Address    string   `json:"Address"`
	Port       int      `json:"Port"`
	AllowedIPs []string `json:"AllowedIPs"`
	PublicKey  string   `json:"PublicKey"`
}

type v2Response struct {
	Endpoint v2Endpoint `json:"Endpoint"`
}

// PostV2KeyExchange publishes the v1 message, then selects the
// least-loaded online worker and returns its connection endpoint.
func (h *Handler) PostV2KeyExchange(c *gin.Context) {
	var req keyExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, domain.NewErrorResponse("malformed request body"))
		return
	}

	key, dom, err := h.validate(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, domain.NewErrorResponse(err.Error()))
		return
	}

	if err := h.Bus.PublishPeerInstall(string(dom), string(key)); err != nil {
		logger.L().Error("publishing peer-install message", zap.String("domain", string(dom)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, domain.NewErrorResponse(domain.GenericInternalMessage))
		return
	}

	worker, _, _, ok := h.Selector.SelectBestWorker(dom)
	if !ok {
		c.JSON(http.StatusBadRequest, domain.NewErrorResponse("no gateway online for this domain"))
		return
	}

	ep, ok := h.Registry.Endpoint(worker, dom)
	if !ok {
		logger.L().Error("selected worker has no published endpoint", zap.String("worker", string(worker)), zap.String("domain", string(dom)))
		c.JSON(http.StatusInternalServerError, domain.NewErrorResponse(domain.GenericInternalMessage))
		return
	}

	// Optimistically reflect the selection before the bus confirms it:
	// after selection, the broker bumps connected_peers[domain] by +1
	// without waiting for the worker's own metrics publish.
	h.Registry.BumpConnectedPeers(worker, dom, 1)

	c.JSON(http.StatusOK, v2Response{Endpoint: v2Endpoint{
		Address:    ep.ExternalAddress,
		Port:       ep.Port,
		AllowedIPs: []string{ep.LinkAddress},
		PublicKey:  ep.PublicKey,
	}})
}
