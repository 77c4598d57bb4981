package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wgkex/internal/domain"
	"wgkex/internal/logger"
)

type v1Response struct {
	Message string `json:"Message"`
}

// PostV1KeyExchange implements the fire-and-forget v1 endpoint: validate,
// publish, acknowledge.
func (h *Handler) PostV1KeyExchange(c *gin.Context) {
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

	c.JSON(http.StatusOK, v1Response{Message: "OK"})
}
