package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wgkex/internal/domain"
)

// HealthLiveness reports that the HTTP server itself is up.
func HealthLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, domain.HealthResponse{Status: "ok"})
}

// HealthReadiness reports whether the broker has at least one online
// worker to hand out — the closest broker-side equivalent of a "can we
// reach the thing we depend on" probe (the broker has no local kernel
// interface of its own to check).
func (h *Handler) HealthReadiness(c *gin.Context) {
	for _, w := range h.Registry.Workers() {
		if h.Registry.IsOnline(w, "") {
			c.JSON(http.StatusOK, domain.ReadinessResponse{Status: "ready"})
			return
		}
	}
	c.JSON(http.StatusServiceUnavailable, domain.ReadinessResponse{
		Status: "not ready",
		Error:  "no worker is currently online",
	})
}
