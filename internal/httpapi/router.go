package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wgkex/internal/logger"
)

const indexPage = "<pre>This is the wgkex-broker HTTP endpoint.</pre>"

// NewRouter builds the broker's gin engine: recovery, request logging,
// permissive CORS, health probes, and the three key-exchange endpoints.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLogger(logger.L()))
	r.Use(cors.Default())

	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, indexPage) })
	r.GET("/healthz", HealthLiveness)
	r.GET("/readyz", h.HealthReadiness)

	r.POST("/api/v1/wg/key/exchange", h.PostV1KeyExchange)
	r.POST("/api/v2/wg/key/exchange", h.PostV2KeyExchange)
	r.GET("/api/v3/wg/key/exchange", h.GetV3KeyExchange)

	return r
}

func zapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
