package receiver

import (
	"net/http"
	"time"

	"github.com/danmuck/handstream/internal/observability"
	"github.com/gin-gonic/gin"
)

const httpServiceName = "receiver"

// httpHandler serves read-only status and the Prometheus registry.
func (s *Service) httpHandler() http.Handler {
	log := s.log.With().Str("surface", "http").Logger()
	observability.ConfigureGin(log)
	observability.RegisterMetrics()

	started := time.Now()
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(log, "/healthz", "/metrics"))
	router.Use(observability.RequestMetricsMiddleware(httpServiceName))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(started).Round(time.Second).String(),
		})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Status())
	})
	router.GET("/recordings", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.ListRecordings())
	})
	router.GET("/metrics", gin.WrapH(observability.Handler()))
	return router
}
