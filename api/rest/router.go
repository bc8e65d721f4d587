package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questkeeper/config"
	"github.com/kasuganosora/questkeeper/game/quest"
	"github.com/kasuganosora/questkeeper/metrics"
	mw "github.com/kasuganosora/questkeeper/middleware"
	"github.com/kasuganosora/questkeeper/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NewRouter builds the HTTP surface of the service. ctx bounds the background
// work of the middleware.
func NewRouter(ctx context.Context, cfg *config.Config, svc *quest.Service, sched *scheduler.Scheduler,
	m *metrics.Metrics, logger *zap.Logger) (*gin.Engine, error) {
	adminNets, err := mw.AdminNetworks(cfg.Security.AdminNetworks)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger, m), mw.Recovery(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	api := r.Group("/api")
	if cfg.Security.RateLimitRPS > 0 {
		api.Use(mw.RateLimit(ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))
	}
	NewAccountHandler(svc, logger).Register(api)

	admin := api.Group("/admin")
	admin.Use(adminNets, mw.AdminKey(cfg.Server.AdminKey))
	NewAdminHandler(svc, sched, logger).Register(admin)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r, nil
}
