package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zaihebian/LeadGenNewVersion/internal/handler"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	authHandler *handler.AuthHandler,
	leadHandler *handler.LeadHandler,
	jobsHandler *handler.JobsHandler,
	adminHandler *handler.AdminHandler,
	jwtSecret string,
	ipLimiter *IPLimiter,
	db *pgxpool.Pool,
) *Router {
	r := gin.Default()
	r.Use(TraceMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(RateLimitMiddleware(ipLimiter))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	r.POST("/login", authHandler.Login)

	// Protected
	api := r.Group("/")
	api.Use(AuthMiddleware(jwtSecret))
	{
		api.POST("/campaigns", leadHandler.CreateCampaign)
		api.GET("/campaigns", leadHandler.ListCampaigns)
		api.POST("/leads", leadHandler.IngestLead)
		api.GET("/leads/:id", leadHandler.GetLeadStatus)
		api.POST("/leads/:id/send", leadHandler.SendNow)
		api.GET("/stats", leadHandler.GetStats)
		api.POST("/jobs/:name/run", jobsHandler.RunJob)
		api.POST("/admin/outbox/replay", adminHandler.ReplayOutboxEvent)
		api.POST("/admin/outbox/replay-failed", adminHandler.ReplayFailedEvents)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
