package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/MailScheduler/docs"
	"github.com/Mutter0815/MailScheduler/internal/campaign"
	"github.com/Mutter0815/MailScheduler/pkg/logx"
	"github.com/Mutter0815/MailScheduler/pkg/metrics"
)

func NewHTTPServer(addr string, h *Handlers, corsOrigins []string) *http.Server {
	r := gin.New()
	r.Use(ginzap.RecoveryWithZap(logx.L().Desugar(), true), Observability())
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  corsOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-ID"},
			ExposeHeaders: []string{"X-Request-ID"},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/docs", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", docs.CampaignSwaggerHTML)
	})
	r.GET("/docs/campaign-api/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", docs.CampaignOpenAPI)
	})

	api := r.Group("/api/emails")
	api.POST("/schedule", h.Schedule)
	api.GET("/scheduled", h.listByStatus(campaign.StatusPending))
	api.GET("/sent", h.listByStatus(campaign.StatusSent))
	api.GET("/failed", h.listByStatus(campaign.StatusFailed))
	api.GET("/stats", h.Stats)
	api.GET("/:id", h.GetEmail)

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
